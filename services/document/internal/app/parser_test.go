package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	raw := "  Hello\x00 \t\n world  \n"
	got := normalizeText(raw)
	want := "Hello world"
	if got != want {
		t.Fatalf("normalizeText() = %q, want %q", got, want)
	}
}

func TestChunkTextWindows(t *testing.T) {
	// Windows start at 0,2,4,6; the window reaching the end absorbs the
	// tail, so no extra overlap-only chunk follows it.
	chunks := chunkText(strings.Repeat("a", 10), 4, 2)
	want := []string{"aaaa", "aaaa", "aaaa", "aaaa"}
	if len(chunks) != len(want) {
		t.Fatalf("chunkText() returned %d chunks, want %d: %v", len(chunks), len(want), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestChunkTextEmitsUncoveredTail(t *testing.T) {
	// 11 runes, windows at 0,2,4,6 end before the tail; the final window
	// at 8 carries the remaining three runes.
	chunks := chunkText(strings.Repeat("a", 11), 4, 2)
	if len(chunks) != 5 {
		t.Fatalf("chunkText() returned %d chunks, want 5: %v", len(chunks), chunks)
	}
	if chunks[4] != "aaa" {
		t.Fatalf("tail chunk = %q, want %q", chunks[4], "aaa")
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total < 11 {
		t.Fatalf("chunks cover %d runes, want at least the full input", total)
	}
}

func TestChunkTextHandlesRunes(t *testing.T) {
	text := "你好世界你好世界"
	chunks := chunkText(text, 4, 0)
	if len(chunks) != 2 {
		t.Fatalf("chunkText() returned %d chunks, want 2: %v", len(chunks), chunks)
	}
	if chunks[0] != "你好世界" {
		t.Fatalf("chunk 0 = %q, want %q", chunks[0], "你好世界")
	}
}

func TestChunkTextEmptyInput(t *testing.T) {
	if got := chunkText("", 100, 10); got != nil {
		t.Fatalf("expected no chunks for empty text, got %v", got)
	}
	if got := chunkText("abc", 0, 0); got != nil {
		t.Fatalf("expected no chunks for non-positive size, got %v", got)
	}
}

func TestParseTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	content := strings.Repeat("lorem ipsum dolor sit amet ", 50)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	result, err := parseText(path, 200, 40)
	if err != nil {
		t.Fatalf("parseText: %v", err)
	}
	if len(result.Chunks) == 0 {
		t.Fatalf("expected chunks from text file")
	}
	if result.FullText == "" {
		t.Fatalf("expected full text to be captured")
	}
	for i, c := range result.Chunks {
		if c.Position != i {
			t.Fatalf("chunk %d has position %d", i, c.Position)
		}
	}
}

func TestParseAndChunkUnknownExtensionFallsBackToText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("# Heading\n\nSome body text."), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	result, err := parseAndChunk("notes.md", path, 1024, 200)
	if err != nil {
		t.Fatalf("parseAndChunk: %v", err)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(result.Chunks))
	}
	if !strings.Contains(result.Chunks[0].Content, "Some body text.") {
		t.Fatalf("unexpected chunk content: %q", result.Chunks[0].Content)
	}
}
