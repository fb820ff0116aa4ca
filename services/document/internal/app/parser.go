package app

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

type chunkPayload struct {
	Content  string
	Page     int
	Position int
}

type parseResult struct {
	FullText  string
	PageCount int
	Chunks    []chunkPayload
}

func parseAndChunk(filename, path string, chunkSize, chunkOverlap int) (parseResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return parsePDF(path, chunkSize, chunkOverlap)
	case ".epub":
		return parseEPUB(path, chunkSize, chunkOverlap)
	default:
		return parseText(path, chunkSize, chunkOverlap)
	}
}

func parsePDF(path string, chunkSize, chunkOverlap int) (parseResult, error) {
	// Per-page extraction keeps page numbers on chunks for citations.
	result, err := parsePDFByPage(path, chunkSize, chunkOverlap)
	if err == nil && len(result.Chunks) > 0 {
		return result, nil
	}
	// Fallback for PDFs the Go library cannot read. Page numbers are lost.
	return parsePDFWithPdftotext(path, chunkSize, chunkOverlap)
}

func parsePDFByPage(path string, chunkSize, chunkOverlap int) (parseResult, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return parseResult{}, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	totalPages := reader.NumPage()
	result := parseResult{PageCount: totalPages}
	var fullText strings.Builder
	position := 0
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely
			continue
		}
		text = normalizeText(text)
		if text == "" {
			continue
		}
		if fullText.Len() > 0 {
			fullText.WriteString("\n")
		}
		fullText.WriteString(text)
		for _, part := range chunkText(text, chunkSize, chunkOverlap) {
			result.Chunks = append(result.Chunks, chunkPayload{
				Content:  part,
				Page:     i,
				Position: position,
			})
			position++
		}
	}
	if len(result.Chunks) == 0 {
		return parseResult{}, fmt.Errorf("no text extracted from PDF")
	}
	result.FullText = fullText.String()
	return result, nil
}

// parsePDFWithPdftotext uses the system pdftotext tool (poppler-utils).
func parsePDFWithPdftotext(path string, chunkSize, chunkOverlap int) (parseResult, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return parseResult{}, fmt.Errorf("pdftotext not found: %w", err)
	}
	cmd := exec.Command("pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	output, err := cmd.Output()
	if err != nil {
		return parseResult{}, fmt.Errorf("pdftotext failed: %w", err)
	}
	text := normalizeText(string(output))
	if text == "" {
		return parseResult{}, fmt.Errorf("no text extracted from PDF")
	}
	result := parseResult{FullText: text}
	for idx, part := range chunkText(text, chunkSize, chunkOverlap) {
		result.Chunks = append(result.Chunks, chunkPayload{Content: part, Position: idx})
	}
	return result, nil
}

func parseEPUB(path string, chunkSize, chunkOverlap int) (parseResult, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return parseResult{}, fmt.Errorf("open epub: %w", err)
	}
	defer reader.Close()
	var result parseResult
	var fullText strings.Builder
	position := 0
	for _, file := range reader.File {
		name := strings.ToLower(file.Name)
		if !(strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")) {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return parseResult{}, fmt.Errorf("read epub file: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return parseResult{}, fmt.Errorf("read epub content: %w", err)
		}
		doc, err := html.Parse(bytes.NewReader(data))
		if err != nil {
			return parseResult{}, fmt.Errorf("parse epub html: %w", err)
		}
		text := normalizeText(extractText(doc))
		if text == "" {
			continue
		}
		if fullText.Len() > 0 {
			fullText.WriteString("\n")
		}
		fullText.WriteString(text)
		for _, part := range chunkText(text, chunkSize, chunkOverlap) {
			result.Chunks = append(result.Chunks, chunkPayload{Content: part, Position: position})
			position++
		}
	}
	result.FullText = fullText.String()
	return result, nil
}

func parseText(path string, chunkSize, chunkOverlap int) (parseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return parseResult{}, fmt.Errorf("read file: %w", err)
	}
	text := normalizeText(string(data))
	result := parseResult{FullText: text}
	for idx, part := range chunkText(text, chunkSize, chunkOverlap) {
		result.Chunks = append(result.Chunks, chunkPayload{Content: part, Position: idx})
	}
	return result, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			chunks = append(chunks, part)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
