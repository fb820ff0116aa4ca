package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"docchat/internal/util"
	"docchat/pkg/ai"
)

// buildPromptText interpolates document context before the user question.
// The system prompt travels separately as the backend's system instruction.
func buildPromptText(contextText, question string) string {
	if strings.TrimSpace(contextText) == "" {
		return question
	}
	var b strings.Builder
	b.WriteString("Answer the question using the document content below. If the content does not cover the question, say so.\n\n")
	b.WriteString("Document content:\n")
	b.WriteString(contextText)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

// loadImageParts resolves image attachments into inline binary prompt parts.
// A missing or unreadable image is logged and skipped rather than failing the
// turn.
func (a *App) loadImageParts(ctx context.Context, imageIDs []string) []ai.Part {
	if len(imageIDs) == 0 {
		return nil
	}
	logger := util.LoggerFromContext(ctx)
	parts := make([]ai.Part, 0, len(imageIDs))
	for _, id := range imageIDs {
		img, ok, err := a.store.GetImage(id)
		if err != nil || !ok {
			logger.Warn("image attachment unavailable", "image_id", id, "err", err)
			continue
		}
		rc, err := a.objects.Get(ctx, img.StorageKey)
		if err != nil {
			logger.Warn("image fetch failed", "image_id", id, "err", err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			logger.Warn("image read failed", "image_id", id, "err", err)
			continue
		}
		mimeType := img.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}
		parts = append(parts, ai.BlobPart(mimeType, data))
	}
	return parts
}

// buildParts assembles the full prompt payload: the interpolated text first,
// then any inline images as separate binary parts.
func buildParts(promptText string, imageParts []ai.Part) []ai.Part {
	parts := make([]ai.Part, 0, 1+len(imageParts))
	parts = append(parts, ai.TextPart(promptText))
	parts = append(parts, imageParts...)
	return parts
}

// systemPromptFor prefers the conversation's own system prompt override.
func systemPromptFor(conversationPrompt, settingsPrompt string) string {
	if strings.TrimSpace(conversationPrompt) != "" {
		return conversationPrompt
	}
	return settingsPrompt
}

// deriveTitle names a conversation after its first question.
func deriveTitle(question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return ""
	}
	runes := []rune(question)
	if len(runes) > 50 {
		return fmt.Sprintf("%s…", string(runes[:50]))
	}
	return question
}
