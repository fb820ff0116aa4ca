package ai

import "context"

// Part is one element of a prompt payload: either text or an inline binary
// attachment (images). Data is set for binary parts, Text for text parts.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart builds a text prompt part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// BlobPart builds an inline binary prompt part.
func BlobPart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// TextGenerator generates a complete answer from a system prompt and prompt
// parts in one call.
type TextGenerator interface {
	GenerateParts(ctx context.Context, systemPrompt string, parts []Part) (string, error)
}

// StreamTextGenerator yields an ordered sequence of text increments. onDelta
// is invoked for every increment in order; returning an error stops the
// stream and is propagated to the caller.
type StreamTextGenerator interface {
	GeneratePartsStream(ctx context.Context, systemPrompt string, parts []Part, onDelta func(delta string) error) error
}
