package app

import "errors"

// Turn-level errors surfaced to the caller. Retrieval and generation failures
// are absorbed into in-band content and never appear here.
var (
	ErrEmptyTurn            = errors.New("question or images required")
	ErrNoEligibleDocuments  = errors.New("no indexed documents available for context")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrFolderNotFound       = errors.New("folder not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrImageNotFound        = errors.New("image not found")
	ErrImageTooLarge        = errors.New("image too large")
	ErrUnsupportedImageType = errors.New("unsupported image type")
)

// IsStreamAborted reports whether a streaming turn ended because the caller
// went away. Nothing was persisted and no terminal event should be written.
func IsStreamAborted(err error) bool {
	return errors.Is(err, errStreamAborted)
}

// Fixed assistant answers used when generation cannot or should not run.
const (
	answerMissingAPIKey      = "Please configure the Gemini API key in settings."
	answerGenerationFailed   = "An error occurred while generating the answer."
	answerNoRelevantContent  = "Sorry, no relevant content was found in the conversation's documents."
	questionImagesOnlyPrompt = "Please analyze the provided images."
)
