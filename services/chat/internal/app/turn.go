package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
)

// Context and citation budgets per turn.
const (
	maxContextPassages   = 5
	citationExcerptLimit = 200
	fullDocumentBudget   = 2000
	fullDocumentMaxDocs  = 2
	fullDocumentMaxCites = 3
	defaultTopK          = 5
)

var errStreamAborted = errors.New("stream aborted by caller")

// TurnRequest is one user turn. ContextMode selects how document content is
// consulted: nil consults documents when possible and degrades silently,
// true demands document context and fails without it, false disables it.
type TurnRequest struct {
	Query       string   `json:"question"`
	ImageIDs    []string `json:"imageIds"`
	ContextMode *bool    `json:"contextMode"`
}

// TurnResult is the buffered response for one completed turn.
type TurnResult struct {
	UserMessage      domain.Message    `json:"userMessage"`
	AssistantMessage domain.Message    `json:"assistantMessage"`
	Citations        []domain.Citation `json:"citations,omitempty"`
}

type turnMode int

const (
	modeBare turnMode = iota
	modeRetrieval
	modeFullDocument
)

// preparedTurn carries everything resolved before generation starts: the
// persisted user message, the settings snapshot, the assembled context, and
// possibly a fixed answer that makes a backend call unnecessary.
type preparedTurn struct {
	conversation domain.Conversation
	settings     domain.Settings
	userMessage  domain.Message
	mode         turnMode
	question     string
	contextText  string
	citations    []domain.Citation
	imageParts   []ai.Part
	fixedAnswer  string
	firstTurn    bool
}

// prepareTurn runs every step of a turn that precedes generation: validation,
// the settings snapshot, persisting the user message, mode selection, and
// retrieval or full-document context assembly. Validation failures happen
// before any write.
func (a *App) prepareTurn(ctx context.Context, conversationID string, req TurnRequest) (*preparedTurn, error) {
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return nil, ErrConversationNotFound
	}

	query := strings.TrimSpace(req.Query)
	if query == "" && len(req.ImageIDs) == 0 {
		return nil, ErrEmptyTurn
	}

	settings, err := a.store.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	userMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        query,
		ImageIDs:       req.ImageIDs,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.AppendMessage(conv.ID, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	pt := &preparedTurn{
		conversation: conv,
		settings:     settings,
		userMessage:  userMsg,
		question:     query,
		firstTurn:    conv.LastMessageAt == nil,
	}
	if pt.question == "" {
		pt.question = questionImagesOnlyPrompt
	}

	if err := a.resolveContext(ctx, pt, req.ContextMode); err != nil {
		return nil, err
	}
	pt.imageParts = a.loadImageParts(ctx, req.ImageIDs)
	return pt, nil
}

// resolveContext picks the turn mode once, before any generation I/O, and
// fills in context text and citations for the modes that carry them.
func (a *App) resolveContext(ctx context.Context, pt *preparedTurn, contextMode *bool) error {
	if contextMode != nil && !*contextMode {
		pt.mode = modeBare
		return nil
	}

	docs, err := a.store.ListConversationDocuments(pt.conversation.ID)
	if err != nil {
		return fmt.Errorf("list conversation documents: %w", err)
	}
	eligible := docs[:0:0]
	for _, doc := range docs {
		if doc.Status == domain.StatusCompleted {
			eligible = append(eligible, doc)
		}
	}
	if len(eligible) == 0 {
		if contextMode != nil && *contextMode {
			return ErrNoEligibleDocuments
		}
		pt.mode = modeBare
		return nil
	}

	// Retrieval embeds the user's text as the query; an image-only turn has
	// none, so it takes the full-document path below.
	if pt.settings.RAGEnabled && pt.userMessage.Content != "" {
		pt.mode = modeRetrieval
		topK := pt.settings.TopK
		if topK <= 0 {
			topK = defaultTopK
		}
		results := a.retriever.Retrieve(ctx, eligible, pt.question, topK)
		if len(results) == 0 {
			pt.fixedAnswer = answerNoRelevantContent
			return nil
		}
		pt.contextText, pt.citations = assembleContext(results, maxContextPassages, citationExcerptLimit)
		return nil
	}

	pt.mode = modeFullDocument
	pt.contextText, pt.citations = a.assembleFullDocuments(ctx, eligible)
	if pt.contextText == "" {
		pt.fixedAnswer = answerNoRelevantContent
	}
	return nil
}

// assembleFullDocuments builds coarse context from complete document texts:
// each truncated to a fixed rune budget, a bounded number of documents in the
// context, citations for a slightly larger bound.
func (a *App) assembleFullDocuments(ctx context.Context, docs []domain.Document) (string, []domain.Citation) {
	logger := util.LoggerFromContext(ctx)
	var passages []string
	var citations []domain.Citation
	for _, doc := range docs {
		if len(citations) >= fullDocumentMaxCites {
			break
		}
		fullText, err := a.store.GetDocumentFullText(doc.ID)
		if err != nil {
			logger.Warn("full text unavailable", "document_id", doc.ID, "err", err)
			continue
		}
		fullText = strings.TrimSpace(fullText)
		if fullText == "" {
			continue
		}
		excerpt := truncateRunes(fullText, fullDocumentBudget)
		if len(passages) < fullDocumentMaxDocs {
			passages = append(passages, fmt.Sprintf("[%s]\n%s", doc.Filename, excerpt))
		}
		citations = append(citations, domain.Citation{
			DocumentID:   doc.ID,
			DocumentName: doc.Filename,
			Excerpt:      truncateRunes(fullText, citationExcerptLimit),
		})
	}
	return strings.Join(passages, "\n\n"), citations
}

// Ask runs one buffered turn: the answer is returned whole, and persisted
// before this returns. Backend failures degrade to a fixed persisted answer;
// only validation, eligibility, and persistence errors surface.
func (a *App) Ask(ctx context.Context, conversationID string, req TurnRequest) (TurnResult, error) {
	pt, err := a.prepareTurn(ctx, conversationID, req)
	if err != nil {
		return TurnResult{}, err
	}

	answer := pt.fixedAnswer
	if answer == "" {
		answer = a.generateBuffered(ctx, pt)
	}
	assistantMsg, err := a.finishTurn(pt, answer)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		UserMessage:      pt.userMessage,
		AssistantMessage: assistantMsg,
		Citations:        pt.citations,
	}, nil
}

func (a *App) generateBuffered(ctx context.Context, pt *preparedTurn) string {
	if strings.TrimSpace(pt.settings.GeminiAPIKey) == "" {
		return answerMissingAPIKey
	}
	generator, err := a.newGenerator(pt.settings)
	if err != nil {
		util.LoggerFromContext(ctx).Error("generator init failed", "err", err)
		return answerGenerationFailed
	}
	parts := buildParts(buildPromptText(pt.contextText, pt.question), pt.imageParts)
	systemPrompt := systemPromptFor(pt.conversation.SystemPrompt, pt.settings.SystemPrompt)
	answer, err := generator.GenerateParts(ctx, systemPrompt, parts)
	if err != nil {
		util.LoggerFromContext(ctx).Error("generation failed", "conversation_id", pt.conversation.ID, "err", err)
		return answerGenerationFailed
	}
	return answer
}

// AskStream runs one streaming turn, emitting events in order: the persisted
// user message, citations when any were computed, content increments, then
// the persisted final message. When the caller disconnects mid-stream the
// partial answer is discarded, not persisted.
func (a *App) AskStream(ctx context.Context, conversationID string, req TurnRequest, emit TurnEmitter) error {
	pt, err := a.prepareTurn(ctx, conversationID, req)
	if err != nil {
		return err
	}
	if err := emit.UserMessage(pt.userMessage); err != nil {
		return fmt.Errorf("%w: %v", errStreamAborted, err)
	}
	if len(pt.citations) > 0 {
		if err := emit.Citations(pt.citations); err != nil {
			return fmt.Errorf("%w: %v", errStreamAborted, err)
		}
	}

	answer := pt.fixedAnswer
	if answer == "" && strings.TrimSpace(pt.settings.GeminiAPIKey) == "" {
		answer = answerMissingAPIKey
	}
	if answer != "" {
		return a.completeStream(pt, answer, emit)
	}

	generator, err := a.newStreamGenerator(pt.settings)
	if err != nil {
		util.LoggerFromContext(ctx).Error("generator init failed", "err", err)
		return a.completeStream(pt, answerGenerationFailed, emit)
	}
	parts := buildParts(buildPromptText(pt.contextText, pt.question), pt.imageParts)
	systemPrompt := systemPromptFor(pt.conversation.SystemPrompt, pt.settings.SystemPrompt)

	var accumulated strings.Builder
	streamErr := generator.GeneratePartsStream(ctx, systemPrompt, parts, func(delta string) error {
		if err := emit.Content(delta); err != nil {
			return fmt.Errorf("%w: %v", errStreamAborted, err)
		}
		accumulated.WriteString(delta)
		return nil
	})
	if errors.Is(streamErr, errStreamAborted) || ctx.Err() != nil {
		// Caller is gone; nothing is persisted for this answer.
		return errStreamAborted
	}
	if streamErr != nil {
		util.LoggerFromContext(ctx).Error("generation failed", "conversation_id", pt.conversation.ID, "err", streamErr)
		return a.completeStream(pt, answerGenerationFailed, emit)
	}
	assistantMsg, err := a.finishTurn(pt, accumulated.String())
	if err != nil {
		return err
	}
	return emit.Complete(assistantMsg)
}

// completeStream persists a fixed answer and emits it as one content
// increment followed by the terminal event.
func (a *App) completeStream(pt *preparedTurn, answer string, emit TurnEmitter) error {
	assistantMsg, err := a.finishTurn(pt, answer)
	if err != nil {
		return err
	}
	if err := emit.Content(answer); err != nil {
		return fmt.Errorf("%w: %v", errStreamAborted, err)
	}
	return emit.Complete(assistantMsg)
}

// finishTurn persists the assistant message in one durable write and touches
// the conversation. First turns take their title from the question.
func (a *App) finishTurn(pt *preparedTurn, answer string) (domain.Message, error) {
	assistantMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: pt.conversation.ID,
		Role:           domain.RoleAssistant,
		Content:        answer,
		Citations:      pt.citations,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.AppendMessage(pt.conversation.ID, assistantMsg); err != nil {
		return domain.Message{}, fmt.Errorf("persist assistant message: %w", err)
	}
	title := ""
	if pt.firstTurn && strings.TrimSpace(pt.userMessage.Content) != "" {
		title = deriveTitle(pt.userMessage.Content)
	}
	if err := a.store.UpdateConversation(pt.conversation.ID, title, nil, assistantMsg.CreatedAt); err != nil {
		return domain.Message{}, fmt.Errorf("update conversation: %w", err)
	}
	return assistantMsg, nil
}
