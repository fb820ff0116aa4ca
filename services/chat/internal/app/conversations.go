package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docchat/internal/util"
	"docchat/pkg/domain"
)

const defaultConversationTitle = "New conversation"

// CreateConversation starts an empty conversation, optionally filed under a
// folder and carrying a system prompt override.
func (a *App) CreateConversation(title, systemPrompt, folderID string) (domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultConversationTitle
	}
	folderID = strings.TrimSpace(folderID)
	if folderID != "" {
		_, ok, err := a.store.GetFolder(folderID)
		if err != nil {
			return domain.Conversation{}, err
		}
		if !ok {
			return domain.Conversation{}, ErrFolderNotFound
		}
	}
	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:           util.NewID(),
		Title:        title,
		SystemPrompt: strings.TrimSpace(systemPrompt),
		FolderID:     folderID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateConversation(conv); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// ListConversations returns all conversations, or those in one folder.
func (a *App) ListConversations(folderID string) ([]domain.Conversation, error) {
	if strings.TrimSpace(folderID) != "" {
		return a.store.ListConversationsByFolder(folderID)
	}
	return a.store.ListConversations()
}

// GetConversation retrieves one conversation.
func (a *App) GetConversation(id string) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversation(id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// UpdateConversation renames a conversation and/or replaces its system prompt
// override. Nil systemPrompt keeps the current one.
func (a *App) UpdateConversation(id, title string, systemPrompt *string) (domain.Conversation, error) {
	if _, err := a.GetConversation(id); err != nil {
		return domain.Conversation{}, err
	}
	if err := a.store.UpdateConversation(id, title, systemPrompt, time.Time{}); err != nil {
		return domain.Conversation{}, err
	}
	return a.GetConversation(id)
}

// MoveConversation files a conversation under a folder; empty folderID
// unfiles it.
func (a *App) MoveConversation(id, folderID string) (domain.Conversation, error) {
	if _, err := a.GetConversation(id); err != nil {
		return domain.Conversation{}, err
	}
	folderID = strings.TrimSpace(folderID)
	if folderID != "" {
		_, ok, err := a.store.GetFolder(folderID)
		if err != nil {
			return domain.Conversation{}, err
		}
		if !ok {
			return domain.Conversation{}, ErrFolderNotFound
		}
	}
	if err := a.store.MoveConversationToFolder(id, folderID); err != nil {
		return domain.Conversation{}, err
	}
	return a.GetConversation(id)
}

// DeleteConversation removes a conversation with its messages. Documents no
// other conversation references are deleted too, including their stored
// files.
func (a *App) DeleteConversation(ctx context.Context, id string) error {
	if _, err := a.GetConversation(id); err != nil {
		return err
	}
	orphans, err := a.store.DeleteConversation(id)
	if err != nil {
		return err
	}
	logger := util.LoggerFromContext(ctx)
	for _, doc := range orphans {
		if doc.StorageKey == "" {
			continue
		}
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			logger.Warn("orphaned document file cleanup failed", "document_id", doc.ID, "err", err)
		}
	}
	return nil
}

// ListMessages returns a conversation's history in creation order.
func (a *App) ListMessages(id string, limit int) ([]domain.Message, error) {
	if _, err := a.GetConversation(id); err != nil {
		return nil, err
	}
	return a.store.ListMessages(id, limit)
}

// AttachDocument links an existing document to a conversation.
func (a *App) AttachDocument(conversationID, documentID string) error {
	if _, err := a.GetConversation(conversationID); err != nil {
		return err
	}
	_, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDocumentNotFound
	}
	return a.store.AttachDocument(conversationID, documentID)
}

// DetachDocument unlinks a document from a conversation. The document itself
// survives; it may still be referenced elsewhere.
func (a *App) DetachDocument(conversationID, documentID string) error {
	if _, err := a.GetConversation(conversationID); err != nil {
		return err
	}
	return a.store.DetachDocument(conversationID, documentID)
}

// ListConversationDocuments returns the documents attached to a conversation.
func (a *App) ListConversationDocuments(conversationID string) ([]domain.Document, error) {
	if _, err := a.GetConversation(conversationID); err != nil {
		return nil, err
	}
	return a.store.ListConversationDocuments(conversationID)
}

// CreateFolder makes a new folder.
func (a *App) CreateFolder(name string) (domain.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Folder{}, fmt.Errorf("folder name required")
	}
	now := time.Now().UTC()
	folder := domain.Folder{
		ID:        util.NewID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateFolder(folder); err != nil {
		return domain.Folder{}, err
	}
	return folder, nil
}

// ListFolders returns all folders.
func (a *App) ListFolders() ([]domain.Folder, error) {
	return a.store.ListFolders()
}

// RenameFolder changes a folder's name.
func (a *App) RenameFolder(id, name string) (domain.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Folder{}, fmt.Errorf("folder name required")
	}
	_, ok, err := a.store.GetFolder(id)
	if err != nil {
		return domain.Folder{}, err
	}
	if !ok {
		return domain.Folder{}, ErrFolderNotFound
	}
	if err := a.store.RenameFolder(id, name); err != nil {
		return domain.Folder{}, err
	}
	folder, _, err := a.store.GetFolder(id)
	if err != nil {
		return domain.Folder{}, err
	}
	return folder, nil
}

// DeleteFolder removes a folder. Conversations inside are unfiled, not
// deleted.
func (a *App) DeleteFolder(id string) error {
	_, ok, err := a.store.GetFolder(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFolderNotFound
	}
	return a.store.DeleteFolder(id)
}
