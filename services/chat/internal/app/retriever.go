package app

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"docchat/internal/util"
	"docchat/pkg/domain"
	"docchat/pkg/index"
)

// Retriever queries one independent index per document and merges the
// results. A document without a usable index contributes zero results; so
// does a document whose query fails. Neither is an error.
type Retriever struct {
	indexes *index.Store
}

// NewRetriever builds a retriever over the shared index store.
func NewRetriever(indexes *index.Store) *Retriever {
	return &Retriever{indexes: indexes}
}

// Retrieve fans out one query per document and returns the merged list sorted
// by descending score. Ties keep input order (document order first, then
// per-document rank), so identical inputs always produce identical output.
func (r *Retriever) Retrieve(ctx context.Context, documents []domain.Document, query string, topK int) []domain.RetrievalResult {
	if len(documents) == 0 || topK <= 0 {
		return nil
	}
	logger := util.LoggerFromContext(ctx)

	perDocument := make([][]domain.RetrievalResult, len(documents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(documents))
	for i, doc := range documents {
		i, doc := i, doc
		g.Go(func() error {
			idx, ok, err := r.indexes.Load(doc)
			if err != nil {
				logger.Warn("index load failed", "document_id", doc.ID, "err", err)
				return nil
			}
			if !ok {
				return nil
			}
			results, err := idx.Query(gctx, query, topK)
			if err != nil {
				logger.Warn("index query failed", "document_id", doc.ID, "err", err)
				return nil
			}
			perDocument[i] = results
			return nil
		})
	}
	// Workers never return errors; failures degrade to zero results.
	_ = g.Wait()

	var merged []domain.RetrievalResult
	for _, results := range perDocument {
		merged = append(merged, results...)
	}
	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Score > merged[b].Score
	})
	return merged
}
