package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/mkendrick/crosswind/internal/domain"
	"github.com/mkendrick/crosswind/internal/embed"
	"github.com/mkendrick/crosswind/internal/logging"
)

// VectorStore is the persistence surface the retrieval layer needs.
type VectorStore interface {
	SaveEmbedding(e domain.Embedding) error
	HasEmbedding(entityType domain.EntityType, entityID, model string) (bool, error)
	GetEmbeddings(entityType domain.EntityType, model string) ([]domain.Embedding, error)
	GetResultAt(variablePairID string, analysisTS time.Time) (*domain.CorrelationResult, error)
}

// Indexer embeds entities and correlation results in resumable batches.
type Indexer struct {
	store    VectorStore
	embedder embed.Embedder
}

// NewIndexer creates an Indexer over the given store and embedder.
func NewIndexer(store VectorStore, embedder embed.Embedder) *Indexer {
	return &Indexer{store: store, embedder: embedder}
}

// IndexStats reports what one indexing pass did.
type IndexStats struct {
	Embedded int
	Skipped  int // already present under the same (type, id, model) key
}

// IndexRecords embeds normalized records. Already-embedded records are
// skipped via the persisted key check, so an interrupted batch resumes
// where it stopped without re-embedding, and each vector is written in its
// own transaction so a crash never leaves a partial vector behind.
func (ix *Indexer) IndexRecords(ctx context.Context, records []domain.NormalizedRecord) (IndexStats, error) {
	items := make([]indexItem, 0, len(records))
	for _, r := range records {
		items = append(items, indexItem{
			entityType: domain.EntityRecord,
			entityID:   r.RecordID(),
			text:       DescribeRecord(r),
		})
	}
	return ix.indexAll(ctx, items)
}

// IndexResults embeds correlation results. Each result indexes under its
// own (pair, analysis timestamp) identity, so re-running after a new
// analysis embeds only the new findings.
func (ix *Indexer) IndexResults(ctx context.Context, results []domain.CorrelationResult) (IndexStats, error) {
	items := make([]indexItem, 0, len(results))
	for _, r := range results {
		items = append(items, indexItem{
			entityType: domain.EntityCorrelation,
			entityID:   resultEntityID(r),
			text:       DescribeResult(r),
		})
	}
	return ix.indexAll(ctx, items)
}

type indexItem struct {
	entityType domain.EntityType
	entityID   string
	text       string
}

func (ix *Indexer) indexAll(ctx context.Context, items []indexItem) (IndexStats, error) {
	var stats IndexStats
	model := ix.embedder.Model()

	// Filter out everything already embedded before spending provider calls.
	pending := make([]indexItem, 0, len(items))
	for _, item := range items {
		exists, err := ix.store.HasEmbedding(item.entityType, item.entityID, model)
		if err != nil {
			return stats, fmt.Errorf("retrieval: check embedding %s: %w", item.entityID, err)
		}
		if exists {
			stats.Skipped++
			continue
		}
		pending = append(pending, item)
	}
	if len(pending) == 0 {
		return stats, nil
	}

	texts := make([]string, len(pending))
	for i, item := range pending {
		texts[i] = item.text
	}

	vectors, err := ix.embedTexts(ctx, texts)
	if err != nil {
		return stats, err
	}

	now := time.Now().UTC()
	for i, item := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := ix.store.SaveEmbedding(domain.Embedding{
			EntityType: item.entityType,
			EntityID:   item.entityID,
			Model:      model,
			Vector:     vectors[i],
			CreatedAt:  now,
		}); err != nil {
			return stats, fmt.Errorf("retrieval: save embedding %s: %w", item.entityID, err)
		}
		stats.Embedded++
	}

	logging.Info("Indexing pass complete", "embedded", stats.Embedded, "skipped", stats.Skipped, "model", model)
	return stats, nil
}

func (ix *Indexer) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if batcher, ok := ix.embedder.(embed.BatchEmbedder); ok {
		return batcher.EmbedBatch(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := ix.embedder.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}
