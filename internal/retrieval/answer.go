package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mkendrick/crosswind/internal/domain"
	"github.com/mkendrick/crosswind/internal/embed"
)

// Retriever answers natural-language queries against the indexed
// correlation findings.
type Retriever struct {
	store    VectorStore
	embedder embed.Embedder
}

// NewRetriever creates a Retriever over the given store and embedder. The
// embedder must be the same model the index was built with; vectors from
// different models never mix because they key separately.
func NewRetriever(store VectorStore, embedder embed.Embedder) *Retriever {
	return &Retriever{store: store, embedder: embedder}
}

// AnswerQuery embeds the query, retrieves the k nearest correlation
// vectors by cosine similarity, and composes a grounded answer. Every
// cited correlation carries its coefficient, sample size, significance
// status and causation caveat; that is the contract, not a formatting
// choice.
func (rt *Retriever) AnswerQuery(ctx context.Context, text string, k int) (*domain.RetrievalAnswer, error) {
	if k <= 0 {
		k = 5
	}

	queryVec, err := rt.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	embeddings, err := rt.store.GetEmbeddings(domain.EntityCorrelation, rt.embedder.Model())
	if err != nil {
		return nil, fmt.Errorf("retrieval: load vectors: %w", err)
	}

	type scored struct {
		entityID   string
		similarity float32
	}
	hits := make([]scored, 0, len(embeddings))
	for _, e := range embeddings {
		hits = append(hits, scored{entityID: e.EntityID, similarity: embed.CosineSimilarity(queryVec, e.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].similarity > hits[j].similarity })
	if len(hits) > k {
		hits = hits[:k]
	}

	answer := &domain.RetrievalAnswer{Query: text}
	for _, hit := range hits {
		pairID, ts, ok := parseResultEntityID(hit.entityID)
		if !ok {
			continue
		}
		result, err := rt.store.GetResultAt(pairID, ts)
		if err != nil {
			return nil, fmt.Errorf("retrieval: load result %s: %w", hit.entityID, err)
		}
		if result == nil {
			continue // vector outlived its result; skip rather than cite unverifiable data
		}
		answer.Citations = append(answer.Citations, domain.CitedCorrelation{
			VariablePairID: result.VariablePairID,
			Coefficient:    result.Coefficient,
			SampleSize:     result.SampleSize,
			Significant:    result.Significant,
			Causation:      result.Causation,
			Similarity:     hit.similarity,
			Summary:        DescribeResult(*result),
		})
	}

	answer.Answer = composeAnswer(text, answer.Citations)
	return answer, nil
}

// composeAnswer renders the citations into prose. Each cited finding
// states all four mandatory fields inline.
func composeAnswer(query string, citations []domain.CitedCorrelation) string {
	if len(citations) == 0 {
		return fmt.Sprintf("No indexed correlations matched %q. Either the analysis has not covered the relevant variables or nothing has been indexed yet.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d correlation(s) relevant to %q.\n", len(citations), query)
	for i, c := range citations {
		sig := "not significant"
		if c.Significant {
			sig = "significant"
		}
		fmt.Fprintf(&b, "\n%d. %s — r=%.3f, n=%d, %s.", i+1, c.VariablePairID, c.Coefficient, c.SampleSize, sig)
		fmt.Fprintf(&b, " Causation likelihood %s", c.Causation.Likelihood)
		if len(c.Causation.ConfoundingFactors) > 0 {
			fmt.Fprintf(&b, "; possible confounds: %s", strings.Join(c.Causation.ConfoundingFactors, ", "))
		}
		b.WriteString(".")
	}
	b.WriteString("\n\nCorrelation is not causation: none of these findings are causally validated.")
	return b.String()
}
