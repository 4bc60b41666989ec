package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/harbourlane/advisord/internal/embeddings"
)

// MemStore is an in-memory Store used by tests and by deployments that do
// not need persistence. It performs exact cosine similarity over all
// documents in a collection.
type MemStore struct {
	embedder embeddings.Embedder

	mu          sync.RWMutex
	collections map[string]map[string]Document
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(embedder embeddings.Embedder) *MemStore {
	return &MemStore{
		embedder:    embedder,
		collections: make(map[string]map[string]Document),
	}
}

// AddDocuments stores documents, embedding any that lack a vector.
func (s *MemStore) AddDocuments(ctx context.Context, collection string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	stored := make([]Document, len(docs))
	copy(stored, docs)
	for i := range stored {
		if stored[i].Embedding == nil {
			v, err := s.embedder.EmbedQuery(ctx, stored[i].Content)
			if err != nil {
				return nil, err
			}
			stored[i].Embedding = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collections[collection]
	if col == nil {
		col = make(map[string]Document)
		s.collections[collection] = col
	}
	ids := make([]string, len(stored))
	for i, doc := range stored {
		col[doc.ID] = doc
		ids[i] = doc.ID
	}
	return ids, nil
}

// Search returns up to k documents by cosine similarity to the query.
func (s *MemStore) Search(ctx context.Context, collection, query string, k int, filters map[string]string) ([]SearchResult, error) {
	qv, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.collections[collection]
	if col == nil {
		return []SearchResult{}, nil
	}

	var results []SearchResult
	for _, doc := range col {
		if !matches(doc.Metadata, filters) {
			continue
		}
		results = append(results, SearchResult{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
			Score:    CosineSimilarity(qv, doc.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// List returns every document matching the filters.
func (s *MemStore) List(ctx context.Context, collection string, filters map[string]string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.collections[collection]
	docs := make([]Document, 0, len(col))
	for _, doc := range col {
		if matches(doc.Metadata, filters) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// GetDocument returns a single document by id.
func (s *MemStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.collections[collection]
	if col == nil {
		return nil, ErrCollectionNotFound
	}
	doc, ok := col[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &doc, nil
}

// UpdateMetadata replaces a document's metadata.
func (s *MemStore) UpdateMetadata(ctx context.Context, collection, id string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collections[collection]
	if col == nil {
		return ErrCollectionNotFound
	}
	doc, ok := col[id]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.Metadata = metadata
	col[id] = doc
	return nil
}

// DeleteDocuments removes documents by id.
func (s *MemStore) DeleteDocuments(ctx context.Context, collection string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.collections[collection]
	for _, id := range ids {
		delete(col, id)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (s *MemStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection]), nil
}

// Close is a no-op.
func (s *MemStore) Close() error {
	return nil
}

func matches(metadata, filters map[string]string) bool {
	for k, v := range filters {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-length vectors yield 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ Store = (*MemStore)(nil)
