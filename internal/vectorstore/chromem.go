package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/harbourlane/advisord/internal/embeddings"
)

// listProbe is the query text used to enumerate a collection. chromem has
// no list API, so List issues a similarity query for every document and
// discards the scores.
const listProbe = "collection scan"

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database with gob persistence. No external database service is
// required; a single daemon owns the store directory.
type ChromemStore struct {
	db       *chromem.DB
	embedder embeddings.Embedder
	logger   *zap.Logger

	// mu serializes read-modify-write metadata updates per store. Document
	// writes in chromem are atomic; the lock keeps UpdateMetadata's
	// get-then-replace from interleaving.
	mu sync.Mutex
}

// NewChromemStore opens (or creates) a persistent chromem database at path.
func NewChromemStore(path string, compress bool, embedder embeddings.Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	expanded, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
	}

	db, err := chromem.NewPersistentDB(expanded, compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("vector store initialized",
		zap.String("path", expanded),
		zap.Bool("compress", compress),
		zap.Int("dimension", embedder.Dimension()),
	)

	return &ChromemStore{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) getOrCreateCollection(name string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	return col, nil
}

// AddDocuments embeds and stores documents in the named collection.
func (s *ChromemStore) AddDocuments(ctx context.Context, collection string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return nil, err
	}

	// Batch-embed only the documents that arrived without a vector.
	var missing []int
	var texts []string
	for i, doc := range docs {
		if doc.Embedding == nil {
			missing = append(missing, i)
			texts = append(texts, doc.Content)
		}
	}
	if len(texts) > 0 {
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		for j, i := range missing {
			docs[i].Embedding = vectors[j]
		}
	}

	chromemDocs := make([]chromem.Document, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("document at index %d has no ID", i)
		}
		ids[i] = doc.ID
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
		}
	}

	// Embeddings are precomputed, so a write concurrency of 1 suffices.
	if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return nil, fmt.Errorf("adding documents to %s: %w", collection, err)
	}

	s.logger.Debug("added documents",
		zap.String("collection", collection),
		zap.Int("count", len(docs)),
	)
	return ids, nil
}

// Search returns up to k documents most similar to the query text.
func (s *ChromemStore) Search(ctx context.Context, collection, query string, k int, filters map[string]string) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return []SearchResult{}, nil
	}

	// chromem requires nResults <= document count.
	count := col.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, query, k, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		}
	}
	return out, nil
}

// List returns every document matching the filters.
func (s *ChromemStore) List(ctx context.Context, collection string, filters map[string]string) ([]Document, error) {
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return []Document{}, nil
	}
	count := col.Count()
	if count == 0 {
		return []Document{}, nil
	}

	results, err := col.Query(ctx, listProbe, count, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("scanning collection %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc, err := col.GetByID(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("reading document %s: %w", r.ID, err)
		}
		docs = append(docs, Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
		})
	}
	return docs, nil
}

// GetDocument returns a single document by id.
func (s *ChromemStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return nil, ErrCollectionNotFound
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return &Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		Embedding: doc.Embedding,
	}, nil
}

// UpdateMetadata replaces a document's metadata, reusing its stored
// embedding so the content is never re-embedded.
func (s *ChromemStore) UpdateMetadata(ctx context.Context, collection, id string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return ErrCollectionNotFound
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	doc.Metadata = metadata
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("updating document %s: %w", id, err)
	}
	return nil
}

// DeleteDocuments removes documents by id.
func (s *ChromemStore) DeleteDocuments(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}
	s.logger.Debug("deleted documents",
		zap.String("collection", collection),
		zap.Int("count", len(ids)),
	)
	return nil
}

// Count returns the number of documents in the collection.
func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Close releases resources. chromem persists synchronously on write, so
// there is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)
