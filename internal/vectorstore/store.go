// Package vectorstore defines the vector storage interface and its
// implementations.
//
// advisord persists memories, cases, rules and knowledge snippets as
// embedded documents in named collections. The interface is deliberately
// narrow: add, similarity search, point reads, and metadata updates. Range
// predicates (confidence thresholds, recency windows) belong to the domain
// layers, which filter search results after the fact.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDocumentNotFound is returned when a document id is unknown.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Collection names used by advisord.
const (
	CollectionMemories         = "memories"
	CollectionCases            = "cases"
	CollectionRules            = "rules"
	CollectionFCAKnowledge     = "knowledge_fca"
	CollectionPensionKnowledge = "knowledge_pension"
)

// Document is a stored record: embedded content plus scalar attributes in
// string metadata.
type Document struct {
	// ID is the unique identifier within its collection.
	ID string

	// Content is the text that gets embedded.
	Content string

	// Metadata carries the record's scalar attributes for filtering and
	// reconstruction.
	Metadata map[string]string

	// Embedding is the content vector. Optional on write; when present it
	// is stored as-is and no embedding call is made for this document.
	Embedding []float32
}

// SearchResult is one similarity hit.
type SearchResult struct {
	ID       string
	Content  string
	Metadata map[string]string

	// Score is the cosine similarity to the query, in [-1, 1].
	Score float32
}

// Store is the vector storage interface.
type Store interface {
	// AddDocuments embeds (when needed) and stores documents in the named
	// collection, creating it on first use. Re-adding an existing ID
	// replaces the stored document.
	AddDocuments(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Search returns up to k documents most similar to the query text,
	// restricted to documents whose metadata matches every filter entry
	// exactly. A missing collection yields an empty result, not an error.
	Search(ctx context.Context, collection, query string, k int, filters map[string]string) ([]SearchResult, error)

	// List returns every document in the collection matching the filters.
	// Order is unspecified.
	List(ctx context.Context, collection string, filters map[string]string) ([]Document, error)

	// GetDocument returns a single document by id, including its stored
	// embedding.
	GetDocument(ctx context.Context, collection, id string) (*Document, error)

	// UpdateMetadata replaces a document's metadata without re-embedding
	// its content. The update is atomic at document granularity.
	UpdateMetadata(ctx context.Context, collection, id string, metadata map[string]string) error

	// DeleteDocuments removes documents by id. Unknown ids and a missing
	// collection are not errors.
	DeleteDocuments(ctx context.Context, collection string, ids ...string) error

	// Count returns the number of documents in the collection; a missing
	// collection counts as zero.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases resources.
	Close() error
}
