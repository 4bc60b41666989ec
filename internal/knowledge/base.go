// Package knowledge loads static guidance snippets from YAML files and
// indexes them into the vector store for retrieval.
//
// Two bases ship with advisord: FCA compliance snippets and pension
// domain snippets. Each base owns a directory of snippet files and a
// vector collection; the optional watcher reindexes a base when its
// files change.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/harbourlane/advisord/internal/vectorstore"
)

// Sentinel errors for knowledge base operations.
var (
	// ErrEmptyQuery indicates an empty search query.
	ErrEmptyQuery = errors.New("knowledge query cannot be empty")

	// ErrSnippetInvalid indicates a snippet missing its id or text.
	ErrSnippetInvalid = errors.New("snippet must have an id and text")
)

// Snippet is one unit of static knowledge.
type Snippet struct {
	ID    string   `yaml:"id" json:"id"`
	Title string   `yaml:"title" json:"title"`
	Text  string   `yaml:"text" json:"text"`
	Tags  []string `yaml:"tags" json:"tags,omitempty"`
}

// Validate checks required snippet fields.
func (s Snippet) Validate() error {
	if s.ID == "" || s.Text == "" {
		return ErrSnippetInvalid
	}
	return nil
}

// ScoredSnippet pairs a snippet with its similarity to the query.
type ScoredSnippet struct {
	Snippet

	Score float64 `json:"score"`
}

// snippetFile is the YAML document shape of one snippet file.
type snippetFile struct {
	Snippets []Snippet `yaml:"snippets"`
}

const (
	metaTitle = "title"
	metaTags  = "tags"
)

// Base is one knowledge base backed by a snippet directory and a vector
// collection.
type Base struct {
	store      vectorstore.Store
	collection string
	dir        string
	logger     *zap.Logger

	mu       sync.RWMutex
	snippets map[string]Snippet
}

// NewBase creates a knowledge base over a snippet directory. The base is
// empty until Load runs.
func NewBase(store vectorstore.Store, collection, dir string, logger *zap.Logger) (*Base, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection cannot be empty")
	}
	if dir == "" {
		return nil, fmt.Errorf("snippet directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		store:      store,
		collection: collection,
		dir:        dir,
		logger:     logger,
		snippets:   make(map[string]Snippet),
	}, nil
}

// Load parses every .yaml/.yml file in the base directory and indexes the
// snippets. Reloading after file edits re-embeds and overwrites existing
// entries and removes entries whose snippets were deleted from the files,
// so withdrawn guidance stops surfacing in retrieval. Invalid snippets
// are skipped with a warning so one bad file cannot take the base
// offline.
func (b *Base) Load(ctx context.Context) error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("reading snippet directory %s: %w", b.dir, err)
	}

	loaded := make(map[string]Snippet)
	for _, entry := range entries {
		if entry.IsDir() || !isSnippetFile(entry.Name()) {
			continue
		}
		path := filepath.Join(b.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		var file snippetFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			b.logger.Warn("skipping unparseable snippet file", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, snippet := range file.Snippets {
			if err := snippet.Validate(); err != nil {
				b.logger.Warn("skipping invalid snippet", zap.String("path", path), zap.Error(err))
				continue
			}
			loaded[snippet.ID] = snippet
		}
	}

	if len(loaded) > 0 {
		docs := make([]vectorstore.Document, 0, len(loaded))
		for _, snippet := range loaded {
			docs = append(docs, vectorstore.Document{
				ID:      snippet.ID,
				Content: snippet.Text,
				Metadata: map[string]string{
					metaTitle: snippet.Title,
					metaTags:  strings.Join(snippet.Tags, ","),
				},
			})
		}
		if _, err := b.store.AddDocuments(ctx, b.collection, docs); err != nil {
			return fmt.Errorf("indexing %s: %w", b.collection, err)
		}
	}

	// Diff against the collection itself rather than the in-memory map so
	// snippets withdrawn while the daemon was down are also removed.
	indexed, err := b.store.List(ctx, b.collection, nil)
	if err != nil {
		return fmt.Errorf("listing %s: %w", b.collection, err)
	}
	var removed []string
	for _, doc := range indexed {
		if _, ok := loaded[doc.ID]; !ok {
			removed = append(removed, doc.ID)
		}
	}

	b.mu.Lock()
	b.snippets = loaded
	b.mu.Unlock()

	if len(removed) > 0 {
		if err := b.store.DeleteDocuments(ctx, b.collection, removed...); err != nil {
			return fmt.Errorf("removing stale snippets from %s: %w", b.collection, err)
		}
		b.logger.Info("removed stale snippets",
			zap.String("collection", b.collection),
			zap.Strings("ids", removed),
		)
	}

	b.logger.Info("knowledge base loaded",
		zap.String("collection", b.collection),
		zap.String("dir", b.dir),
		zap.Int("snippets", len(loaded)),
	)
	return nil
}

// Search returns the top-k snippets most similar to the query.
func (b *Base) Search(ctx context.Context, query string, k int) ([]ScoredSnippet, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return []ScoredSnippet{}, nil
	}

	results, err := b.store.Search(ctx, b.collection, query, k, nil)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", b.collection, err)
	}

	snippets := make([]ScoredSnippet, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, ScoredSnippet{
			Snippet: Snippet{
				ID:    r.ID,
				Title: r.Metadata[metaTitle],
				Text:  r.Content,
				Tags:  splitTags(r.Metadata[metaTags]),
			},
			Score: float64(r.Score),
		})
	}
	return snippets, nil
}

// Snippets returns the loaded snippets sorted by id.
func (b *Base) Snippets() []Snippet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Snippet, 0, len(b.snippets))
	for _, s := range b.snippets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dir returns the watched snippet directory.
func (b *Base) Dir() string { return b.dir }

func isSnippetFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
