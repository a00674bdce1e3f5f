package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/pkg/embedding"
	"procedure-assistant-be/pkg/store"
)

const module = "CACHE"

// DocumentSource is the procedure repository the cache is rebuilt from.
// GetDocument returns (nil, nil) when the document does not exist.
type DocumentSource interface {
	ListCollections(ctx context.Context) ([]store.Collection, error)
	GetDocument(ctx context.Context, id string) (*store.Document, error)
}

type Config struct {
	Dir       string
	Dimension int // 0 takes the dimension of the first embedded question
}

// Store owns the current artifact. Readers get an immutable snapshot through
// Current; Rebuild publishes a new snapshot with a single pointer swap.
type Store struct {
	cfg      Config
	embedder embedding.Embedder
	logger   logger.ILogger
	now      func() time.Time

	current   atomic.Pointer[Artifact]
	rebuildMu sync.Mutex

	errMu   sync.RWMutex
	loadErr error
}

func NewStore(cfg Config, embedder embedding.Embedder, log logger.ILogger) *Store {
	return &Store{
		cfg:      cfg,
		embedder: embedder,
		logger:   log,
		now:      time.Now,
	}
}

func (s *Store) ModelID() string {
	return s.embedder.ModelID()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Path is keyed by embedding model so artifacts of different models never collide.
func (s *Store) Path() string {
	return filepath.Join(s.cfg.Dir, "routing-cache."+unsafeChars.ReplaceAllString(s.ModelID(), "_")+".json")
}

// Current returns the live artifact, or nil if none has been loaded.
func (s *Store) Current() *Artifact {
	return s.current.Load()
}

// Err returns the load error that left the store without an artifact.
func (s *Store) Err() error {
	if s.current.Load() != nil {
		return nil
	}
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.loadErr
}

func (s *Store) setErr(err error) {
	s.errMu.Lock()
	s.loadErr = err
	s.errMu.Unlock()
}

func (s *Store) GetVectors(documentID string) []QuestionEmbedding {
	return s.Current().GetVectors(documentID)
}

func (s *Store) publish(a *Artifact) {
	s.current.Store(a)
	s.setErr(nil)
}

// Load reads the artifact for the configured model and publishes it.
// On failure the previously published artifact, if any, stays live.
func (s *Store) Load() (*Artifact, error) {
	a, err := ReadArtifact(s.Path())
	if err == nil && a.Header.EmbeddingModel != s.ModelID() {
		err = fmt.Errorf("%w: artifact has %q, configured %q", ErrModelMismatch, a.Header.EmbeddingModel, s.ModelID())
	}
	if err != nil {
		s.setErr(err)
		s.logger.Error(module, "Failed to load routing cache", map[string]interface{}{
			"path":  s.Path(),
			"error": err.Error(),
		})
		return nil, err
	}

	s.publish(a)
	s.logger.Info(module, "Routing cache loaded", map[string]interface{}{
		"path":        s.Path(),
		"model":       a.Header.EmbeddingModel,
		"documents":   a.Header.DocumentCount,
		"questions":   a.Header.QuestionCount,
		"created_at":  a.Header.CreatedAt,
		"collections": a.Header.CollectionCount,
	})
	return a, nil
}

// EnsureFresh loads the artifact, rebuilding it when it is missing, corrupt,
// or was produced by a different embedding model.
func (s *Store) EnsureFresh(ctx context.Context, src DocumentSource) (*Artifact, bool, error) {
	a, err := s.Load()
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, ErrCacheMissing) && !errors.Is(err, ErrModelMismatch) && !IsCorrupt(err) {
		return nil, false, err
	}

	s.logger.Warn(module, "Routing cache needs rebuild", map[string]interface{}{"reason": err.Error()})
	a, err = s.Rebuild(ctx, src)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// Rebuild embeds every routable question, writes the artifact atomically and
// swaps it in. Any embed failure aborts the rebuild and the live artifact is kept.
func (s *Store) Rebuild(ctx context.Context, src DocumentSource) (*Artifact, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	started := s.now()
	collections, err := src.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	a := &Artifact{
		Header: Header{
			Version:        FormatVersion,
			CreatedAt:      started.UTC(),
			EmbeddingModel: s.ModelID(),
			Dimension:      s.cfg.Dimension,
		},
	}

	seen := make(map[string]string)
	exclude := func(id, reason string) {
		a.Header.Excluded = append(a.Header.Excluded, id)
		s.logger.Warn(module, "Document excluded from routing", map[string]interface{}{
			"document_id": id,
			"reason":      reason,
		})
	}

	for _, c := range collections {
		entry := CollectionEntry{ID: c.ID, Name: c.Name}

		for _, docID := range c.DocumentIDs {
			if owner, dup := seen[docID]; dup {
				exclude(docID, fmt.Sprintf("already listed by collection %s", owner))
				continue
			}

			doc, err := src.GetDocument(ctx, docID)
			if err != nil {
				return nil, fmt.Errorf("get document %s: %w", docID, err)
			}
			if doc == nil {
				exclude(docID, "not found in repository")
				continue
			}
			if doc.CollectionID != "" && doc.CollectionID != c.ID {
				exclude(docID, fmt.Sprintf("belongs to collection %s, listed by %s", doc.CollectionID, c.ID))
				continue
			}

			questions := doc.Questions()
			if len(questions) == 0 {
				exclude(docID, "no questions")
				continue
			}

			vectors := make([][]float32, len(questions))
			for i, q := range questions {
				vec, err := s.embedder.Embed(ctx, q)
				if err != nil {
					return nil, fmt.Errorf("embed question %d of document %s: %w", i, docID, err)
				}
				if a.Header.Dimension == 0 {
					a.Header.Dimension = len(vec)
				}
				if len(vec) != a.Header.Dimension {
					return nil, fmt.Errorf("document %s question %d: embedding dimension %d, want %d",
						docID, i, len(vec), a.Header.Dimension)
				}
				vectors[i] = vec
			}

			seen[docID] = c.ID
			a.Documents = append(a.Documents, DocumentEntry{
				ID:           doc.ID,
				CollectionID: c.ID,
				Title:        doc.Title,
				Questions:    questions,
				Vectors:      vectors,
			})
			entry.DocumentIDs = append(entry.DocumentIDs, doc.ID)
			a.Header.QuestionCount += len(questions)
		}

		if len(entry.DocumentIDs) == 0 {
			s.logger.Warn(module, "Collection has no routable documents", map[string]interface{}{"collection_id": c.ID})
			continue
		}
		a.Collections = append(a.Collections, entry)
	}

	a.Header.CollectionCount = len(a.Collections)
	a.Header.DocumentCount = len(a.Documents)
	if len(a.Documents) == 0 {
		return nil, errors.New("rebuild produced no routable documents")
	}
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("rebuilt artifact is inconsistent: %w", err)
	}
	a.buildIndex()

	if err := writeAtomic(s.Path(), a); err != nil {
		return nil, err
	}
	s.publish(a)

	s.logger.Info(module, "Routing cache rebuilt", map[string]interface{}{
		"path":      s.Path(),
		"documents": a.Header.DocumentCount,
		"questions": a.Header.QuestionCount,
		"excluded":  len(a.Header.Excluded),
		"duration":  s.now().Sub(started).String(),
	})
	return a, nil
}

// writeAtomic writes to a temp file in the same directory, fsyncs it and renames
// it over the target, so readers never observe a partial file.
func writeAtomic(path string, a *Artifact) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".routing-cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = json.NewEncoder(tmp).Encode(a); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}

	if d, dirErr := os.Open(dir); dirErr == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
