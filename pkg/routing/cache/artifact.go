package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// FormatVersion is bumped whenever the on-disk layout changes.
const FormatVersion = 2

type Header struct {
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	EmbeddingModel  string    `json:"embedding_model"`
	Dimension       int       `json:"dimension"`
	CollectionCount int       `json:"collection_count"`
	DocumentCount   int       `json:"document_count"`
	QuestionCount   int       `json:"question_count"`
	Excluded        []string  `json:"excluded,omitempty"`
}

type CollectionEntry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DocumentIDs []string `json:"document_ids"`
}

// DocumentEntry holds the questions of one document and one vector per question.
// Questions[0] is the main question.
type DocumentEntry struct {
	ID           string      `json:"id"`
	CollectionID string      `json:"collection_id"`
	Title        string      `json:"title"`
	Questions    []string    `json:"questions"`
	Vectors      [][]float32 `json:"vectors"`
}

type QuestionEmbedding struct {
	DocumentID string
	Index      int
	Text       string
	Vector     []float32
}

// Artifact is an immutable snapshot of all question embeddings.
// Documents are kept in insertion order, which the router uses for tie breaks.
type Artifact struct {
	Header      Header            `json:"header"`
	Collections []CollectionEntry `json:"collections"`
	Documents   []DocumentEntry   `json:"documents"`

	docIndex map[string]int
	colIndex map[string]int
}

// NewArtifact assembles and validates an artifact from already embedded documents.
// Documents keep the given order.
func NewArtifact(model string, createdAt time.Time, collections []CollectionEntry, documents []DocumentEntry) (*Artifact, error) {
	a := &Artifact{
		Header: Header{
			Version:         FormatVersion,
			CreatedAt:       createdAt.UTC(),
			EmbeddingModel:  model,
			CollectionCount: len(collections),
			DocumentCount:   len(documents),
		},
		Collections: collections,
		Documents:   documents,
	}
	for _, d := range documents {
		a.Header.QuestionCount += len(d.Questions)
		if a.Header.Dimension == 0 && len(d.Vectors) > 0 {
			a.Header.Dimension = len(d.Vectors[0])
		}
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	a.buildIndex()
	return a, nil
}

func (a *Artifact) buildIndex() {
	a.docIndex = make(map[string]int, len(a.Documents))
	for i, d := range a.Documents {
		a.docIndex[d.ID] = i
	}
	a.colIndex = make(map[string]int, len(a.Collections))
	for i, c := range a.Collections {
		a.colIndex[c.ID] = i
	}
}

func (a *Artifact) Document(id string) (*DocumentEntry, bool) {
	if a == nil {
		return nil, false
	}
	i, ok := a.docIndex[id]
	if !ok {
		return nil, false
	}
	return &a.Documents[i], true
}

func (a *Artifact) Collection(id string) (*CollectionEntry, bool) {
	if a == nil {
		return nil, false
	}
	i, ok := a.colIndex[id]
	if !ok {
		return nil, false
	}
	return &a.Collections[i], true
}

func (a *Artifact) Empty() bool {
	return a == nil || len(a.Documents) == 0
}

// GetVectors returns copies of a document's question embeddings.
func (a *Artifact) GetVectors(documentID string) []QuestionEmbedding {
	doc, ok := a.Document(documentID)
	if !ok {
		return nil
	}
	out := make([]QuestionEmbedding, len(doc.Vectors))
	for i, v := range doc.Vectors {
		out[i] = QuestionEmbedding{
			DocumentID: doc.ID,
			Index:      i,
			Text:       doc.Questions[i],
			Vector:     append([]float32(nil), v...),
		}
	}
	return out
}

func (a *Artifact) validate() error {
	h := a.Header
	if h.Version != FormatVersion {
		return fmt.Errorf("unsupported format version %d (want %d)", h.Version, FormatVersion)
	}
	if h.EmbeddingModel == "" {
		return errors.New("header has no embedding model")
	}
	if h.Dimension <= 0 {
		return fmt.Errorf("header dimension %d is not positive", h.Dimension)
	}
	if h.CollectionCount != len(a.Collections) || h.DocumentCount != len(a.Documents) {
		return fmt.Errorf("header counts (%d collections, %d documents) disagree with body (%d, %d)",
			h.CollectionCount, h.DocumentCount, len(a.Collections), len(a.Documents))
	}

	questions := 0
	seen := make(map[string]bool, len(a.Documents))
	for _, d := range a.Documents {
		if seen[d.ID] {
			return fmt.Errorf("document %s appears more than once", d.ID)
		}
		seen[d.ID] = true
		if len(d.Questions) == 0 {
			return fmt.Errorf("document %s has no questions", d.ID)
		}
		if len(d.Vectors) != len(d.Questions) {
			return fmt.Errorf("document %s has %d vectors for %d questions", d.ID, len(d.Vectors), len(d.Questions))
		}
		for i, v := range d.Vectors {
			if len(v) != h.Dimension {
				return fmt.Errorf("document %s question %d has dimension %d, want %d", d.ID, i, len(v), h.Dimension)
			}
		}
		questions += len(d.Questions)
	}
	if h.QuestionCount != questions {
		return fmt.Errorf("header question count %d disagrees with body %d", h.QuestionCount, questions)
	}

	owner := make(map[string]string, len(a.Documents))
	for _, c := range a.Collections {
		for _, id := range c.DocumentIDs {
			if !seen[id] {
				return fmt.Errorf("collection %s references unknown document %s", c.ID, id)
			}
			if prev, dup := owner[id]; dup {
				return fmt.Errorf("document %s belongs to both %s and %s", id, prev, c.ID)
			}
			owner[id] = c.ID
		}
	}
	for _, d := range a.Documents {
		if owner[d.ID] != d.CollectionID {
			return fmt.Errorf("document %s is not listed by its collection %s", d.ID, d.CollectionID)
		}
	}
	return nil
}

// ReadArtifact loads and validates an artifact file without publishing it.
func ReadArtifact(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCacheMissing, path)
		}
		return nil, &CacheCorruptError{Path: path, Reason: "unreadable file", Err: err}
	}

	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, &CacheCorruptError{Path: path, Reason: "unreadable header", Err: err}
	}
	if err := a.validate(); err != nil {
		return nil, &CacheCorruptError{Path: path, Reason: "inconsistent artifact", Err: err}
	}
	a.buildIndex()
	return &a, nil
}
