package store

// Collection is a named bucket of related procedures. Immutable at query time.
type Collection struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DocumentIDs []string `json:"document_ids"`
}

// Document is one procedure with its canonical questions.
// Metadata (fee, timing, agency...) is opaque to routing.
type Document struct {
	ID           string                 `json:"id"`
	CollectionID string                 `json:"collection_id"`
	Title        string                 `json:"title"`
	MainQuestion string                 `json:"main_question"`
	Variants     []string               `json:"variants"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Questions returns the main question followed by the variants, skipping blanks.
// Index 0 is always the main question when it is set.
func (d Document) Questions() []string {
	questions := make([]string, 0, len(d.Variants)+1)
	if d.MainQuestion != "" {
		questions = append(questions, d.MainQuestion)
	}
	for _, v := range d.Variants {
		if v != "" {
			questions = append(questions, v)
		}
	}
	return questions
}

// Routable reports whether the document has at least one question to embed.
func (d Document) Routable() bool {
	return len(d.Questions()) > 0
}
