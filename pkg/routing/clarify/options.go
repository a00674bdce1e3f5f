package clarify

import (
	"fmt"
	"math"

	"procedure-assistant-be/pkg/routing/router"
	"procedure-assistant-be/pkg/store"
)

const manualLabel = "None of these, I'll describe it myself"

func manualOption() store.Option {
	return store.Option{ID: store.ManualOptionID, Kind: store.OptionManual, Label: manualLabel}
}

func similarityHint(score float64, question string) string {
	pct := int(math.Round(score * 100))
	if pct < 0 {
		pct = 0
	}
	return fmt.Sprintf("%d%% similar to: %s", pct, question)
}

// collectionSelection offers collections best first. limit 0 offers all of them.
// Without a ranking the cache order is used.
func (o *Orchestrator) collectionSelection(s *store.Session, state *store.ClarificationState, ranking *router.Ranking, limit int) *Outcome {
	var options []store.Option
	if ranking != nil {
		for _, c := range ranking.Collections {
			options = append(options, store.Option{
				ID:              store.CollectionOptionID(c.CollectionID),
				Kind:            store.OptionCollection,
				Label:           c.Name,
				CollectionID:    c.CollectionID,
				MatchedQuestion: c.Best.QuestionText,
				Similarity:      c.Score,
				Hint:            similarityHint(c.Score, c.Best.QuestionText),
			})
		}
	} else if a := o.artifacts.Current(); a != nil {
		for _, c := range a.Collections {
			options = append(options, store.Option{
				ID:           store.CollectionOptionID(c.ID),
				Kind:         store.OptionCollection,
				Label:        c.Name,
				CollectionID: c.ID,
			})
		}
	}
	if limit > 0 && len(options) > limit {
		options = options[:limit]
	}

	state.Stage = store.StageCollectionSelection
	state.Options = append(options, manualOption())
	return o.pending(s, state)
}

// documentSelection offers the best document of a collection and its runner-ups.
func (o *Orchestrator) documentSelection(s *store.Session, state *store.ClarificationState, collectionID string, ranking *router.Ranking) (*Outcome, error) {
	col, ok := o.artifacts.Current().Collection(collectionID)
	if !ok {
		return nil, &StaleOptionError{OptionID: store.CollectionOptionID(collectionID), Kind: store.OptionCollection, TargetID: collectionID}
	}

	var options []store.Option
	if matches := ranking.InCollection(collectionID); len(matches) > 0 {
		if len(matches) > 1+o.cfg.RunnerUps {
			matches = matches[:1+o.cfg.RunnerUps]
		}
		for _, m := range matches {
			options = append(options, store.Option{
				ID:              store.DocumentOptionID(m.DocumentID),
				Kind:            store.OptionDocument,
				Label:           m.Title,
				CollectionID:    m.CollectionID,
				DocumentID:      m.DocumentID,
				QuestionIndex:   m.QuestionIndex,
				MatchedQuestion: m.QuestionText,
				Similarity:      m.Score,
				Hint:            similarityHint(m.Score, m.QuestionText),
			})
		}
	} else {
		a := o.artifacts.Current()
		for _, id := range col.DocumentIDs {
			doc, ok := a.Document(id)
			if !ok {
				continue
			}
			options = append(options, store.Option{
				ID:           store.DocumentOptionID(doc.ID),
				Kind:         store.OptionDocument,
				Label:        doc.Title,
				CollectionID: doc.CollectionID,
				DocumentID:   doc.ID,
			})
		}
	}

	state.Stage = store.StageDocumentSelection
	state.CollectionID = collectionID
	state.Options = append(options, manualOption())
	return o.pending(s, state), nil
}

// questionSelection lists the main question and every variant of one document.
func (o *Orchestrator) questionSelection(s *store.Session, state *store.ClarificationState, documentID string) (*Outcome, error) {
	doc, ok := o.artifacts.Current().Document(documentID)
	if !ok {
		return nil, &StaleOptionError{OptionID: store.DocumentOptionID(documentID), Kind: store.OptionDocument, TargetID: documentID}
	}

	options := make([]store.Option, 0, len(doc.Questions)+1)
	for i, q := range doc.Questions {
		options = append(options, store.Option{
			ID:              store.QuestionOptionID(doc.ID, i),
			Kind:            store.OptionQuestion,
			Label:           q,
			CollectionID:    doc.CollectionID,
			DocumentID:      doc.ID,
			QuestionIndex:   i,
			MatchedQuestion: q,
		})
	}

	state.Stage = store.StageQuestionSelection
	state.CollectionID = doc.CollectionID
	state.DocumentID = doc.ID
	state.Options = append(options, manualOption())
	return o.pending(s, state), nil
}

func (o *Orchestrator) pending(s *store.Session, state *store.ClarificationState) *Outcome {
	s.Pending = state
	o.logger.Info(module, "Clarification requested", map[string]interface{}{
		"session_id": s.ID,
		"stage":      string(state.Stage),
		"options":    len(state.Options),
	})
	return &Outcome{Clarification: state}
}
