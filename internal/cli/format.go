package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"procedure-assistant-be/internal/repository/audit"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/confidence"
	"procedure-assistant-be/pkg/routing/router"

	"github.com/fatih/color"
)

var levelColors = map[confidence.Level]*color.Color{
	confidence.High:       color.New(color.FgGreen, color.Bold),
	confidence.MediumHigh: color.New(color.FgCyan),
	confidence.Medium:     color.New(color.FgYellow),
	confidence.Low:        color.New(color.FgMagenta),
	confidence.VeryLow:    color.New(color.FgRed),
}

func colorLevel(l confidence.Level) string {
	c, ok := levelColors[l]
	if !ok {
		return l.String()
	}
	return c.Sprint(l.String())
}

func printHeader(w io.Writer, path string, h cache.Header) {
	fmt.Fprintf(w, "Routing cache: %s\n\n", path)
	fmt.Fprintf(w, "  Version:     %d\n", h.Version)
	fmt.Fprintf(w, "  Created:     %s\n", h.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "  Model:       %s\n", h.EmbeddingModel)
	fmt.Fprintf(w, "  Dimension:   %d\n", h.Dimension)
	fmt.Fprintf(w, "  Collections: %d\n", h.CollectionCount)
	fmt.Fprintf(w, "  Documents:   %d\n", h.DocumentCount)
	fmt.Fprintf(w, "  Questions:   %d\n", h.QuestionCount)
	if len(h.Excluded) > 0 {
		color.New(color.FgYellow).Fprintf(w, "  Excluded:    %s\n", strings.Join(h.Excluded, ", "))
	}
}

func printDecision(w io.Writer, d *router.Decision, top int) {
	fmt.Fprintf(w, "Decision: %s (%.3f)\n", colorLevel(d.Level), d.Score)
	fmt.Fprintf(w, "  Collection: %s\n", d.CollectionID)
	if d.DocumentID != "" {
		fmt.Fprintf(w, "  Document:   %s\n", d.DocumentID)
	}
	if d.MatchedQuestion != "" {
		kind := "variant"
		if d.MatchedQuestionIndex == 0 {
			kind = "main"
		}
		fmt.Fprintf(w, "  Matched:    %q (%s #%d)\n", d.MatchedQuestion, kind, d.MatchedQuestionIndex)
	}
	if d.WasOverridden && d.Original != nil {
		fmt.Fprintf(w, "  Overridden: was %s (%.3f)\n", colorLevel(d.Original.Level), d.Original.Score)
	}

	if d.Ranking == nil {
		return
	}
	fmt.Fprintln(w, "\nTop documents:")
	for i, m := range d.Ranking.Documents {
		if i == top {
			break
		}
		fmt.Fprintf(w, "  %2d. %.3f  %-40s  [%s]  %q\n", i+1, m.Score, m.Title, m.CollectionID, m.QuestionText)
	}
	fmt.Fprintln(w, "\nCollections:")
	for i, c := range d.Ranking.Collections {
		if i == top {
			break
		}
		fmt.Fprintf(w, "  %2d. %.3f  %s\n", i+1, c.Score, c.Name)
	}
}

func printSummary(w io.Writer, window string, s *audit.Summary) {
	fmt.Fprintf(w, "Routing audit, last %s\n\n", window)
	fmt.Fprintf(w, "  Turns:          %d\n", s.Total)
	fmt.Fprintf(w, "  Answers:        %d\n", s.Answers)
	fmt.Fprintf(w, "  Clarifications: %d\n", s.Clarifications)
	fmt.Fprintf(w, "  Overridden:     %d\n", s.Overridden)
	fmt.Fprintf(w, "  Degraded:       %d\n", s.Degraded)
	if len(s.ByLevel) == 0 {
		return
	}

	fmt.Fprintln(w, "\n  By confidence:")
	levels := make([]string, 0, len(s.ByLevel))
	for l := range s.ByLevel {
		levels = append(levels, l)
	}
	// highest band first; unknown names go last
	sort.Slice(levels, func(i, j int) bool {
		li, errI := confidence.ParseLevel(levels[i])
		lj, errJ := confidence.ParseLevel(levels[j])
		if errI != nil || errJ != nil {
			return errI == nil
		}
		return lj.Below(li)
	})
	for _, name := range levels {
		label := name
		if l, err := confidence.ParseLevel(name); err == nil {
			label = colorLevel(l)
		}
		fmt.Fprintf(w, "    %-12s %d\n", label, s.ByLevel[name])
	}
}
