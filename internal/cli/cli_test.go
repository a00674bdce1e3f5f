package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"procedure-assistant-be/internal/repository/audit"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/confidence"
	"procedure-assistant-be/pkg/routing/router"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestCommandsRegisterFlags(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewRebuildCmd(), "rebuild", []string{"timeout", "notify"}},
		{NewInspectCmd(), "inspect", []string{"json"}},
		{NewRouteCmd(), "route <query>", []string{"top", "collection"}},
		{NewAuditCmd(), "audit", []string{"since"}},
		{NewSeedCmd(), "seed", []string{"file", "chunk-size", "overlap", "timeout"}},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short)
			for _, f := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(f), "flag %s", f)
			}
		})
	}
}

func TestRouteCmdRequiresQuery(t *testing.T) {
	cmd := NewRouteCmd()
	assert.Error(t, cmd.Args(cmd, nil))
	assert.NoError(t, cmd.Args(cmd, []string{"renew", "passport"}))
}

func TestSeedCmdDefaults(t *testing.T) {
	cmd := NewSeedCmd()
	assert.Equal(t, "f", cmd.Flags().Lookup("file").Shorthand)
	assert.Equal(t, "data/procedures.seed.json", cmd.Flags().Lookup("file").DefValue)
	assert.Equal(t, "800", cmd.Flags().Lookup("chunk-size").DefValue)
	assert.Equal(t, "100", cmd.Flags().Lookup("overlap").DefValue)
}

func TestSeedCmdRejectsOverlapNotBelowChunkSize(t *testing.T) {
	cmd := NewSeedCmd()
	cmd.SetArgs([]string{"--chunk-size", "100", "--overlap", "100"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--overlap")
}

func TestReadSeedFile(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		wantDoc int
	}{
		{
			name:    "valid fixture",
			body:    `{"collections":[{"name":"Passport","documents":[{"title":"Renew","main_question":"How do I renew my passport?","body":"Bring the old one."}]}]}`,
			wantDoc: 1,
		},
		{name: "malformed json", body: `{"collections":`, wantErr: "parse"},
		{name: "no collections", body: `{"collections":[]}`, wantErr: "no collections"},
		{
			name:    "document without questions",
			body:    `{"collections":[{"name":"Tax","documents":[{"title":"Empty","body":"..."}]}]}`,
			wantErr: "has no questions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "seed.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			fixture, err := readSeedFile(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, fixture.Collections[0].Documents, tt.wantDoc)
		})
	}
}

func TestReadSeedFile_RepositoryFixture(t *testing.T) {
	fixture, err := readSeedFile(filepath.Join("..", "..", "data", "procedures.seed.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, fixture.Collections)
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	printHeader(&buf, "data/routing-cache/routing-cache.test.json", cache.Header{
		Version:         cache.FormatVersion,
		CreatedAt:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		EmbeddingModel:  "ollama/nomic-embed-text",
		Dimension:       768,
		CollectionCount: 3,
		DocumentCount:   6,
		QuestionCount:   36,
		Excluded:        []string{"doc-9"},
	})

	out := buf.String()
	assert.Contains(t, out, "ollama/nomic-embed-text")
	assert.Contains(t, out, "Dimension:   768")
	assert.Contains(t, out, "Questions:   36")
	assert.Contains(t, out, "Excluded:    doc-9")
}

func TestPrintDecision(t *testing.T) {
	d := &router.Decision{
		CollectionID:         "passports",
		DocumentID:           "renew",
		Score:                0.8,
		Level:                confidence.MediumHigh,
		MatchedQuestion:      "How do I renew my passport?",
		MatchedQuestionIndex: 0,
		WasOverridden:        true,
		Original:             &router.OriginalConfidence{Score: 0.41, Level: confidence.VeryLow},
		Ranking: &router.Ranking{
			Documents: []router.Match{
				{DocumentID: "renew", CollectionID: "passports", Title: "Renew a passport", Score: 0.41},
				{DocumentID: "lost", CollectionID: "passports", Title: "Report a lost passport", Score: 0.30},
			},
			Collections: []router.CollectionMatch{{CollectionID: "passports", Name: "Passports", Score: 0.41}},
		},
	}

	var buf bytes.Buffer
	printDecision(&buf, d, 1)
	out := buf.String()

	assert.Contains(t, out, "Decision: medium_high (0.800)")
	assert.Contains(t, out, "(main #0)")
	assert.Contains(t, out, "Overridden: was very_low (0.410)")
	assert.Contains(t, out, "Renew a passport")
	assert.NotContains(t, out, "Report a lost passport")
}

func TestPrintSummary_OrdersBandsHighestFirst(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, "24h0m0s", &audit.Summary{
		Total:   4,
		Answers: 2,
		ByLevel: map[string]int{"low": 1, "high": 2, "medium": 1},
	})

	out := buf.String()
	assert.Contains(t, out, "Turns:          4")
	high := bytes.Index(buf.Bytes(), []byte("high"))
	medium := bytes.Index(buf.Bytes(), []byte("medium"))
	low := bytes.Index(buf.Bytes(), []byte("low "))
	assert.True(t, high < medium && medium < low, out)
}
