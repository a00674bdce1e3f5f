package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"procedure-assistant-be/internal/repository/contract"
	"procedure-assistant-be/internal/repository/unitofwork"
	"procedure-assistant-be/pkg/database"
	"procedure-assistant-be/pkg/embedding"
	"procedure-assistant-be/pkg/store"
	"procedure-assistant-be/pkg/utils"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type seedFile struct {
	Collections []seedCollection `json:"collections"`
}

type seedCollection struct {
	Name      string         `json:"name"`
	Documents []seedDocument `json:"documents"`
}

type seedDocument struct {
	Title        string                 `json:"title"`
	MainQuestion string                 `json:"main_question"`
	Variants     []string               `json:"variants"`
	Metadata     map[string]interface{} `json:"metadata"`
	Body         string                 `json:"body"`
}

func (d seedDocument) document(collectionID string) *store.Document {
	return &store.Document{
		CollectionID: collectionID,
		Title:        d.Title,
		MainQuestion: d.MainQuestion,
		Variants:     d.Variants,
		Metadata:     d.Metadata,
	}
}

type seedOptions struct {
	file      string
	chunkSize int
	overlap   int
	timeout   time.Duration
}

// NewSeedCmd creates the 'seed' command, which loads a procedure catalog
// fixture into an empty database.
func NewSeedCmd() *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a procedure catalog fixture into the database",
		Long: `Create the collections and documents of a JSON fixture in curated order and
embed each document body as overlapping content chunks, all in one transaction.
The routing cache is not touched; run 'routerctl rebuild' afterwards.`,
		Example: `  routerctl seed
  routerctl seed -f data/procedures.seed.json --chunk-size 600 --overlap 80`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.chunkSize <= 0 || opts.overlap < 0 || opts.overlap >= opts.chunkSize {
				return fmt.Errorf("--overlap must be in [0, --chunk-size)")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runSeed(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "data/procedures.seed.json", "Procedure catalog fixture")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 800, "Characters per content chunk")
	cmd.Flags().IntVar(&opts.overlap, "overlap", 100, "Characters shared by neighbouring chunks")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "Abort the seed after this long")

	return cmd
}

// readSeedFile parses a fixture and rejects documents the router could never match.
func readSeedFile(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var fixture seedFile
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(fixture.Collections) == 0 {
		return nil, fmt.Errorf("%s has no collections", path)
	}
	for _, col := range fixture.Collections {
		for _, d := range col.Documents {
			if !d.document("").Routable() {
				return nil, fmt.Errorf("document '%s' in '%s' has no questions", d.Title, col.Name)
			}
		}
	}
	return &fixture, nil
}

func runSeed(ctx context.Context, cmd *cobra.Command, opts seedOptions) error {
	fixture, err := readSeedFile(opts.file)
	if err != nil {
		return err
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	db, err := database.NewGormDBFromDSN(e.cfg.Database.Connection,
		database.WithPool(1, 2, time.Hour),
		database.WithSlowThreshold(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Seeding %d collections with %s...\n", len(fixture.Collections), e.core.Embedder.ModelID())
	docs := 0
	err = unitofwork.InTransaction(ctx, unitofwork.NewRepositoryFactory(db), func(uow unitofwork.UnitOfWork) error {
		for ci, col := range fixture.Collections {
			collectionID, err := uow.ProcedureRepository().CreateCollection(ctx, col.Name, ci)
			if err != nil {
				return fmt.Errorf("create collection '%s': %w", col.Name, err)
			}
			for di, d := range col.Documents {
				if err := seedDocumentWithChunks(ctx, uow, e.core.Embedder, collectionID, di, d, opts); err != nil {
					return fmt.Errorf("create document '%s': %w", d.Title, err)
				}
				docs++
			}
			fmt.Fprintf(out, "  %s (%d documents)\n", col.Name, len(col.Documents))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed failed, nothing was written: %w", err)
	}

	color.New(color.FgGreen).Fprintf(out, "✓ Seeded %d collections, %d documents\n", len(fixture.Collections), docs)
	fmt.Fprintln(out, "Run 'routerctl rebuild' to refresh the routing cache.")
	return nil
}

func seedDocumentWithChunks(
	ctx context.Context,
	uow unitofwork.UnitOfWork,
	embedder embedding.Embedder,
	collectionID string,
	position int,
	d seedDocument,
	opts seedOptions,
) error {
	doc := d.document(collectionID)
	if err := uow.ProcedureRepository().CreateDocument(ctx, doc, d.Body, position); err != nil {
		return err
	}

	var chunks []contract.ChunkInput
	for _, part := range utils.SplitText(d.Body, opts.chunkSize, opts.overlap) {
		if part == "" {
			continue
		}
		vec, err := embedder.Embed(ctx, part)
		if err != nil {
			return fmt.Errorf("embed chunk: %w", err)
		}
		chunks = append(chunks, contract.ChunkInput{Content: part, Vector: vec})
	}

	return uow.ProcedureChunkRepository().ReplaceForDocument(ctx, uuid.MustParse(doc.ID), chunks)
}
