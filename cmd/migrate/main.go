package main

import (
	"fmt"
	"log"

	"procedure-assistant-be/internal/config"
	"procedure-assistant-be/internal/model"
	"procedure-assistant-be/pkg/database"

	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()
	if cfg.Database.Connection == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.WithQueryLog(true))
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Starting procedure catalog migration...")

	// AutoMigrate does not create extensions
	log.Println("Step 1: Setting up extensions...")
	execAll(db, "setup",
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
		`CREATE EXTENSION IF NOT EXISTS vector;`,
	)

	log.Println("Step 2: Running AutoMigrate...")
	if err := db.AutoMigrate(
		&model.Collection{},
		&model.ProcedureDocument{},
		&model.ProcedureChunk{},
	); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	// The model declares vector(768); other embedding models need the column resized
	// before the index exists. This only succeeds while procedure_chunks is empty.
	if dim := cfg.Ai.EmbeddingDimension; dim > 0 && dim != 768 {
		log.Printf("Step 2b: Resizing embedding column to %d dimensions...", dim)
		execAll(db, "resize",
			`DROP INDEX IF EXISTS idx_procedure_chunks_embedding;`,
			fmt.Sprintf(`ALTER TABLE procedure_chunks ALTER COLUMN embedding_value TYPE vector(%d);`, dim),
		)
	}

	log.Println("Step 3: Creating indexes...")
	execAll(db, "post-migration",
		`CREATE INDEX IF NOT EXISTS idx_procedure_chunks_embedding
		 ON procedure_chunks USING hnsw (embedding_value vector_cosine_ops);`,
		`CREATE INDEX IF NOT EXISTS idx_procedure_documents_collection_position
		 ON procedure_documents (collection_id, position);`,
	)

	log.Println("✅ Success: Procedure catalog migration completed.")
}

func execAll(db *gorm.DB, step string, statements ...string) {
	for _, sql := range statements {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: %s SQL failed: %v. Continuing...", step, err)
		}
	}
}
