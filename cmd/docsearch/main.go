// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/docsearch"
	"github.com/poiesic/docsearch/ai"
	"github.com/poiesic/docsearch/ingestion"
	"github.com/poiesic/docsearch/search"
	"github.com/poiesic/docsearch/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "docsearch",
		Usage: "PDF ingestion and semantic retrieval over a local vector index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before:   setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest PDF files into the index",
				ArgsUsage: "FILE [FILE...]",
				Action:    ingestCommand,
				Flags:     append(databaseFlags(), embeddingFlags()...),
			},
			{
				Name:      "query",
				Usage:     "Retrieve passages matching a free-text query",
				ArgsUsage: "QUERY",
				Action:    queryCommand,
				Flags: append(append(databaseFlags(), embeddingFlags()...),
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Maximum number of passages to return",
						Value:   search.DefaultTopK,
					},
					&cli.Float64Flag{
						Name:  "min-similarity",
						Usage: "Minimum cosine similarity for a result",
						Value: search.DefaultMinSimilarity,
					},
					&cli.StringSliceFlag{
						Name:  "document",
						Usage: "Restrict results to the given document IDs",
					},
				),
			},
			{
				Name:      "delete",
				Usage:     "Remove a document from the index",
				ArgsUsage: "DOCUMENT_ID",
				Action:    deleteCommand,
				Flags:     databaseFlags(),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB index directory",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "collection",
			Usage: "Collection name",
			Value: docsearch.DefaultCollection,
		},
	}
}

func embeddingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL",
			Value:   "http://localhost:11434/v1",
			EnvVars: []string{"DOCSEARCH_EMBEDDING_HOST"},
		},
		&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "Embedding model name",
			Value:   "embeddinggemma",
			EnvVars: []string{"DOCSEARCH_EMBEDDING_MODEL"},
		},
		&cli.StringFlag{
			Name:    "api-token",
			Usage:   "Bearer token for the embedding service",
			Value:   "none",
			EnvVars: []string{"DOCSEARCH_API_TOKEN"},
		},
	}
}

func openDatabase(c *cli.Context) (*docsearch.Database, error) {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithAPIToken(c.String("api-token")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding configuration: %w", err)
	}

	return docsearch.NewDatabase(c.String("db"),
		docsearch.WithAIConfig(aiConfig),
		docsearch.WithCollection(c.String("collection")),
	)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	db, err := openDatabase(c)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	coordinator, err := db.NewCoordinator()
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	defer coordinator.Release()

	ctx := context.Background()
	failures := 0
	for _, path := range c.Args().Slice() {
		input := ingestion.DocumentInput{
			ID:   filepath.Base(path),
			Path: path,
		}

		task, err := coordinator.Submit(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failures++
			continue
		}

		if err := task.Wait(ctx); err != nil {
			stage, _ := task.Failure()
			fmt.Fprintf(os.Stderr, "%s: failed at %s: %v\n", path, stage, err)
			failures++
			continue
		}
		fmt.Printf("%s: indexed version %d\n", input.ID, task.Version())
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d files failed", failures, c.NArg())
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("a query is required")
	}
	query := strings.Join(c.Args().Slice(), " ")

	db, err := openDatabase(c)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	searcher, err := db.NewSearcher(
		search.WithMinSimilarity(float32(c.Float64("min-similarity"))),
	)
	if err != nil {
		return fmt.Errorf("failed to create searcher: %w", err)
	}

	var filters *storage.Filters
	if ids := c.StringSlice("document"); len(ids) > 0 {
		filters = &storage.Filters{DocumentIDs: ids}
	}

	results, err := searcher.Retrieve(context.Background(), query, c.Int("top-k"), filters)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	fmt.Printf("Found %d passages\n", len(results))
	for i, hit := range results {
		chunk := hit.Record.Chunk
		location := fmt.Sprintf("chunk %d", chunk.Seq)
		if chunk.Page > 0 {
			location = fmt.Sprintf("page %d, %s", chunk.Page, location)
		}
		fmt.Printf("%d: %s (%s) [%0.3f]\n%s\n\n", i+1, chunk.DocumentID, location, hit.Score, chunk.Text)
	}
	return nil
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one document ID is required")
	}
	documentID := c.Args().First()

	// Deleting never embeds, so the default provider config is fine.
	db, err := docsearch.NewDatabase(c.String("db"),
		docsearch.WithCollection(c.String("collection")),
	)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Index().Delete(context.Background(), db.Collection(), documentID); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Printf("%s: deleted\n", documentID)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
