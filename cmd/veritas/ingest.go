package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/pkg/extract"
	"github.com/xhad/veritas/pkg/ingest"
)

func newIngestCmd() *cobra.Command {
	var (
		url      string
		maxDepth int
	)

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Extract, chunk, embed and index documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && url == "" {
				return fmt.Errorf("nothing to ingest, pass files or --url")
			}

			var bar *progressbar.ProgressBar
			a, err := newApp(cmd.Context(), ingest.WithProgress(func(done, total int) {
				if bar != nil {
					bar.ChangeMax(total)
					_ = bar.Set(done)
				}
			}))
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := collectDocuments(cmd, a, args, url, maxDepth)
			if err != nil {
				return err
			}

			for _, doc := range docs {
				bar = embedBar(doc.Filename)
				res, err := a.ingest.Ingest(cmd.Context(), doc)
				_ = bar.Finish()
				if err != nil {
					color.Red("✗ %s: %v", doc.Filename, err)
					continue
				}
				color.Green("✓ %s: %d chunks (%s)", doc.Filename, res.Chunks, res.DocumentID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Fetch documents from a URL instead of files")
	cmd.Flags().IntVar(&maxDepth, "max-depth", -1, "Follow links this many levels deep (default from config)")
	return cmd
}

func collectDocuments(cmd *cobra.Command, a *app, files []string, url string, maxDepth int) ([]models.Document, error) {
	var docs []models.Document

	for _, path := range files {
		doc, err := readDocument(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if url == "" {
		return docs, nil
	}

	if maxDepth < 0 {
		maxDepth = a.config.Scraper.MaxDepth
	}
	spinner := newFetchSpinner(url)
	fetcher, err := extract.NewFetcherWithConfig(extract.FetcherConfig{
		BaseURL:           url,
		MaxDepth:          maxDepth,
		RateLimit:         a.config.Scraper.RateLimit,
		IgnorePatterns:    a.config.Scraper.IgnorePatterns,
		AllowedExtensions: a.config.Scraper.AllowedExtensions,
		Logger:            a.logger,
		OnProgress:        spinner.Page,
	})
	if err != nil {
		return nil, err
	}
	fetched, err := fetcher.Crawl(cmd.Context(), url)
	summary := spinner.Finish()
	if err != nil {
		return nil, err
	}
	color.Green("✓ %s, %d documents", summary, len(fetched))

	for i := range fetched {
		fetched[i].OwnerID = ownerID
	}
	return append(docs, fetched...), nil
}

func readDocument(path string) (models.Document, error) {
	filename := filepath.Base(path)
	if !extract.Supported(filename) {
		return models.Document{}, fmt.Errorf("%s: %w", path, extract.ErrUnsupportedType)
	}

	f, err := os.Open(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	text, err := extract.FromReader(filename, f)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to extract %s: %w", path, err)
	}
	return models.Document{
		OwnerID:   ownerID,
		Filename:  filename,
		Content:   text,
		CreatedAt: time.Now(),
	}, nil
}

func newDeindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deindex <document-id>...",
		Short: "Remove documents from the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if owner, ok := a.ingest.Owner(id); !ok || owner != ownerID {
					color.Red("✗ %s: %v", id, ingest.ErrDocumentNotFound)
					continue
				}
				if err := a.ingest.Deindex(cmd.Context(), id); err != nil {
					return err
				}
				color.Green("✓ removed %s", id)
			}
			return nil
		},
	}
}

func newDocumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List the documents indexed for --owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			docs := a.ingest.Documents(ownerID)
			for _, d := range docs {
				color.Cyan("%s  %s", d.ID, d.Filename)
				fmt.Fprintf(cmd.OutOrStdout(), "  %d chunks, added %s\n  %s\n",
					d.Chunks, d.CreatedAt.Format(time.RFC3339), d.Preview)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d documents\n", len(docs))
			return nil
		},
	}
}
