// Package ingest loads article JSON files into the articles table.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/globaltime"
	"horse.fit/curation/internal/lifecycle"
	articleschema "horse.fit/curation/schema"
)

type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
}

type Result struct {
	Files     int
	Processed int
	Inserted  int
	Updated   int
	Unchanged int
	Rejected  int
}

func (r *Result) add(o Result) {
	r.Files += o.Files
	r.Processed += o.Processed
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.Rejected += o.Rejected
}

func NewService(pool *db.Pool, logger zerolog.Logger) *Service {
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

// ImportPath imports one JSON file, or every *.json file under a directory in
// lexical order.
func (s *Service) ImportPath(ctx context.Context, path string) (Result, error) {
	if s == nil || s.pool == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, fmt.Errorf("path is required")
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	files := []string{path}
	if info.IsDir() {
		if files, err = listJSONFiles(path); err != nil {
			return Result{}, err
		}
	}

	var total Result
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			return total, fmt.Errorf("read %s: %w", file, err)
		}
		result, err := s.ImportDocument(ctx, file, raw)
		if err != nil {
			return total, err
		}
		total.add(result)
	}
	return total, nil
}

// ImportDocument validates and upserts every article in one JSON document.
// Rejected items are logged and skipped. A document that is not JSON counts
// as a single rejection.
func (s *Service) ImportDocument(ctx context.Context, name string, raw []byte) (Result, error) {
	result := Result{Files: 1}

	articles, rejected, err := articleschema.ValidateArticles(raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("import document rejected")
		result.Rejected++
		return result, nil
	}
	for _, item := range rejected {
		s.logger.Warn().Err(item.Err).Str("file", name).Int("index", item.Index).Str("article_id", item.ArticleID).Msg("import item rejected")
	}
	result.Rejected += len(rejected)

	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		publishedAt, err := article.PublishedAt()
		if err != nil {
			result.Rejected++
			continue
		}
		outcome, err := s.pool.UpsertArticle(ctx, db.ArticleInput{
			ArticleID:   article.ArticleID,
			Title:       article.Title,
			Content:     article.Content,
			Source:      article.Source,
			PublishTime: publishedAt,
		}, globaltime.UTC())
		if errors.Is(err, lifecycle.ErrMissingArticleID) {
			result.Rejected++
			continue
		}
		if err != nil {
			return result, err
		}

		switch outcome {
		case db.UpsertInserted:
			result.Inserted++
		case db.UpsertUpdated:
			result.Updated++
		default:
			result.Unchanged++
		}
	}

	s.logger.Debug().
		Str("file", name).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("rejected", result.Rejected).
		Msg("import document completed")
	return result, nil
}

func listJSONFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
