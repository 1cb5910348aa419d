package articleschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed article.schema.json
var articleSchemaJSON string

type Article struct {
	ArticleID   string  `json:"article_id"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Source      string  `json:"source"`
	PublishTime *string `json:"publish_time,omitempty"`
}

// PublishedAt parses publish_time. A missing or blank value yields nil.
func (a Article) PublishedAt() (*time.Time, error) {
	if a.PublishTime == nil || strings.TrimSpace(*a.PublishTime) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*a.PublishTime))
	if err != nil {
		return nil, fmt.Errorf("publish_time must be RFC3339: %w", err)
	}
	t = t.UTC()
	return &t, nil
}

// ItemError reports one rejected element of an import file.
type ItemError struct {
	Index     int
	ArticleID string
	Err       error
}

func (e ItemError) Error() string {
	if e.ArticleID != "" {
		return fmt.Sprintf("item %d (article_id=%s): %v", e.Index, e.ArticleID, e.Err)
	}
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateArticlePayload(payload json.RawMessage) (*Article, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}
	return validateValue(value)
}

// ValidateArticles accepts a single article object or an array of them.
// Invalid elements are returned as item errors; only a document that cannot
// be decoded at all fails as a whole.
func ValidateArticles(payload []byte) ([]Article, []ItemError, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	elements, isArray := value.([]any)
	if !isArray {
		elements = []any{value}
	}

	articles := make([]Article, 0, len(elements))
	var rejected []ItemError
	for i, element := range elements {
		article, err := validateValue(element)
		if err != nil {
			rejected = append(rejected, ItemError{Index: i, ArticleID: peekArticleID(element), Err: err})
			continue
		}
		articles = append(articles, *article)
	}
	return articles, rejected, nil
}

func validateValue(value any) (*Article, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}
	var article Article
	if err := json.Unmarshal(normalized, &article); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&article); err != nil {
		return nil, err
	}
	return &article, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("article.schema.json", strings.NewReader(articleSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("article.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(article *Article) error {
	if article == nil {
		return fmt.Errorf("payload is nil")
	}

	article.ArticleID = strings.TrimSpace(article.ArticleID)
	if article.ArticleID == "" {
		return fmt.Errorf("article_id must not be empty")
	}
	if _, err := article.PublishedAt(); err != nil {
		return err
	}
	return nil
}

func peekArticleID(value any) string {
	obj, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := obj["article_id"].(string)
	return strings.TrimSpace(id)
}
