package articleschema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestValidateArticlePayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"article_id":"bj-20260504-001",
		"title":"市教委发布通知",
		"content":"全市中小学开展安全检查。",
		"source":"北京日报",
		"publish_time":"2026-05-04T08:30:00+08:00"
	}`)

	article, err := ValidateArticlePayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if article.ArticleID != "bj-20260504-001" {
		t.Fatalf("expected article_id=bj-20260504-001, got %q", article.ArticleID)
	}

	published, err := article.PublishedAt()
	if err != nil {
		t.Fatalf("PublishedAt: %v", err)
	}
	want := time.Date(2026, 5, 4, 0, 30, 0, 0, time.UTC)
	if published == nil || !published.Equal(want) || published.Location() != time.UTC {
		t.Fatalf("expected publish time %v in UTC, got %v", want, published)
	}
}

func TestValidateArticlePayload_MissingArticleID(t *testing.T) {
	_, err := ValidateArticlePayload(json.RawMessage(`{"title":"no id"}`))
	if err == nil {
		t.Fatalf("expected validation to fail for missing article_id")
	}
}

func TestValidateArticlePayload_WhitespaceArticleID(t *testing.T) {
	_, err := ValidateArticlePayload(json.RawMessage(`{"article_id":"   "}`))
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only article_id")
	}
	if !strings.Contains(err.Error(), "article_id must not be empty") {
		t.Fatalf("expected article_id semantic error, got: %v", err)
	}
}

func TestValidateArticlePayload_BadPublishTime(t *testing.T) {
	_, err := ValidateArticlePayload(json.RawMessage(`{"article_id":"x","publish_time":"yesterday"}`))
	if err == nil {
		t.Fatalf("expected validation to fail for non RFC3339 publish_time")
	}
}

func TestValidateArticlePayload_NullPublishTime(t *testing.T) {
	article, err := ValidateArticlePayload(json.RawMessage(`{"article_id":"x","publish_time":null}`))
	if err != nil {
		t.Fatalf("expected null publish_time to be accepted, got: %v", err)
	}
	if published, _ := article.PublishedAt(); published != nil {
		t.Fatalf("expected nil publish time, got %v", published)
	}
}

func TestValidateArticlePayload_TrailingContent(t *testing.T) {
	_, err := ValidateArticlePayload(json.RawMessage(`{"article_id":"x"} {"article_id":"y"}`))
	if err == nil || !strings.Contains(err.Error(), "trailing content") {
		t.Fatalf("expected trailing content error, got: %v", err)
	}
}

func TestValidateArticles_ArraySkipsInvalidItems(t *testing.T) {
	payload := []byte(`[
		{"article_id":"a","content":"one"},
		{"article_id":"b","title":42},
		{"title":"missing id"},
		{"article_id":" c ","content":"three"}
	]`)

	articles, rejected, err := ValidateArticles(payload)
	if err != nil {
		t.Fatalf("ValidateArticles: %v", err)
	}
	if len(articles) != 2 || articles[0].ArticleID != "a" || articles[1].ArticleID != "c" {
		t.Fatalf("unexpected articles: %+v", articles)
	}
	if len(rejected) != 2 {
		t.Fatalf("expected 2 rejected items, got %d", len(rejected))
	}
	if rejected[0].Index != 1 || rejected[0].ArticleID != "b" {
		t.Fatalf("unexpected first rejection: %+v", rejected[0])
	}
	if !strings.Contains(rejected[1].Error(), "item 2") {
		t.Fatalf("unexpected second rejection message: %v", rejected[1])
	}
}

func TestValidateArticles_SingleObject(t *testing.T) {
	articles, rejected, err := ValidateArticles([]byte(`{"article_id":"solo"}`))
	if err != nil || len(rejected) != 0 || len(articles) != 1 {
		t.Fatalf("unexpected result: %+v %+v %v", articles, rejected, err)
	}
}

func TestValidateArticles_NotJSON(t *testing.T) {
	if _, _, err := ValidateArticles([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
