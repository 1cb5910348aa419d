package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/curation/internal/db"
	"horse.fit/curation/internal/globaltime"
	"horse.fit/curation/internal/lifecycle"
	"horse.fit/curation/internal/review"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type statsResponse struct {
	Curation      map[string]int64 `json:"curation"`
	Reviews       map[string]int64 `json:"reviews"`
	ExportRecords int64            `json:"export_records"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

type reviewResponse struct {
	ArticleID     string     `json:"article_id"`
	ReviewUUID    string     `json:"review_uuid"`
	Status        string     `json:"status"`
	ReportType    string     `json:"report_type"`
	Rank          *float64   `json:"rank,omitempty"`
	Summary       *string    `json:"summary,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	ScoreOverride *float64   `json:"score_override,omitempty"`
	DecidedBy     *string    `json:"decided_by,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type enqueueRequest struct {
	ArticleID  string `json:"article_id"`
	ReportType string `json:"report_type"`
}

type statusItem struct {
	ArticleID string   `json:"article_id"`
	Status    string   `json:"status"`
	Rank      *float64 `json:"rank"`
}

type updateStatusesRequest struct {
	Actor string       `json:"actor"`
	Items []statusItem `json:"items"`
}

type resetRequest struct {
	Actor      string   `json:"actor"`
	ArticleIDs []string `json:"article_ids"`
}

type editReviewRequest struct {
	Summary *string  `json:"summary"`
	Notes   *string  `json:"notes"`
	Score   *float64 `json:"score"`
}

func toReviewResponse(r db.ManualReview) reviewResponse {
	return reviewResponse{
		ArticleID:     r.ArticleID,
		ReviewUUID:    r.ReviewUUID,
		Status:        r.Status,
		ReportType:    r.ReportType,
		Rank:          r.Rank,
		Summary:       r.Summary,
		Notes:         r.Notes,
		ScoreOverride: r.ScoreOverride,
		DecidedBy:     r.DecidedBy,
		DecidedAt:     r.DecidedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pool.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		return internalError(c, "Database unavailable")
	}
	return success(c, map[string]any{
		"service": "curation",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	if cached, ok := s.cache.Get(statsCacheKey); ok {
		return success(c, cached)
	}

	ctx := c.Request().Context()
	curation, err := s.pool.CurationStatusCounts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("query curation counts failed")
		return internalError(c, "Failed to load stats")
	}
	reviews, err := s.pool.ReviewStatusCounts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("query review counts failed")
		return internalError(c, "Failed to load stats")
	}
	exported, err := s.pool.CountExportRecords(ctx, "")
	if err != nil {
		s.logger.Error().Err(err).Msg("count export records failed")
		return internalError(c, "Failed to load stats")
	}

	stats := statsResponse{
		Curation:      countsByStatus(curation),
		Reviews:       countsByStatus(reviews),
		ExportRecords: exported,
		GeneratedAt:   globaltime.UTC(),
	}
	s.cache.SetDefault(statsCacheKey, stats)
	return success(c, stats)
}

func countsByStatus(rows []db.StatusCount) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out
}

func (s *Server) handleReviews(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	region := strings.ToLower(strings.TrimSpace(c.QueryParam("region")))
	if region != "" && region != db.RegionBeijing && region != db.RegionOther {
		return failValidation(c, map[string]string{"region": "must be beijing or other"})
	}

	filter := db.ReviewFilter{
		Status:     c.QueryParam("status"),
		ReportType: strings.TrimSpace(c.QueryParam("report_type")),
		Region:     region,
		Sentiment:  strings.ToLower(strings.TrimSpace(c.QueryParam("sentiment"))),
		Page:       page,
		PageSize:   pageSize,
	}
	items, err := s.queue.List(c.Request().Context(), filter)
	if errors.Is(err, review.ErrInvalidStatus) {
		return failValidation(c, map[string]string{"status": err.Error()})
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("list reviews failed")
		return internalError(c, "Failed to load reviews")
	}

	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":      page,
			"page_size": pageSize,
		},
		"filters": map[string]any{
			"status":      strings.ToLower(strings.TrimSpace(filter.Status)),
			"report_type": filter.ReportType,
			"region":      filter.Region,
			"sentiment":   filter.Sentiment,
		},
	})
}

func (s *Server) handleEnqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	if strings.TrimSpace(req.ArticleID) == "" {
		return failValidation(c, map[string]string{"article_id": "is required"})
	}

	created, err := s.queue.Enqueue(c.Request().Context(), req.ArticleID, req.ReportType)
	if err != nil {
		return s.reviewError(c, err, "Failed to enqueue review")
	}
	s.cache.Delete(statsCacheKey)

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return successWithStatus(c, code, map[string]any{
		"article_id": strings.TrimSpace(req.ArticleID),
		"created":    created,
	})
}

func (s *Server) handleUpdateStatuses(c echo.Context) error {
	var req updateStatusesRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	fieldErrors := map[string]string{}
	if strings.TrimSpace(req.Actor) == "" {
		fieldErrors["actor"] = "is required"
	}
	if len(req.Items) == 0 {
		fieldErrors["items"] = "must not be empty"
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	decisions := make([]db.ReviewDecision, 0, len(req.Items))
	for _, item := range req.Items {
		decisions = append(decisions, db.ReviewDecision{ArticleID: item.ArticleID, Status: item.Status, Rank: item.Rank})
	}
	updated, err := s.queue.UpdateStatuses(c.Request().Context(), decisions, req.Actor)
	if err != nil {
		return s.reviewError(c, err, "Failed to update review statuses")
	}
	s.cache.Delete(statsCacheKey)

	items := make([]reviewResponse, 0, len(updated))
	for _, r := range updated {
		items = append(items, toReviewResponse(r))
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleReset(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	if strings.TrimSpace(req.Actor) == "" {
		return failValidation(c, map[string]string{"actor": "is required"})
	}

	n, err := s.queue.ResetToPending(c.Request().Context(), req.ArticleIDs, req.Actor)
	if err != nil {
		return s.reviewError(c, err, "Failed to reset reviews")
	}
	s.cache.Delete(statsCacheKey)
	return success(c, map[string]any{"reset": n})
}

func (s *Server) handleEditReview(c echo.Context) error {
	articleID := strings.TrimSpace(c.Param("article_id"))
	if articleID == "" {
		return failValidation(c, map[string]string{"article_id": "is required"})
	}
	var req editReviewRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be a JSON object"})
	}
	if req.Summary == nil && req.Notes == nil && req.Score == nil {
		return failValidation(c, map[string]string{"body": "at least one of summary, notes, score is required"})
	}

	updated, err := s.queue.EditSummary(c.Request().Context(), articleID, db.ReviewOverrides{
		Summary: req.Summary,
		Notes:   req.Notes,
		Score:   req.Score,
	})
	if err != nil {
		return s.reviewError(c, err, "Failed to edit review")
	}
	return success(c, toReviewResponse(updated))
}

func (s *Server) reviewError(c echo.Context, err error, message string) error {
	switch {
	case errors.Is(err, db.ErrReviewNotFound):
		return failNotFound(c, err.Error())
	case errors.Is(err, review.ErrNotEligible):
		return failConflict(c, err.Error())
	case errors.Is(err, review.ErrInvalidStatus),
		errors.Is(err, lifecycle.ErrMissingArticleID),
		errors.Is(err, lifecycle.ErrMalformedArticleID):
		return fail(c, http.StatusBadRequest, err.Error(), nil)
	}
	s.logger.Error().Err(err).Msg(strings.ToLower(message))
	return internalError(c, message)
}
