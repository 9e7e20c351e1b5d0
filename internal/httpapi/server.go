// Package httpapi exposes a read-only inspection API over the pipeline
// tables: backlog depths, headline status counts and the monthly units.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/anchor-pipeline/internal/db"
	"horse.fit/anchor-pipeline/internal/globaltime"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool   *db.Pool
	logger zerolog.Logger
	opts   Options
}

type statsResponse struct {
	HeadlinesByStatus  map[string]int64 `json:"headlines_by_status"`
	PendingMatches     int64            `json:"pending_matches"`
	PendingAttribution int64            `json:"pending_attribution"`
	Units              int64            `json:"units"`
	FrozenUnits        int64            `json:"frozen_units"`
	LastMatchedAt      *time.Time       `json:"last_matched_at,omitempty"`
}

type unitListItem struct {
	UnitID        int64     `json:"unit_id"`
	AnchorSlug    string    `json:"anchor_slug"`
	AnchorLabel   string    `json:"anchor_label"`
	Category      string    `json:"category"`
	YearMonth     string    `json:"year_month"`
	HeadlineCount int       `json:"headline_count"`
	IsFrozen      bool      `json:"is_frozen"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewServer(pool *db.Pool, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8085
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:   pool,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/units", s.handleUnits)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("inspection server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("inspection server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pool.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health ping failed")
		return internalError(c, "Database unreachable")
	}
	return success(c, map[string]any{
		"service": "anchor-pipeline",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.queryStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleUnits(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	yearMonth := strings.TrimSpace(c.QueryParam("month"))
	if yearMonth != "" {
		if _, parseErr := time.Parse("2006-01", yearMonth); parseErr != nil {
			return failValidation(c, map[string]string{"month": "must look like 2006-01"})
		}
	}
	anchorSlug := strings.TrimSpace(strings.ToLower(c.QueryParam("anchor")))

	total, items, err := s.queryUnits(c.Request().Context(), anchorSlug, yearMonth, page, pageSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("query units failed")
		return internalError(c, "Failed to load units")
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":        page,
			"page_size":   pageSize,
			"total_items": total,
			"total_pages": totalPages,
		},
		"filters": map[string]any{
			"anchor": anchorSlug,
			"month":  yearMonth,
		},
	})
}

func (s *Server) queryStats(ctx context.Context) (*statsResponse, error) {
	const q = `
SELECT
	(SELECT COUNT(*) FROM anchor.headline_anchor_matches WHERE review_status = 'pending') AS pending_matches,
	(SELECT COUNT(*)
	 FROM anchor.headline_anchor_matches m
	 LEFT JOIN anchor.assignments a
		ON a.headline_id = m.headline_id AND a.anchor_id = m.anchor_id
	 WHERE m.review_status = 'accepted' AND a.assignment_id IS NULL) AS pending_attribution,
	(SELECT COUNT(*) FROM anchor.aggregation_units) AS units,
	(SELECT COUNT(*) FROM anchor.aggregation_units WHERE is_frozen) AS frozen_units,
	(SELECT MAX(matched_at) FROM anchor.headlines) AS last_matched_at
`

	var stats statsResponse
	if err := s.pool.QueryRow(ctx, q).Scan(
		&stats.PendingMatches,
		&stats.PendingAttribution,
		&stats.Units,
		&stats.FrozenUnits,
		&stats.LastMatchedAt,
	); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	const statusQuery = `
SELECT processing_status, COUNT(*)::BIGINT
FROM anchor.headlines
GROUP BY processing_status
ORDER BY processing_status
`
	rows, err := s.pool.Query(ctx, statusQuery)
	if err != nil {
		return nil, fmt.Errorf("query headline statuses: %w", err)
	}
	defer rows.Close()

	stats.HeadlinesByStatus = map[string]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan headline status: %w", err)
		}
		stats.HeadlinesByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate headline statuses: %w", err)
	}

	return &stats, nil
}

func (s *Server) queryUnits(ctx context.Context, anchorSlug, yearMonth string, page, pageSize int) (int64, []unitListItem, error) {
	const countQuery = `
SELECT COUNT(*)
FROM anchor.aggregation_units u
JOIN anchor.anchors a ON a.anchor_id = u.anchor_id
WHERE ($1 = '' OR a.slug = $1)
  AND ($2 = '' OR u.year_month = $2)
`

	var total int64
	if err := s.pool.QueryRow(ctx, countQuery, anchorSlug, yearMonth).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count units: %w", err)
	}

	offset := (page - 1) * pageSize

	const rowsQuery = `
SELECT
	u.unit_id,
	a.slug,
	a.label,
	u.category,
	u.year_month,
	u.headline_count,
	u.is_frozen,
	u.updated_at
FROM anchor.aggregation_units u
JOIN anchor.anchors a ON a.anchor_id = u.anchor_id
WHERE ($1 = '' OR a.slug = $1)
  AND ($2 = '' OR u.year_month = $2)
ORDER BY u.year_month DESC, a.slug, u.category
LIMIT $3
OFFSET $4
`

	rows, err := s.pool.Query(ctx, rowsQuery, anchorSlug, yearMonth, pageSize, offset)
	if err != nil {
		return 0, nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	items := make([]unitListItem, 0, pageSize)
	for rows.Next() {
		var row unitListItem
		if err := rows.Scan(
			&row.UnitID,
			&row.AnchorSlug,
			&row.AnchorLabel,
			&row.Category,
			&row.YearMonth,
			&row.HeadlineCount,
			&row.IsFrozen,
			&row.UpdatedAt,
		); err != nil {
			return 0, nil, fmt.Errorf("scan unit row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate unit rows: %w", err)
	}

	return total, items, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
