package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/ingestion"
	"github.com/jinford/docqa/internal/core/qa"
)

// healthTimeout はヘルスチェックでストアの応答を待つ時間
const healthTimeout = 800 * time.Millisecond

type runRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

type detailedResponse struct {
	Answers []qa.Answer `json:"answers"`
}

type plainResponse struct {
	Answers []string `json:"answers"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) run(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if req.Documents == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "documents is required")
	}
	if req.Questions == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "questions is required")
	}

	answers, err := s.runner.Run(c.Request().Context(), qa.Request{
		Document:  req.Documents,
		Questions: req.Questions,
	})
	if err != nil {
		return mapRunError(err)
	}

	if s.format == FormatPlain {
		plain := make([]string, len(answers))
		for i, a := range answers {
			plain[i] = a.Answer
		}
		return c.JSON(http.StatusOK, plainResponse{Answers: plain})
	}
	return c.JSON(http.StatusOK, detailedResponse{Answers: answers})
}

// mapRunError はパイプラインのエラーを HTTP ステータスに対応付ける
func mapRunError(err error) error {
	var (
		fetchErr     *document.FetchError
		ingestionErr *ingestion.IngestionError
	)
	switch {
	case errors.Is(err, qa.ErrEmptyDocument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case errors.As(err, &fetchErr):
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Failed to retrieve document: %s", fetchErr.Err)).SetInternal(err)
	case errors.As(err, &ingestionErr):
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to process document: %s", ingestionErr.Err)).SetInternal(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

type healthCheck struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	cacheCheck := healthCheck{OK: true}
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := s.cache.Ping(ctx); err != nil {
			cacheCheck = healthCheck{Err: err.Error()}
		}
	}

	status := http.StatusOK
	if !cacheCheck.OK {
		status = http.StatusServiceUnavailable
	}

	return c.JSON(status, map[string]any{
		"status":     map[string]any{"ok": cacheCheck.OK},
		"uptime_sec": int(time.Since(s.startedAt).Seconds()),
		"checks": map[string]any{
			"qa_cache": cacheCheck,
		},
		"time": time.Now().Format(time.RFC3339),
	})
}

// handleError はすべてのエラーを {"detail": "..."} 形式で返す
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	detail := "internal server error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		detail = fmt.Sprint(he.Message)
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", "path", c.Path(), "status", status, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Detail: detail})
	}
	if err != nil {
		s.logger.Error("failed to write error response", "error", err)
	}
}
