package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jinford/docqa/internal/core/qa"
)

// Runner は質問応答パイプラインを実行するインターフェース
type Runner interface {
	Run(ctx context.Context, req qa.Request) ([]qa.Answer, error)
}

// Pinger はヘルスチェック対象の疎通確認インターフェース
type Pinger interface {
	Ping(ctx context.Context) error
}

// ResponseFormat は /hackrx/run のレスポンス形式
type ResponseFormat string

const (
	// FormatDetailed は {question, answer, from_memory} の配列を返す
	FormatDetailed ResponseFormat = "detailed"
	// FormatPlain は回答文字列の配列を返す
	FormatPlain ResponseFormat = "plain"
)

// Server は質問応答 API の HTTP サーバー
type Server struct {
	echo      *echo.Echo
	runner    Runner
	cache     Pinger
	format    ResponseFormat
	token     string
	startedAt time.Time
	logger    *slog.Logger
}

// Option は Server の設定を変更する関数
type Option func(*Server)

// WithResponseFormat はレスポンス形式を設定する
func WithResponseFormat(format ResponseFormat) Option {
	return func(s *Server) {
		s.format = format
	}
}

// WithAPIToken は Bearer トークンの期待値を設定する。空の場合は形式のみ検証する
func WithAPIToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithHealthCheck は /health で疎通を確認する QA キャッシュを設定する
func WithHealthCheck(cache Pinger) Option {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New は新しいServerを作成し、ルーティングを登録する
func New(runner Runner, opts ...Option) *Server {
	s := &Server{
		runner:    runner,
		format:    FormatDetailed,
		startedAt: time.Now(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				s.logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.Info("request completed", attrs...)
			return nil
		},
	}))

	e.GET("/health", s.health)
	e.POST("/hackrx/run", s.run, BearerAuth(s.token))

	s.echo = e
	return s
}

// Handler はテストや外部サーバーに組み込むための http.Handler を返す
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start は addr で待ち受けを開始する。Shutdown による停止ではエラーを返さない
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr, "format", s.format)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown は処理中のリクエストの完了を待ってサーバーを停止する
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
