package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/time/rate"

	"github.com/jinford/docqa/internal/core/generation"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrNoChoices は候補が1件も返されなかった場合のエラー
	ErrNoChoices = errors.New("no completion choices returned")
)

// Client は OpenAI API を使用した回答生成クライアント実装
type Client struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	limiter     *rate.Limiter
	baseBackoff time.Duration
}

type clientOptions struct {
	model       string
	baseURL     string
	timeout     time.Duration
	limiter     *rate.Limiter
	httpClient  *http.Client
	baseBackoff time.Duration
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithModel はモデル名を上書きする
func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		o.model = model
	}
}

// WithBaseURL は OpenAI 互換エンドポイントのURLを設定する
func WithBaseURL(url string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithTimeout はAPIコールのタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// WithRateLimiter は呼び出し前に待機するレートリミッターを設定する
func WithRateLimiter(limiter *rate.Limiter) ClientOption {
	return func(o *clientOptions) {
		o.limiter = limiter
	}
}

// WithHTTPClient は内部で使う HTTP クライアントを差し替える
func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// withBaseBackoff はテスト用にバックオフ基底時間を短縮する
func withBaseBackoff(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.baseBackoff = d
	}
}

// NewClient は APIキーを指定して Client を作成する
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := clientOptions{
		model:       DefaultModel,
		timeout:     DefaultTimeout,
		baseBackoff: BaseBackoff,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Client{
		client:      openai.NewClient(requestOptions(apiKey, options.baseURL, options.httpClient)...),
		model:       options.model,
		timeout:     options.timeout,
		limiter:     options.limiter,
		baseBackoff: options.baseBackoff,
	}, nil
}

// requestOptions は openai-go のクライアントオプションを組み立てる。
// リトライはこのパッケージで行うため SDK 側のリトライは無効にする
func requestOptions(apiKey, baseURL string, httpClient *http.Client) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return opts
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Generate は OpenAI API を使用してテキストを生成する。
// 接続失敗・認証失敗・リトライ上限到達は generation.ErrUnavailable として返す
func (c *Client) Generate(ctx context.Context, req generation.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.baseBackoff, attempt); err != nil {
				return "", err
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		params := openai.ChatCompletionNewParams{
			Model: shared.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(req.Prompt),
			},
			Temperature: openai.Float(req.Temperature),
		}
		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}

		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if isRetryable(err) {
				continue
			}
			return "", classifyError(err)
		}

		if len(completion.Choices) == 0 {
			return "", ErrNoChoices
		}
		return completion.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: %w: %v", generation.ErrUnavailable, ErrMaxRetriesExceeded, lastErr)
}

// sleepBackoff は attempt 回目のリトライ前に指数的に待機する
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	backoffDuration := time.Duration(math.Pow(2, float64(attempt-1))) * base
	if backoffDuration > MaxBackoff {
		backoffDuration = MaxBackoff
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoffDuration):
		return nil
	}
}

// isRetryable はレート制限とサーバーエラーを判定する
func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// classifyError は認証エラーや接続エラーを生成バックエンド不可として扱う
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: OpenAI API call failed: %v", generation.ErrUnavailable, err)
		}
		return fmt.Errorf("OpenAI API call failed: %w", err)
	}
	// HTTPレスポンスを得られなかった（接続拒否・DNS失敗など）
	return fmt.Errorf("%w: OpenAI API call failed: %v", generation.ErrUnavailable, err)
}

// インターフェース実装の確認
var _ generation.Generator = (*Client)(nil)
