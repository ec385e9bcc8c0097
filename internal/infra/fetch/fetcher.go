package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jinford/docqa/internal/core/document"
)

const (
	// DefaultTimeout は1回の取得に許容する時間
	DefaultTimeout = 60 * time.Second

	// DefaultMaxBytes は取得する文書サイズの上限
	DefaultMaxBytes int64 = 50 << 20
)

// Fetcher は HTTP(S) の URL から文書を取得する。
// file:// URL とローカルパスは WithLocalFiles または WithLocalRoot を指定した場合のみ受け付ける
type Fetcher struct {
	client     *http.Client
	maxBytes   int64
	allowLocal bool
	localRoot  string
	logger     *slog.Logger
}

// インターフェース実装の確認
var _ document.Fetcher = (*Fetcher)(nil)

// Option は Fetcher の設定を変更する関数
type Option func(*Fetcher)

// WithTimeout は HTTP 取得のタイムアウトを設定する
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.client.Timeout = timeout
		}
	}
}

// WithMaxBytes は文書サイズの上限を設定する
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithHTTPClient は HTTP クライアントを差し替える
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithLocalFiles はローカルファイルの取得を許可する
func WithLocalFiles(allow bool) Option {
	return func(f *Fetcher) {
		f.allowLocal = allow
	}
}

// WithLocalRoot はローカルファイルの取得を dir 配下に限定して許可する。
// 相対パスは dir からの相対として解決する
func WithLocalRoot(dir string) Option {
	return func(f *Fetcher) {
		f.localRoot = dir
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher は新しいFetcherを作成する
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: DefaultTimeout},
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Fetch は文書を取得する。失敗は常に *document.FetchError として返す
func (f *Fetcher) Fetch(ctx context.Context, source string) (*document.Payload, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, document.NewFetchError(source, document.ErrEmptySource)
	}

	u, err := url.Parse(source)
	if err != nil {
		return nil, document.NewFetchError(source, err)
	}

	var payload *document.Payload
	switch u.Scheme {
	case "http", "https":
		payload, err = f.fetchHTTP(ctx, source)
	case "file":
		payload, err = f.fetchLocal(u.Path)
	case "":
		payload, err = f.fetchLocal(source)
	default:
		err = fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, document.NewFetchError(source, err)
	}

	payload.Source = source
	f.logger.Debug("document fetched",
		"source", source,
		"bytes", len(payload.Data),
		"contentType", payload.ContentType,
	)
	return payload, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source string) (*document.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", document.ErrUnexpectedStatus, resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", document.ErrTooLarge, resp.ContentLength)
	}

	data, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, err
	}

	// 署名付きURLのクエリを除いたパスで拡張子を判定する
	return &document.Payload{
		Data:        data,
		ContentType: detectContentType(resp.Header.Get("Content-Type"), req.URL.Path, data),
	}, nil
}

func (f *Fetcher) fetchLocal(path string) (*document.Payload, error) {
	path, err := f.resolveLocalPath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := f.readLimited(file)
	if err != nil {
		return nil, err
	}

	return &document.Payload{
		Data:        data,
		ContentType: detectContentType("", path, data),
	}, nil
}

// resolveLocalPath はローカル取得の可否を判定し、ルート指定時はシンボリックリンクを解決した上で
// ルート配下に収まることを確認する
func (f *Fetcher) resolveLocalPath(path string) (string, error) {
	if f.localRoot == "" {
		if !f.allowLocal {
			return "", document.ErrLocalSourceDisabled
		}
		return path, nil
	}

	root, err := filepath.EvalSymlinks(f.localRoot)
	if err != nil {
		return "", fmt.Errorf("invalid local root: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid local root: %w", err)
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", document.ErrOutsideLocalRoot
	}
	return resolved, nil
}

// readLimited は上限+1バイトまで読み、超過していれば ErrTooLarge を返す
func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", document.ErrTooLarge, f.maxBytes)
	}
	return data, nil
}

// detectContentType は Content-Type ヘッダー、拡張子、内容の順で MIME タイプを決める。
// application/octet-stream は情報がないものとして扱う
func detectContentType(header, path string, data []byte) string {
	if mt := document.MediaType(header); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
		if mt := document.MediaType(mime.TypeByExtension(ext)); mt != "" {
			return mt
		}
	}
	return document.MediaType(http.DetectContentType(data))
}
