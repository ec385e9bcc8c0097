package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/document"
)

func newTestFetcher(opts ...Option) *Fetcher {
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewFetcher(opts...)
}

func TestFetchHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/policy.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/large", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()

	t.Run("拡張子から PDF と判定する", func(t *testing.T) {
		source := server.URL + "/policy.pdf?sv=2023&sig=abc"
		p, err := newTestFetcher().Fetch(ctx, source)
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", p.ContentType)
		assert.Equal(t, source, p.Source)
		assert.True(t, p.IsPDF())
	})

	t.Run("Content-Type のパラメータを除く", func(t *testing.T) {
		p, err := newTestFetcher().Fetch(ctx, server.URL+"/plain")
		require.NoError(t, err)
		assert.Equal(t, "text/plain", p.ContentType)
		assert.Equal(t, "hello", string(p.Data))
	})

	t.Run("200 以外は FetchError", func(t *testing.T) {
		_, err := newTestFetcher().Fetch(ctx, server.URL+"/missing")
		var fe *document.FetchError
		require.ErrorAs(t, err, &fe)
		assert.ErrorIs(t, err, document.ErrUnexpectedStatus)
	})

	t.Run("サイズ上限超過", func(t *testing.T) {
		_, err := newTestFetcher(WithMaxBytes(16)).Fetch(ctx, server.URL+"/large")
		assert.ErrorIs(t, err, document.ErrTooLarge)
	})

	t.Run("接続できない", func(t *testing.T) {
		_, err := newTestFetcher().Fetch(ctx, "http://127.0.0.1:1/doc.pdf")
		var fe *document.FetchError
		assert.ErrorAs(t, err, &fe)
	})
}

func TestFetchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.txt")
	require.NoError(t, os.WriteFile(path, []byte("Grace period is thirty days."), 0o600))

	t.Run("ローカルパス", func(t *testing.T) {
		p, err := newTestFetcher(WithLocalFiles(true)).Fetch(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, "text/plain", p.ContentType)
		assert.Equal(t, "Grace period is thirty days.", string(p.Data))
	})

	t.Run("file URL", func(t *testing.T) {
		p, err := newTestFetcher(WithLocalFiles(true)).Fetch(context.Background(), "file://"+path)
		require.NoError(t, err)
		assert.Equal(t, "Grace period is thirty days.", string(p.Data))
	})

	t.Run("存在しないファイル", func(t *testing.T) {
		_, err := newTestFetcher(WithLocalFiles(true)).Fetch(context.Background(), filepath.Join(dir, "missing.pdf"))
		var fe *document.FetchError
		assert.ErrorAs(t, err, &fe)
	})
}

func TestFetchLocalDisabledByDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(path, []byte("do not read"), 0o600))

	f := newTestFetcher()
	for _, source := range []string{path, "file://" + path, "/etc/passwd"} {
		_, err := f.Fetch(context.Background(), source)
		var fe *document.FetchError
		require.ErrorAs(t, err, &fe, source)
		assert.ErrorIs(t, err, document.ErrLocalSourceDisabled, source)
	}
}

func TestFetchLocalRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "docs")
	require.NoError(t, os.Mkdir(root, 0o700))
	inside := filepath.Join(root, "policy.txt")
	require.NoError(t, os.WriteFile(inside, []byte("inside"), 0o600))
	outside := filepath.Join(base, "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("outside"), 0o600))

	f := newTestFetcher(WithLocalRoot(root))
	ctx := context.Background()

	t.Run("ルート配下の絶対パス", func(t *testing.T) {
		p, err := f.Fetch(ctx, inside)
		require.NoError(t, err)
		assert.Equal(t, "inside", string(p.Data))
	})

	t.Run("ルートからの相対パス", func(t *testing.T) {
		p, err := f.Fetch(ctx, "policy.txt")
		require.NoError(t, err)
		assert.Equal(t, "inside", string(p.Data))
	})

	t.Run("ルート外の絶対パス", func(t *testing.T) {
		_, err := f.Fetch(ctx, outside)
		assert.ErrorIs(t, err, document.ErrOutsideLocalRoot)
	})

	t.Run("親ディレクトリへの移動", func(t *testing.T) {
		_, err := f.Fetch(ctx, "../secret.txt")
		assert.ErrorIs(t, err, document.ErrOutsideLocalRoot)
	})

	t.Run("ルート外へのシンボリックリンク", func(t *testing.T) {
		link := filepath.Join(root, "link.txt")
		if err := os.Symlink(outside, link); err != nil {
			t.Skipf("symlink not supported: %v", err)
		}
		_, err := f.Fetch(ctx, link)
		assert.ErrorIs(t, err, document.ErrOutsideLocalRoot)
	})
}

func TestFetchRejectsInvalidSources(t *testing.T) {
	f := newTestFetcher()

	_, err := f.Fetch(context.Background(), "  ")
	assert.ErrorIs(t, err, document.ErrEmptySource)

	_, err = f.Fetch(context.Background(), "ftp://example.com/doc.pdf")
	var fe *document.FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", detectContentType("Application/PDF", "", nil))
	assert.Equal(t, "application/pdf", detectContentType("", "/x/doc.PDF", nil))
	assert.Equal(t, "application/pdf", detectContentType("", "/x/doc", []byte("%PDF-1.7\n")))
	assert.Equal(t, "text/plain", detectContentType("", "", []byte("plain words")))
}
