package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/qa"
)

// setupEnv はオフラインモードと一時 SQLite ストアを使う環境を用意する
func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("QA_MODE", "auto")
	t.Setenv("QA_CACHE_BACKEND", "sqlite")
	t.Setenv("QA_CACHE_SQLITE_PATH", filepath.Join(t.TempDir(), "qa.db"))
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := &cli.Command{
		Name:      "docqa",
		Writer:    &out,
		ErrWriter: io.Discard,
		Commands: []*cli.Command{
			AskCommand(),
			CacheCommand(),
		},
	}
	err := app.Run(context.Background(), append([]string{"docqa"}, args...))
	return out.String(), err
}

func TestCachePutThenAskOffline(t *testing.T) {
	setupEnv(t)
	envFile := filepath.Join(t.TempDir(), "missing.env")
	doc := "https://example.com/policy.pdf"

	_, err := runApp(t, "cache", "put", "--env", envFile,
		"--document", doc,
		"--question", "What is the grace period?",
		"--answer", "Thirty days.")
	require.NoError(t, err)

	out, err := runApp(t, "ask", "--env", envFile,
		"--document", doc,
		"-q", "What is the grace period?",
		"-q", "Is dental covered?")
	require.NoError(t, err)

	var resp struct {
		Answers []qa.Answer `json:"answers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Answers, 2)
	assert.Equal(t, "Thirty days.", resp.Answers[0].Answer)
	assert.True(t, resp.Answers[0].FromMemory)
	assert.Equal(t, qa.UnresolvedAnswer, resp.Answers[1].Answer)
}

func TestAskPlainFormat(t *testing.T) {
	setupEnv(t)

	out, err := runApp(t, "ask", "--env", "",
		"--document", "https://example.com/policy.pdf",
		"--format", "plain",
		"-q", "Is dental covered?")
	require.NoError(t, err)
	assert.JSONEq(t, `{"answers":["`+qa.UnresolvedAnswer+`"]}`, out)
}

func TestCacheList(t *testing.T) {
	setupEnv(t)
	doc := "https://example.com/policy.pdf"

	for _, entry := range [][2]string{{"b question", "b"}, {"a question", "a"}} {
		_, err := runApp(t, "cache", "put", "--env", "", "--document", doc, "--question", entry[0], "--answer", entry[1])
		require.NoError(t, err)
	}

	out, err := runApp(t, "cache", "list", "--env", "", "--document", doc)
	require.NoError(t, err)

	var listing cacheListing
	require.NoError(t, json.Unmarshal([]byte(out), &listing))
	assert.Equal(t, []cacheEntry{
		{Question: "a question", Answer: "a"},
		{Question: "b question", Answer: "b"},
	}, listing.Records)
	assert.Contains(t, listing.Namespace, "-qa")
}

func TestCachePutRejectsBlankAnswer(t *testing.T) {
	setupEnv(t)

	_, err := runApp(t, "cache", "put", "--env", "", "--document", "doc", "--question", "q", "--answer", "  ")
	require.Error(t, err)
}

func TestLocalDocumentsOnlyForAsk(t *testing.T) {
	setupEnv(t)
	t.Setenv("FETCH_ALLOW_LOCAL", "")
	t.Setenv("FETCH_LOCAL_ROOT", "")
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "policy.txt")
	require.NoError(t, os.WriteFile(path, []byte("Grace period is thirty days."), 0o600))

	t.Run("サーバー設定では拒否", func(t *testing.T) {
		appCtx, err := NewAppContext(ctx, "", io.Discard)
		require.NoError(t, err)
		defer appCtx.Close()

		_, err = appCtx.Container.Ingestion.Fetch(ctx, path)
		assert.ErrorIs(t, err, document.ErrLocalSourceDisabled)
	})

	t.Run("ask では許可", func(t *testing.T) {
		appCtx, err := NewAppContext(ctx, "", io.Discard, allowLocalDocuments)
		require.NoError(t, err)
		defer appCtx.Close()

		payload, err := appCtx.Container.Ingestion.Fetch(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "Grace period is thirty days.", string(payload.Data))
	})
}
