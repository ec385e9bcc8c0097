package qa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/docqa/internal/core/answer"
	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/generation"
	"github.com/jinford/docqa/internal/core/indexing"
	"github.com/jinford/docqa/internal/core/qacache"
	"github.com/jinford/docqa/internal/core/vectorcache"
	"github.com/jinford/docqa/internal/core/vectorindex"
)

const docURL = "https://example.com/policy.pdf"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubIngestor struct {
	fetches  atomic.Int32
	ingests  atomic.Int32
	fetchErr  error
	ingestErr error
	data      []byte
}

func (s *stubIngestor) Fetch(ctx context.Context, source string) (*document.Payload, error) {
	s.fetches.Add(1)
	if s.fetchErr != nil {
		return nil, document.NewFetchError(source, s.fetchErr)
	}
	return &document.Payload{Source: source, Data: s.data, ContentType: "text/plain"}, nil
}

func (s *stubIngestor) Ingest(ctx context.Context, fingerprint string, payload *document.Payload) (*vectorindex.Index, error) {
	s.ingests.Add(1)
	if s.ingestErr != nil {
		return nil, s.ingestErr
	}
	chunks := []*indexing.Chunk{{Ordinal: 0, Content: string(payload.Data)}}
	indexing.AssignIDs(fingerprint, chunks)
	return vectorindex.Build(indexing.Metadata{ModelName: "stub"}, chunks, [][]float32{{1}})
}

type stubRetriever struct{}

func (stubRetriever) Retrieve(ctx context.Context, index *vectorindex.Index, question string) ([]vectorindex.ScoredChunk, error) {
	return index.Search(indexing.Metadata{ModelName: "stub"}, []float32{1}, 5)
}

// stubSynthesizer は質問ごとに決められた結果を返す。未登録の質問は "answer: <質問>" を返す
type stubSynthesizer struct {
	mu     sync.Mutex
	asked  []string
	errs   map[string]error
	delays map[string]time.Duration
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, question string, chunks []vectorindex.ScoredChunk) (*answer.Result, error) {
	s.mu.Lock()
	s.asked = append(s.asked, question)
	s.mu.Unlock()

	if d, ok := s.delays[question]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := s.errs[question]; ok {
		return nil, err
	}
	return &answer.Result{Answer: "answer: " + question}, nil
}

type fixture struct {
	ingestor    *stubIngestor
	cache       *qacache.Service
	store       *qacache.MemoryStore
	synthesizer *stubSynthesizer
	service     *Service
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()

	f := &fixture{
		ingestor:    &stubIngestor{data: []byte("policy text")},
		store:       qacache.NewMemoryStore(),
		synthesizer: &stubSynthesizer{},
	}
	f.cache = qacache.NewService(f.store, qacache.WithLogger(discard()))
	f.service = NewService(
		f.ingestor,
		vectorcache.New(vectorcache.WithLogger(discard())),
		f.cache,
		stubRetriever{},
		f.synthesizer,
		append([]ServiceOption{WithQALogger(discard())}, opts...)...,
	)
	return f
}

func qaNamespace() string {
	return document.NamespacesFor(document.FingerprintSource(docURL)).QA
}

func TestRunOfflineWithEmptyCache(t *testing.T) {
	f := newFixture(t, WithMode(ModeOffline))

	questions := []string{"q1", "q2", "q3"}
	answers, err := f.service.Run(context.Background(), Request{Document: docURL, Questions: questions})
	require.NoError(t, err)
	require.Len(t, answers, 3)

	for i, a := range answers {
		assert.Equal(t, questions[i], a.Question)
		assert.Equal(t, UnresolvedAnswer, a.Answer)
		assert.False(t, a.FromMemory)
	}
	assert.Zero(t, f.ingestor.fetches.Load(), "offline mode must not fetch the document")
	assert.Empty(t, f.synthesizer.asked)
}

func TestRunOfflineServesCachedAnswers(t *testing.T) {
	f := newFixture(t, WithMode(ModeOffline))
	require.NoError(t, f.cache.Store(context.Background(), qaNamespace(), "q1", "cached"))

	answers, err := f.service.Run(context.Background(), Request{Document: docURL, Questions: []string{"q1", "q2"}})
	require.NoError(t, err)

	assert.Equal(t, Answer{Question: "q1", Answer: "cached", FromMemory: true}, answers[0])
	assert.Equal(t, Answer{Question: "q2", Answer: UnresolvedAnswer}, answers[1])
}

func TestRunOnlineWithCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Store(ctx, qaNamespace(), "What is the grace period?", "30 days"))

	answers, err := f.service.Run(ctx, Request{
		Document:  docURL,
		Questions: []string{"What is the grace period?", "What is the sum insured?"},
	})
	require.NoError(t, err)

	assert.Equal(t, Answer{Question: "What is the grace period?", Answer: "30 days", FromMemory: true}, answers[0])
	assert.Equal(t, Answer{Question: "What is the sum insured?", Answer: "answer: What is the sum insured?"}, answers[1])
	assert.Equal(t, []string{"What is the sum insured?"}, f.synthesizer.asked)

	// 生成した回答は次回からキャッシュされる
	got, ok := f.cache.LookupAll(ctx, qaNamespace()).Get("What is the sum insured?")
	require.True(t, ok)
	assert.Equal(t, "answer: What is the sum insured?", got)
}

func TestRunAllCachedSkipsIngestion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Store(context.Background(), qaNamespace(), "q", "a"))

	answers, err := f.service.Run(context.Background(), Request{Document: docURL, Questions: []string{"q"}})
	require.NoError(t, err)

	assert.True(t, answers[0].FromMemory)
	assert.Zero(t, f.ingestor.fetches.Load())
	assert.Zero(t, f.ingestor.ingests.Load())
}

func TestRunPreservesQuestionOrder(t *testing.T) {
	f := newFixture(t, WithQuestionConcurrency(4))

	var questions []string
	f.synthesizer.delays = map[string]time.Duration{}
	for i := 0; i < 12; i++ {
		q := fmt.Sprintf("question %02d", i)
		questions = append(questions, q)
		// 先頭の質問ほど遅く完了させる
		f.synthesizer.delays[q] = time.Duration(12-i) * 2 * time.Millisecond
	}

	answers, err := f.service.Run(context.Background(), Request{Document: docURL, Questions: questions})
	require.NoError(t, err)
	require.Len(t, answers, len(questions))

	for i, a := range answers {
		assert.Equal(t, questions[i], a.Question)
		assert.Equal(t, "answer: "+questions[i], a.Answer)
	}
	assert.Equal(t, int32(1), f.ingestor.ingests.Load())
}

func TestRunIsolatesPerQuestionFailures(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.errs = map[string]error{
		"odd question": errors.New("model refused"),
		"down":         fmt.Errorf("wrapped: %w", generation.ErrUnavailable),
	}

	answers, err := f.service.Run(context.Background(), Request{
		Document:  docURL,
		Questions: []string{"good", "odd question", "down"},
	})
	require.NoError(t, err)

	assert.Equal(t, "answer: good", answers[0].Answer)
	assert.Equal(t, FailedAnswer, answers[1].Answer)
	assert.Equal(t, UnresolvedAnswer, answers[2].Answer)
	for _, a := range answers {
		assert.False(t, a.FromMemory)
	}

	// 失敗した回答はキャッシュしない
	cached := f.cache.LookupAll(context.Background(), qaNamespace())
	assert.Equal(t, 1, cached.Len())
}

func TestRunFetchErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.ingestor.fetchErr = document.ErrUnexpectedStatus

	_, err := f.service.Run(context.Background(), Request{Document: docURL, Questions: []string{"q"}})
	var fetchErr *document.FetchError
	require.ErrorAs(t, err, &fetchErr)

	// 失敗はキャッシュされず、次のリクエストで再取得される
	f.ingestor.fetchErr = nil
	_, err = f.service.Run(context.Background(), Request{Document: docURL, Questions: []string{"q"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.ingestor.fetches.Load())
}

func TestRunReusesIndexAcrossRequests(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := f.service.Run(context.Background(), Request{Document: docURL, Questions: []string{fmt.Sprintf("q%d", i)}})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.ingestor.fetches.Load())
	assert.Equal(t, int32(1), f.ingestor.ingests.Load())
}

func TestRunKeyByContentRefetches(t *testing.T) {
	f := newFixture(t, WithKeyMode(KeyByContent))

	for i := 0; i < 2; i++ {
		_, err := f.service.Run(context.Background(), Request{Document: docURL, Questions: []string{fmt.Sprintf("q%d", i)}})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), f.ingestor.fetches.Load())
	assert.Equal(t, int32(1), f.ingestor.ingests.Load())

	// 内容が変わると再構築される
	f.ingestor.data = []byte("revised policy text")
	_, err := f.service.Run(context.Background(), Request{Document: docURL, Questions: []string{"q9"}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.ingestor.ingests.Load())
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Run(context.Background(), Request{Questions: []string{"q"}})
	assert.ErrorIs(t, err, ErrEmptyDocument)

	answers, err := f.service.Run(context.Background(), Request{Document: docURL})
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.delays = map[string]time.Duration{"slow": time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.service.Run(ctx, Request{Document: docURL, Questions: []string{"slow"}})
	assert.ErrorIs(t, err, context.Canceled)

	cached := f.cache.LookupAll(context.Background(), qaNamespace())
	assert.Equal(t, 0, cached.Len())
}

func TestRunBackendOutageKeepsCachedAnswers(t *testing.T) {
	f := newFixture(t)
	f.ingestor.ingestErr = fmt.Errorf("embed: %w: dial tcp: connection refused", generation.ErrUnavailable)
	require.NoError(t, f.cache.Store(context.Background(), qaNamespace(), "What is the grace period?", "30 days"))

	answers, err := f.service.Run(context.Background(), Request{
		Document:  docURL,
		Questions: []string{"What is the grace period?", "Is dental covered?"},
	})
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, Answer{Question: "What is the grace period?", Answer: "30 days", FromMemory: true}, answers[0])
	assert.Equal(t, Answer{Question: "Is dental covered?", Answer: UnresolvedAnswer}, answers[1])
	assert.Empty(t, f.synthesizer.asked)

	// 失敗した構築はキャッシュされず、復旧後に再構築される
	f.ingestor.ingestErr = nil
	answers, err = f.service.Run(context.Background(), Request{Document: docURL, Questions: []string{"Is dental covered?"}})
	require.NoError(t, err)
	assert.Equal(t, "answer: Is dental covered?", answers[0].Answer)
	assert.Equal(t, int32(2), f.ingestor.ingests.Load())
}

func TestRunIngestionFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.ingestor.ingestErr = errors.New("extract: unsupported content type")
	require.NoError(t, f.cache.Store(context.Background(), qaNamespace(), "q1", "cached"))

	_, err := f.service.Run(context.Background(), Request{Document: docURL, Questions: []string{"q1", "q2"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, generation.ErrUnavailable)
}
