package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/embedding/tfidf"
	"docqa/internal/index"
	"docqa/internal/loader"
	"docqa/internal/telemetry"
	"docqa/internal/vectorstore/memory"
)

const solarText = "Solar panels convert sunlight into electricity. Panels are mounted on roofs facing south. " +
	"An inverter feeds the power into the grid. Batteries store surplus energy for the night."

type recorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recorder) Record(_ context.Context, ev telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

func (r *recorder) last() telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	passages []domain.SearchResult
	model    string
	err      error
	panicMsg string
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeLLM) Generate(_ context.Context, model, query string, passages []domain.SearchResult) (string, error) {
	f.mu.Lock()
	f.calls++
	f.passages = passages
	f.model = model
	n := f.calls
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("answer %d to %s", n, query), nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// blockingIndexer waits for release before delegating.
type blockingIndexer struct {
	next    Indexer
	started chan struct{}
	release chan struct{}
}

func (b *blockingIndexer) Index(ctx context.Context, uploads []domain.Upload) (*index.Result, error) {
	b.started <- struct{}{}
	<-b.release
	return b.next.Index(ctx, uploads)
}

func newPipeline(newEmbedder index.EmbedderFactory) *index.Pipeline {
	return index.NewPipeline(loader.New(), chunker.NewSentenceChunker(2, 0), newEmbedder, index.NewBuilder(memory.Factory()))
}

func tfidfPipeline() *index.Pipeline {
	return newPipeline(func() (embedding.Embedder, error) { return tfidf.NewEmbedder(), nil })
}

type failingEmbedder struct{}

func (failingEmbedder) Name() string          { return "failing" }
func (failingEmbedder) Prepare([]string) error { return nil }
func (failingEmbedder) Dimension() int         { return 0 }
func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, fmt.Errorf("%w: 401 unauthorized", domain.ErrEmbeddingService)
}

type fixture struct {
	orch *Orchestrator
	llm  *fakeLLM
	rec  *recorder
	s    *Session
}

func newFixture(t *testing.T, indexer Indexer) *fixture {
	t.Helper()
	f := &fixture{llm: &fakeLLM{}, rec: &recorder{}}
	f.orch = NewOrchestrator(indexer, f.llm, f.rec, nil)
	f.s = New(Config{Model: "model-a", EmbeddingModel: "tfidf", Threshold: 0.5, TopK: 3})
	return f
}

func readyFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, tfidfPipeline())
	require.NoError(t, f.orch.SubmitDocuments(context.Background(), f.s, []domain.Upload{{Filename: "solar.txt", Data: []byte(solarText)}}))
	require.Equal(t, StateReady, f.s.State())
	return f
}

func TestSubmitDocuments(t *testing.T) {
	f := newFixture(t, tfidfPipeline())
	assert.Equal(t, StateEmpty, f.s.State())

	err := f.orch.SubmitDocuments(context.Background(), f.s, []domain.Upload{{Filename: "solar.txt", Data: []byte(solarText)}})
	require.NoError(t, err)

	assert.Equal(t, StateReady, f.s.State())
	assert.True(t, f.s.HasIndex())
	msgs := f.s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	assert.False(t, msgs[0].Error)
	assert.Equal(t, "✅ Documents processed! I've indexed 1 files. Ask me anything about your documents.", msgs[0].Content)

	assert.Equal(t, []string{telemetry.EventDocumentsProcessed}, f.rec.names())
	ev := f.rec.last()
	assert.Equal(t, f.s.ID(), ev.SessionID)
	assert.Equal(t, 1, ev.Metadata["file_count"])
	assert.Equal(t, 2, ev.Metadata["chunk_count"])
	assert.Equal(t, []string{"txt"}, ev.Metadata["file_types"])
	assert.Equal(t, "tfidf", ev.Metadata["embedding_model"])

	snap := f.s.Snapshot()
	assert.Equal(t, 1, snap.Documents)
	assert.Equal(t, 2, snap.Chunks)
}

func TestSubmitDocumentsRecordsTypePerFile(t *testing.T) {
	f := newFixture(t, tfidfPipeline())
	uploads := []domain.Upload{
		{Filename: "a.txt", Data: []byte(solarText)},
		{Filename: "b.TXT", Data: []byte("Wind turbines spin in the breeze.")},
		{Filename: "c.txt", Data: []byte("Batteries store the surplus.")},
	}
	require.NoError(t, f.orch.SubmitDocuments(context.Background(), f.s, uploads))

	ev := f.rec.last()
	assert.Equal(t, telemetry.EventDocumentsProcessed, ev.Name)
	assert.Equal(t, 3, ev.Metadata["file_count"])
	assert.Equal(t, []string{"txt", "txt", "txt"}, ev.Metadata["file_types"])
	assert.Contains(t, f.s.Messages()[0].Content, "I've indexed 3 files.")
}

func TestSubmitDocumentsGuards(t *testing.T) {
	f := newFixture(t, tfidfPipeline())
	assert.ErrorIs(t, f.orch.SubmitDocuments(context.Background(), f.s, nil), domain.ErrNoDocuments)
	assert.Equal(t, StateEmpty, f.s.State())
	assert.Empty(t, f.s.Messages())
	assert.Empty(t, f.rec.names())

	f = readyFixture(t)
	before := f.s.Snapshot()
	err := f.orch.SubmitDocuments(context.Background(), f.s, []domain.Upload{{Filename: "b.txt", Data: []byte("More.")}})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, before, f.s.Snapshot())
}

func TestSubmitDocumentsFailures(t *testing.T) {
	tests := []struct {
		name    string
		indexer Indexer
		uploads []domain.Upload
		want    string
	}{
		{
			name:    "embedding service failure",
			indexer: newPipeline(func() (embedding.Embedder, error) { return failingEmbedder{}, nil }),
			uploads: []domain.Upload{{Filename: "solar.txt", Data: []byte(solarText)}},
			want:    "embedding service error",
		},
		{
			name:    "unsupported format",
			indexer: tfidfPipeline(),
			uploads: []domain.Upload{{Filename: "deck.pptx", Data: []byte("x")}},
			want:    "unsupported document format",
		},
		{
			name:    "unparseable pdf",
			indexer: tfidfPipeline(),
			uploads: []domain.Upload{{Filename: "scan.pdf", Data: []byte("garbage")}},
			want:    "document parse error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.indexer)
			require.NoError(t, f.orch.SubmitDocuments(context.Background(), f.s, tt.uploads))

			assert.Equal(t, StateEmpty, f.s.State())
			assert.False(t, f.s.HasIndex())
			msgs := f.s.Messages()
			require.Len(t, msgs, 1)
			assert.True(t, msgs[0].Error)
			assert.True(t, strings.HasPrefix(msgs[0].Content, "❌ Error processing documents: "))
			assert.Contains(t, msgs[0].Content, tt.want)

			assert.Equal(t, []string{telemetry.EventDocumentProcessingError}, f.rec.names())
			assert.Contains(t, f.rec.last().Metadata["error"], tt.want)
		})
	}
}

func TestAskAnswersFromPassages(t *testing.T) {
	f := readyFixture(t)
	err := f.orch.Ask(context.Background(), f.s, QueryRequest{Text: "  How do solar panels work?  ", Threshold: 0.1})
	require.NoError(t, err)

	assert.Equal(t, StateReady, f.s.State())
	msgs := f.s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "How do solar panels work?"}, withoutTime(msgs[1]))
	assert.Equal(t, "answer 1 to How do solar panels work?", msgs[2].Content)
	assert.Equal(t, "model-a", f.llm.model)
	require.NotEmpty(t, f.llm.passages)
	for _, p := range f.llm.passages {
		assert.GreaterOrEqual(t, p.Score, 0.1)
	}

	ev := f.rec.last()
	assert.Equal(t, telemetry.EventQueryResponse, ev.Name)
	assert.Equal(t, len(f.llm.passages), ev.Metadata["sources_count"])
	assert.Equal(t, 0.1, ev.Metadata["similarity_threshold"])
	assert.Equal(t, msgs[2].Content, ev.Metadata["response"])
}

func TestAskWithoutRelevantPassages(t *testing.T) {
	f := readyFixture(t)
	require.NoError(t, f.orch.Ask(context.Background(), f.s, QueryRequest{Text: "What is the document about?", Threshold: 0.7}))

	assert.Equal(t, StateReady, f.s.State())
	msgs := f.s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, NoRelevantInfoAnswer, msgs[2].Content)
	assert.False(t, msgs[2].Error)
	assert.Zero(t, f.llm.callCount())
	assert.Equal(t, 0, f.rec.last().Metadata["sources_count"])
}

func TestAskGuards(t *testing.T) {
	f := newFixture(t, tfidfPipeline())
	assert.ErrorIs(t, f.orch.Ask(context.Background(), f.s, QueryRequest{Text: "hi", Threshold: 0.5}), domain.ErrInvalidState)
	assert.Empty(t, f.s.Messages())
	assert.Empty(t, f.rec.names())

	f = readyFixture(t)
	before := f.s.Snapshot()
	events := len(f.rec.names())
	tests := []struct {
		name string
		req  QueryRequest
		want error
	}{
		{name: "blank", req: QueryRequest{Text: " \t", Threshold: 0.5}, want: domain.ErrEmptyQuery},
		{name: "threshold above one", req: QueryRequest{Text: "q", Threshold: 1.01}, want: domain.ErrInvalidThreshold},
		{name: "negative threshold", req: QueryRequest{Text: "q", Threshold: -0.1}, want: domain.ErrInvalidThreshold},
		{name: "nan threshold", req: QueryRequest{Text: "solar panels", Threshold: math.NaN()}, want: domain.ErrInvalidThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.orch.Ask(context.Background(), f.s, tt.req), tt.want)
			assert.Equal(t, before, f.s.Snapshot())
			assert.Len(t, f.rec.names(), events)
		})
	}
}

func TestAskFailuresBecomeMessages(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeLLM
		want string
	}{
		{name: "inference error", llm: &fakeLLM{err: fmt.Errorf("%w: 503", domain.ErrInference)}, want: "❌ Error: inference error: 503"},
		{name: "panic", llm: &fakeLLM{panicMsg: "nil map"}, want: "❌ Error: unexpected failure: nil map"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := readyFixture(t)
			f.orch.llm = tt.llm
			require.NoError(t, f.orch.Ask(context.Background(), f.s, QueryRequest{Text: "solar panels", Threshold: 0.1, Model: "model-b"}))

			assert.Equal(t, StateReady, f.s.State())
			msgs := f.s.Messages()
			require.Len(t, msgs, 3)
			assert.True(t, msgs[2].Error)
			assert.Equal(t, tt.want, msgs[2].Content)

			ev := f.rec.last()
			assert.Equal(t, telemetry.EventQueryError, ev.Name)
			assert.Equal(t, "model-b", ev.Metadata["model"])
		})
	}
}

func TestSequentialAsksKeepOrder(t *testing.T) {
	f := readyFixture(t)
	ctx := context.Background()
	require.NoError(t, f.orch.Ask(ctx, f.s, QueryRequest{Text: "solar panels", Threshold: 0.1}))
	require.NoError(t, f.orch.Ask(ctx, f.s, QueryRequest{Text: "inverter grid", Threshold: 0.1}))

	msgs := f.s.Messages()
	require.Len(t, msgs, 5)
	roles := make([]domain.Role, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	assert.Equal(t, []domain.Role{domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}, roles)
	assert.Equal(t, "solar panels", msgs[1].Content)
	assert.Equal(t, "answer 1 to solar panels", msgs[2].Content)
	assert.Equal(t, "inverter grid", msgs[3].Content)
	assert.Equal(t, "answer 2 to inverter grid", msgs[4].Content)
}

func TestClearMessagesKeepsIndex(t *testing.T) {
	f := readyFixture(t)
	require.NoError(t, f.orch.Ask(context.Background(), f.s, QueryRequest{Text: "solar", Threshold: 0.1}))

	f.orch.ClearMessages(context.Background(), f.s)
	assert.Empty(t, f.s.Messages())
	assert.Equal(t, StateReady, f.s.State())
	assert.True(t, f.s.HasIndex())
	assert.Equal(t, telemetry.EventClearChat, f.rec.last().Name)

	// still answerable
	require.NoError(t, f.orch.Ask(context.Background(), f.s, QueryRequest{Text: "solar", Threshold: 0.1}))
	assert.Len(t, f.s.Messages(), 2)

	empty := newFixture(t, tfidfPipeline())
	empty.orch.ClearMessages(context.Background(), empty.s)
	assert.Equal(t, StateEmpty, empty.s.State())
}

func TestResetIndexFromSettledStates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *fixture
	}{
		{name: "empty", setup: func(t *testing.T) *fixture { return newFixture(t, tfidfPipeline()) }},
		{name: "ready", setup: readyFixture},
		{name: "ready after questions", setup: func(t *testing.T) *fixture {
			f := readyFixture(t)
			require.NoError(t, f.orch.Ask(context.Background(), f.s, QueryRequest{Text: "solar", Threshold: 0.1}))
			return f
		}},
		{name: "empty after failed submit", setup: func(t *testing.T) *fixture {
			f := newFixture(t, tfidfPipeline())
			require.NoError(t, f.orch.SubmitDocuments(context.Background(), f.s, []domain.Upload{{Filename: "x.png"}}))
			return f
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.setup(t)
			old := f.s.handle

			assert.False(t, f.orch.ResetIndex(context.Background(), f.s))
			assert.Equal(t, StateEmpty, f.s.State())
			assert.Empty(t, f.s.Messages())
			assert.False(t, f.s.HasIndex())
			if old != nil {
				assert.True(t, old.Released())
			}
			ev := f.rec.last()
			assert.Equal(t, telemetry.EventResetIndex, ev.Name)
			assert.Equal(t, false, ev.Metadata["deferred"])

			// a reset session accepts documents again
			require.NoError(t, f.orch.SubmitDocuments(context.Background(), f.s, []domain.Upload{{Filename: "solar.txt", Data: []byte(solarText)}}))
			assert.Equal(t, StateReady, f.s.State())
		})
	}
}

func TestResetDuringQueryIsDeferred(t *testing.T) {
	f := readyFixture(t)
	f.llm.started = make(chan struct{})
	f.llm.release = make(chan struct{})
	old := f.s.handle

	done := make(chan error)
	go func() {
		done <- f.orch.Ask(context.Background(), f.s, QueryRequest{Text: "solar panels", Threshold: 0.1})
	}()
	<-f.llm.started
	assert.Equal(t, StateQuerying, f.s.State())

	// no other operation starts while the query runs
	assert.ErrorIs(t, f.orch.Ask(context.Background(), f.s, QueryRequest{Text: "again", Threshold: 0.1}), domain.ErrInvalidState)

	assert.True(t, f.orch.ResetIndex(context.Background(), f.s))
	assert.Equal(t, StateQuerying, f.s.State())
	assert.True(t, f.s.HasIndex())
	assert.True(t, f.s.Snapshot().ResetPending)

	close(f.llm.release)
	require.NoError(t, <-done)

	assert.Equal(t, StateEmpty, f.s.State())
	assert.Empty(t, f.s.Messages())
	assert.False(t, f.s.HasIndex())
	assert.True(t, old.Released())
	names := f.rec.names()
	assert.Equal(t, []string{telemetry.EventQueryResponse, telemetry.EventResetIndex}, names[len(names)-2:])
	assert.Equal(t, true, f.rec.last().Metadata["deferred"])
}

func TestResetDuringIndexingIsDeferred(t *testing.T) {
	b := &blockingIndexer{next: tfidfPipeline(), started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, b)

	done := make(chan error)
	go func() {
		done <- f.orch.SubmitDocuments(context.Background(), f.s, []domain.Upload{{Filename: "solar.txt", Data: []byte(solarText)}})
	}()
	<-b.started
	assert.Equal(t, StateIndexing, f.s.State())
	assert.ErrorIs(t, f.orch.SubmitDocuments(context.Background(), f.s, []domain.Upload{{Filename: "b.txt", Data: []byte("B.")}}), domain.ErrInvalidState)

	assert.True(t, f.orch.ResetIndex(context.Background(), f.s))
	close(b.release)
	require.NoError(t, <-done)

	assert.Equal(t, StateEmpty, f.s.State())
	assert.False(t, f.s.HasIndex())
	assert.Empty(t, f.s.Messages())
	assert.Equal(t, []string{telemetry.EventDocumentsProcessed, telemetry.EventResetIndex}, f.rec.names())
}

func TestSessionsAreIsolated(t *testing.T) {
	a := readyFixture(t)
	b := New(Config{Model: "model-a", Threshold: 0.5, TopK: 3})

	assert.NotEqual(t, a.s.ID(), b.ID())
	assert.ErrorIs(t, a.orch.Ask(context.Background(), b, QueryRequest{Text: "solar", Threshold: 0.1}), domain.ErrInvalidState)
	a.orch.ResetIndex(context.Background(), b)
	assert.Equal(t, StateReady, a.s.State())
	assert.True(t, a.s.HasIndex())
}

func TestSessionSettings(t *testing.T) {
	s := New(Config{Model: "a", Threshold: 0.5})
	s.SetModel("b")
	assert.Equal(t, "b", s.Config().Model)
	assert.ErrorIs(t, s.SetThreshold(1.5), domain.ErrInvalidThreshold)
	assert.ErrorIs(t, s.SetThreshold(math.NaN()), domain.ErrInvalidThreshold)
	require.NoError(t, s.SetThreshold(0.25))
	assert.Equal(t, 0.25, s.Config().Threshold)
	assert.Equal(t, "READY", StateReady.String())
	assert.WithinDuration(t, time.Now(), s.CreatedAt(), time.Minute)
}

func withoutTime(m domain.Message) domain.Message {
	m.CreatedAt = time.Time{}
	return m
}
