package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docqa/internal/domain"
	"docqa/internal/index"
	"docqa/internal/logger"
	"docqa/internal/telemetry"
)

const (
	// NoRelevantInfoAnswer is given instead of calling the model when no
	// passage reaches the similarity threshold.
	NoRelevantInfoAnswer = "I couldn't find any relevant information in your documents to answer that question. Try rephrasing it or lowering the similarity threshold."

	errorPrefix = "❌ Error: "
)

// Indexer builds an index from uploads.
type Indexer interface {
	Index(ctx context.Context, uploads []domain.Upload) (*index.Result, error)
}

// Synthesizer writes an answer from retrieved passages.
type Synthesizer interface {
	Generate(ctx context.Context, model, query string, passages []domain.SearchResult) (string, error)
}

// QueryRequest is one question. An empty Model uses the session's model.
type QueryRequest struct {
	Text      string
	Threshold float64
	Model     string
}

// Orchestrator drives sessions through the document QA state machine.
// Guard errors are returned; every other failure becomes an assistant
// message in the session transcript.
type Orchestrator struct {
	indexer   Indexer
	llm       Synthesizer
	telemetry telemetry.Recorder
	log       logger.Logger
}

func NewOrchestrator(indexer Indexer, llm Synthesizer, rec telemetry.Recorder, log logger.Logger) *Orchestrator {
	if rec == nil {
		rec = telemetry.NewGuard(telemetry.Nop{}, log)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{indexer: indexer, llm: llm, telemetry: rec, log: log}
}

// SubmitDocuments indexes uploads into a session that has no index yet.
func (o *Orchestrator) SubmitDocuments(ctx context.Context, s *Session, uploads []domain.Upload) error {
	s.mu.Lock()
	if s.state != StateEmpty {
		s.mu.Unlock()
		return domain.ErrInvalidState
	}
	if len(uploads) == 0 {
		s.mu.Unlock()
		return domain.ErrNoDocuments
	}
	s.state = StateIndexing
	embeddingModel := s.config.EmbeddingModel
	s.mu.Unlock()

	fileTypes := index.FileTypes(uploads)
	start := time.Now()
	var res *index.Result
	err := safely(func() error {
		var err error
		res, err = o.indexer.Index(ctx, uploads)
		return err
	})

	var events []telemetry.Event
	s.mu.Lock()
	if err != nil {
		s.state = StateEmpty
		s.appendLocked(domain.RoleAssistant, "❌ Error processing documents: "+err.Error(), true)
		events = append(events, s.event(telemetry.EventDocumentProcessingError, map[string]any{
			"file_count": len(uploads),
			"file_types": fileTypes,
			"error":      err.Error(),
		}))
	} else {
		s.handle = res.Handle
		s.state = StateReady
		s.appendLocked(domain.RoleAssistant, confirmation(res), false)
		events = append(events, s.event(telemetry.EventDocumentsProcessed, map[string]any{
			"file_count":              res.Files,
			"document_count":          len(res.Documents),
			"chunk_count":             res.Chunks,
			"file_types":              fileTypes,
			"processing_time_seconds": time.Since(start).Seconds(),
			"embedding_model":         embeddingModel,
		}))
	}
	if s.pendingReset {
		s.resetLocked()
		events = append(events, s.event(telemetry.EventResetIndex, map[string]any{"deferred": true}))
	}
	s.mu.Unlock()

	if err != nil {
		o.log.Error("session", "document processing failed", map[string]any{"session_id": s.id, "error": err})
	} else {
		o.log.Info("session", "documents processed", map[string]any{"session_id": s.id, "files": len(uploads)})
	}
	o.record(ctx, events)
	return nil
}

func confirmation(res *index.Result) string {
	msg := fmt.Sprintf("✅ Documents processed! I've indexed %d files. Ask me anything about your documents.", res.Files)
	if res.Summary != "" {
		msg += "\n\nSummary: " + res.Summary
	}
	return msg
}

// Ask answers a question against the session's index.
func (o *Orchestrator) Ask(ctx context.Context, s *Session, req QueryRequest) error {
	s.mu.Lock()
	if s.state != StateReady || s.handle == nil {
		s.mu.Unlock()
		return domain.ErrInvalidState
	}
	query := strings.TrimSpace(req.Text)
	if query == "" {
		s.mu.Unlock()
		return domain.ErrEmptyQuery
	}
	if !(req.Threshold >= 0 && req.Threshold <= 1) {
		s.mu.Unlock()
		return domain.ErrInvalidThreshold
	}
	model := req.Model
	if model == "" {
		model = s.config.Model
	}
	topK := s.config.TopK
	h := s.handle
	s.appendLocked(domain.RoleUser, query, false)
	s.state = StateQuerying
	s.mu.Unlock()

	start := time.Now()
	var (
		answer  string
		sources int
	)
	err := safely(func() error {
		found, err := index.Search(ctx, h, query, req.Threshold, topK)
		if err != nil {
			return err
		}
		sources = len(found)
		if len(found) == 0 {
			answer = NoRelevantInfoAnswer
			return nil
		}
		answer, err = o.llm.Generate(ctx, model, query, found)
		return err
	})
	elapsed := time.Since(start)

	var events []telemetry.Event
	s.mu.Lock()
	if err != nil {
		s.appendLocked(domain.RoleAssistant, errorPrefix+err.Error(), true)
		events = append(events, s.event(telemetry.EventQueryError, map[string]any{
			"query":                query,
			"model":                model,
			"similarity_threshold": req.Threshold,
			"error":                err.Error(),
		}))
	} else {
		s.appendLocked(domain.RoleAssistant, answer, false)
		events = append(events, s.event(telemetry.EventQueryResponse, map[string]any{
			"query":                 query,
			"response":              answer,
			"model":                 model,
			"response_time_seconds": elapsed.Seconds(),
			"similarity_threshold":  req.Threshold,
			"sources_count":         sources,
		}))
	}
	s.state = StateReady
	if s.pendingReset {
		s.resetLocked()
		events = append(events, s.event(telemetry.EventResetIndex, map[string]any{"deferred": true}))
	}
	s.mu.Unlock()

	if err != nil {
		o.log.Error("session", "query failed", map[string]any{"session_id": s.id, "model": model, "error": err})
	} else {
		o.log.Debug("session", "query answered", map[string]any{"session_id": s.id, "sources": sources, "elapsed_s": elapsed.Seconds()})
	}
	o.record(ctx, events)
	return nil
}

// ClearMessages empties the transcript. The index and state are kept.
func (o *Orchestrator) ClearMessages(ctx context.Context, s *Session) {
	s.mu.Lock()
	s.messages = nil
	ev := s.event(telemetry.EventClearChat, nil)
	s.mu.Unlock()
	o.record(ctx, []telemetry.Event{ev})
}

// ResetIndex discards the index and transcript. While an index build or a
// query is in flight the reset is queued and applied when it finishes;
// deferred reports that case.
func (o *Orchestrator) ResetIndex(ctx context.Context, s *Session) (deferred bool) {
	ev, busy, deferred := s.requestReset()
	if deferred {
		o.log.Info("session", "reset queued", map[string]any{"session_id": s.id, "state": busy.String()})
		return true
	}
	o.record(ctx, []telemetry.Event{ev})
	return false
}

// requestReset resets s now or, while an index build or query is in flight,
// queues the reset for that operation to apply. ev is the reset_index event
// of an immediate reset; busy is the state that caused a deferral.
func (s *Session) requestReset() (ev telemetry.Event, busy State, deferred bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIndexing || s.state == StateQuerying {
		s.pendingReset = true
		return telemetry.Event{}, s.state, true
	}
	s.resetLocked()
	return s.event(telemetry.EventResetIndex, map[string]any{"deferred": false}), StateEmpty, false
}

func (s *Session) event(name string, metadata map[string]any) telemetry.Event {
	return telemetry.Event{Name: name, SessionID: s.id, Metadata: metadata, Time: time.Now()}
}

func (o *Orchestrator) record(ctx context.Context, events []telemetry.Event) {
	for _, ev := range events {
		o.telemetry.Record(ctx, ev)
	}
}

// safely runs fn and turns a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure: %v", r)
		}
	}()
	return fn()
}
