package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"scholar/backend/internal/openrouter"
	"scholar/backend/internal/store"
	"scholar/backend/internal/tavily"
)

// scriptedLLM returns canned completions in order and echoes scripted
// deltas on streams.
type scriptedLLM struct {
	mu          sync.Mutex
	completions []string
	streamText  string
	err         error
	calls       int
}

func (s *scriptedLLM) Complete(ctx context.Context, req openrouter.StreamRequest) (string, openrouter.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", openrouter.Usage{}, s.err
	}
	if s.calls >= len(s.completions) {
		return "", openrouter.Usage{}, errors.New("no scripted completion left")
	}
	out := s.completions[s.calls]
	s.calls++
	return out, openrouter.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func (s *scriptedLLM) StreamChatCompletion(
	ctx context.Context,
	req openrouter.StreamRequest,
	onStart func() error,
	onDelta func(string) error,
	onUsage func(openrouter.Usage) error,
) error {
	if s.err != nil {
		return s.err
	}
	if onStart != nil {
		if err := onStart(); err != nil {
			return err
		}
	}
	for _, word := range strings.SplitAfter(s.streamText, " ") {
		if word == "" {
			continue
		}
		if onDelta != nil {
			if err := onDelta(word); err != nil {
				return err
			}
		}
	}
	if onUsage != nil {
		return onUsage(openrouter.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30})
	}
	return nil
}

type fakeSearcher struct {
	results []tavily.SearchResult
	err     error
	queries []string
	mu      sync.Mutex
}

func (f *fakeSearcher) Search(ctx context.Context, query string, count int) ([]tavily.SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.results, f.err
}

type memoryRecorder struct {
	created  int
	finished []store.ExecutionStatus
	tokens   int
}

func (m *memoryRecorder) Create(ctx context.Context, accountID, threadID, kind string) (string, error) {
	m.created++
	return fmt.Sprintf("exec-%d", m.created), nil
}

func (m *memoryRecorder) Finish(ctx context.Context, id string, status store.ExecutionStatus, errMessage string, duration time.Duration, totalTokens int) error {
	m.finished = append(m.finished, status)
	m.tokens = totalTokens
	return nil
}

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(ctx context.Context, accountID string) error { return d.err }

func collectEvents(events *[]Event) func(Event) error {
	return func(e Event) error {
		*events = append(*events, e)
		return nil
	}
}

func planJSON() string {
	return `{"locale":"en-US","has_enough_context":false,"thought":"t","title":"Topic","steps":[{"need_search":true,"title":"Search step","description":"find sources","step_type":"research"}]}`
}

func baseRequest() Request {
	return Request{
		AccountID:         "acct-1",
		ThreadID:          "thread-1",
		Messages:          []openrouter.Message{{Role: "user", Content: "research topic"}},
		ModelID:           "openai/gpt-4o",
		AutoAcceptedPlan:  true,
		MaxPlanIterations: 1,
		MaxStepNum:        3,
		MaxSearchResults:  3,
	}
}

func TestEngineRunsFullPipeline(t *testing.T) {
	llm := &scriptedLLM{
		completions: []string{planJSON(), "Step findings with [source](https://example.com)."},
		streamText:  "Final report text.",
	}
	searcher := &fakeSearcher{results: []tavily.SearchResult{
		{URL: "https://example.com", Title: "Example", Snippet: "snippet", RawContent: "full content"},
	}}
	recorder := &memoryRecorder{}
	engine := NewEngine(llm, searcher, nil, recorder, nil)

	var events []Event
	if err := engine.Run(context.Background(), baseRequest(), collectEvents(&events)); err != nil {
		t.Fatalf("run: %v", err)
	}

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	joined := strings.Join(types, ",")
	if !strings.Contains(joined, EventToolCalls) || !strings.Contains(joined, EventToolCallResult) {
		t.Fatalf("expected tool call events, got %v", types)
	}
	if types[0] != EventMessageChunk {
		t.Fatalf("expected plan chunk first, got %v", types)
	}
	last := events[len(events)-1]
	if last.Type != EventMessageChunk || last.Data["finish_reason"] != "stop" {
		t.Fatalf("expected terminal stop chunk, got %+v", last)
	}

	if recorder.created != 1 || len(recorder.finished) != 1 || recorder.finished[0] != store.ExecutionCompleted {
		t.Fatalf("unexpected execution recording %+v", recorder)
	}
	if recorder.tokens == 0 {
		t.Fatal("expected token accounting")
	}
	if len(searcher.queries) == 0 {
		t.Fatal("expected search to run")
	}
}

func TestEngineInterruptsForPlanReview(t *testing.T) {
	llm := &scriptedLLM{completions: []string{planJSON()}}
	recorder := &memoryRecorder{}
	engine := NewEngine(llm, &fakeSearcher{}, nil, recorder, nil)

	req := baseRequest()
	req.AutoAcceptedPlan = false

	var events []Event
	if err := engine.Run(context.Background(), req, collectEvents(&events)); err != nil {
		t.Fatalf("run: %v", err)
	}

	last := events[len(events)-1]
	if last.Type != EventInterrupt {
		t.Fatalf("expected interrupt event, got %+v", last)
	}
	options, ok := last.Data["options"].([]map[string]any)
	if !ok || len(options) != 2 {
		t.Fatalf("expected review options, got %v", last.Data["options"])
	}
	if recorder.finished[0] != store.ExecutionCompleted {
		t.Fatalf("expected execution completed at interrupt, got %v", recorder.finished)
	}
}

func TestEngineResumesAfterAcceptance(t *testing.T) {
	llm := &scriptedLLM{
		completions: []string{planJSON(), "findings"},
		streamText:  "report",
	}
	engine := NewEngine(llm, &fakeSearcher{}, nil, &memoryRecorder{}, nil)

	req := baseRequest()
	req.AutoAcceptedPlan = false
	req.InterruptFeedback = FeedbackAccepted

	var events []Event
	if err := engine.Run(context.Background(), req, collectEvents(&events)); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, e := range events {
		if e.Type == EventInterrupt {
			t.Fatal("expected no interrupt after acceptance")
		}
	}
}

func TestEngineReplansWithEditFeedback(t *testing.T) {
	llm := &scriptedLLM{
		completions: []string{planJSON(), "findings"},
		streamText:  "report",
	}
	engine := NewEngine(llm, &fakeSearcher{}, nil, &memoryRecorder{}, nil)

	req := baseRequest()
	req.AutoAcceptedPlan = false
	req.InterruptFeedback = FeedbackEditPlan + " focus on hardware"

	var events []Event
	if err := engine.Run(context.Background(), req, collectEvents(&events)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if events[len(events)-1].Data["finish_reason"] != "stop" {
		t.Fatal("expected run to proceed to report after edit feedback")
	}
}

func TestEngineSkipsStepsWhenContextIsEnough(t *testing.T) {
	plan := `{"locale":"en-US","has_enough_context":true,"title":"Topic","steps":[]}`
	llm := &scriptedLLM{completions: []string{plan}, streamText: "direct answer"}
	searcher := &fakeSearcher{}
	engine := NewEngine(llm, searcher, nil, &memoryRecorder{}, nil)

	var events []Event
	if err := engine.Run(context.Background(), baseRequest(), collectEvents(&events)); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, e := range events {
		if e.Type == EventToolCalls {
			t.Fatal("expected no research steps")
		}
	}
	if len(searcher.queries) != 0 {
		t.Fatalf("expected no searches, got %v", searcher.queries)
	}
}

func TestEngineEnforcesRunLimit(t *testing.T) {
	limitErr := errors.New("limit")
	engine := NewEngine(&scriptedLLM{}, &fakeSearcher{}, nil, &memoryRecorder{}, denyLimiter{err: limitErr})

	err := engine.Run(context.Background(), baseRequest(), nil)
	if !errors.Is(err, limitErr) {
		t.Fatalf("expected limiter error, got %v", err)
	}
}

func TestEngineRecordsFailure(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("model offline")}
	recorder := &memoryRecorder{}
	engine := NewEngine(llm, &fakeSearcher{}, nil, recorder, nil)

	err := engine.Run(context.Background(), baseRequest(), nil)
	if err == nil {
		t.Fatal("expected run failure")
	}
	if len(recorder.finished) != 1 || recorder.finished[0] != store.ExecutionFailed {
		t.Fatalf("expected failed execution record, got %v", recorder.finished)
	}
}

func TestEngineBackgroundInvestigation(t *testing.T) {
	llm := &scriptedLLM{
		completions: []string{planJSON(), "findings"},
		streamText:  "report",
	}
	searcher := &fakeSearcher{results: []tavily.SearchResult{{URL: "https://example.com", Title: "E", Snippet: "s"}}}
	engine := NewEngine(llm, searcher, nil, &memoryRecorder{}, nil)

	req := baseRequest()
	req.EnableBackgroundInvestigation = true
	if err := engine.Run(context.Background(), req, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if searcher.queries[0] != "research topic" {
		t.Fatalf("expected background query first, got %v", searcher.queries)
	}
}

func TestEngineReplansUpToIterationBudget(t *testing.T) {
	enoughPlan := `{"locale":"en-US","has_enough_context":true,"thought":"t","title":"Topic","steps":[]}`
	llm := &scriptedLLM{
		completions: []string{planJSON(), "First-pass findings.", enoughPlan},
		streamText:  "Final report.",
	}
	searcher := &fakeSearcher{results: []tavily.SearchResult{
		{URL: "https://example.com", Title: "Example", Snippet: "snippet", RawContent: "full content"},
	}}
	engine := NewEngine(llm, searcher, nil, &memoryRecorder{}, nil)

	req := baseRequest()
	req.MaxPlanIterations = 2

	var events []Event
	if err := engine.Run(context.Background(), req, collectEvents(&events)); err != nil {
		t.Fatalf("run: %v", err)
	}

	planChunks := 0
	for _, e := range events {
		if e.Type == EventMessageChunk && e.Data["agent"] == "planner" {
			planChunks++
		}
	}
	if planChunks != 2 {
		t.Fatalf("plan chunks = %d, want 2", planChunks)
	}
	if llm.calls != 3 {
		t.Fatalf("completions = %d, want 3 (plan, step, replan)", llm.calls)
	}
}
