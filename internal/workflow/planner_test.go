package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"scholar/backend/internal/openrouter"
)

func TestParsePlanStrictJSON(t *testing.T) {
	raw := `{"locale":"en-US","has_enough_context":false,"thought":"t","title":"Quantum computing overview","steps":[{"need_search":true,"title":"Survey","description":"Find recent surveys","step_type":"research"}]}`
	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	if plan.Title != "Quantum computing overview" || len(plan.Steps) != 1 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.Steps[0].StepType != StepResearch {
		t.Fatalf("unexpected step type %q", plan.Steps[0].StepType)
	}
}

func TestParsePlanStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"title\":\"T\",\"steps\":[]}\n```"
	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	if plan.Title != "T" {
		t.Fatalf("unexpected title %q", plan.Title)
	}
	if plan.Locale != "en-US" {
		t.Fatalf("expected default locale, got %q", plan.Locale)
	}
}

func TestParsePlanRepairsDamagedJSON(t *testing.T) {
	// Trailing comma and unquoted key, the typical LLM damage.
	raw := `{"title": "T", "steps": [{"need_search": true, "title": "S", "description": "D", "step_type": "research"},]}`
	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("expected repair to succeed: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Title != "S" {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestParsePlanSurroundingProse(t *testing.T) {
	raw := "Here is the plan:\n{\"title\":\"T\",\"steps\":[]}\nLet me know."
	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	if plan.Title != "T" {
		t.Fatalf("unexpected title %q", plan.Title)
	}
}

func TestParsePlanRejectsNonJSON(t *testing.T) {
	if _, err := ParsePlan("I cannot produce a plan."); err == nil {
		t.Fatal("expected error for non-json response")
	}
	if _, err := ParsePlan(`{"locale":"en-US","steps":[]}`); err == nil {
		t.Fatal("expected error for empty plan")
	}
}

func TestParsePlanNormalizesUnknownStepType(t *testing.T) {
	raw := `{"title":"T","steps":[{"need_search":false,"title":"S","description":"D","step_type":"weird"}]}`
	plan, err := ParsePlan(raw)
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	if plan.Steps[0].StepType != StepResearch {
		t.Fatalf("expected research fallback, got %q", plan.Steps[0].StepType)
	}
}

func TestPlannerFallsBackToHeuristicPlan(t *testing.T) {
	llm := &scriptedLLM{completions: []string{"definitely not json"}}
	planner := NewPlanner(llm)

	req := Request{
		Messages:   []openrouter.Message{{Role: "user", Content: "What is WebAssembly?"}},
		ModelID:    "openai/gpt-4o",
		MaxStepNum: 3,
	}
	plan, _, err := planner.Plan(context.Background(), req, "")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Steps) != 1 || !plan.Steps[0].NeedSearch {
		t.Fatalf("expected heuristic single research step, got %+v", plan)
	}
	if !strings.Contains(plan.Steps[0].Description, "WebAssembly") {
		t.Fatalf("expected question in step description, got %q", plan.Steps[0].Description)
	}
}

func TestPlannerPropagatesCompletionErrors(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("upstream down")}
	planner := NewPlanner(llm)

	_, _, err := planner.Plan(context.Background(), Request{
		Messages: []openrouter.Message{{Role: "user", Content: "q"}},
		ModelID:  "m",
	}, "")
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("expected completion error, got %v", err)
	}
}

func TestPlannerTruncatesStepsToBudget(t *testing.T) {
	raw := `{"title":"T","steps":[` +
		`{"need_search":true,"title":"1","description":"d","step_type":"research"},` +
		`{"need_search":true,"title":"2","description":"d","step_type":"research"},` +
		`{"need_search":true,"title":"3","description":"d","step_type":"research"},` +
		`{"need_search":true,"title":"4","description":"d","step_type":"research"}]}`
	llm := &scriptedLLM{completions: []string{raw}}
	planner := NewPlanner(llm)

	plan, _, err := planner.Plan(context.Background(), Request{
		Messages:   []openrouter.Message{{Role: "user", Content: "q"}},
		ModelID:    "m",
		MaxStepNum: 2,
	}, "")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
}

type captureLLM struct {
	scriptedLLM
	lastRequest openrouter.StreamRequest
}

func (c *captureLLM) Complete(ctx context.Context, req openrouter.StreamRequest) (string, openrouter.Usage, error) {
	c.lastRequest = req
	return c.scriptedLLM.Complete(ctx, req)
}

func TestPlannerUsesReasoningModelAndPromptOverride(t *testing.T) {
	llm := &captureLLM{scriptedLLM: scriptedLLM{completions: []string{`{"title":"T","steps":[]}`}}}
	planner := NewPlanner(llm)

	req := Request{
		Messages:         []openrouter.Message{{Role: "user", Content: "question"}},
		ModelID:          "basic-model",
		ReasoningModelID: "reasoning-model",
		PromptOverrides:  map[string]string{"planner": "You are my custom planner."},
		MaxStepNum:       3,
	}
	if _, _, err := planner.Plan(context.Background(), req, ""); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if llm.lastRequest.Model != "reasoning-model" {
		t.Fatalf("model = %q, want reasoning-model", llm.lastRequest.Model)
	}
	if llm.lastRequest.Messages[0].Content != "You are my custom planner." {
		t.Fatalf("system prompt = %q", llm.lastRequest.Messages[0].Content)
	}
}

func TestPlannerFallsBackToBasicModel(t *testing.T) {
	llm := &captureLLM{scriptedLLM: scriptedLLM{completions: []string{`{"title":"T","steps":[]}`}}}
	planner := NewPlanner(llm)

	req := Request{
		Messages: []openrouter.Message{{Role: "user", Content: "question"}},
		ModelID:  "basic-model",
	}
	if _, _, err := planner.Plan(context.Background(), req, ""); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if llm.lastRequest.Model != "basic-model" {
		t.Fatalf("model = %q, want basic-model", llm.lastRequest.Model)
	}
}
