package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"scholar/backend/internal/openrouter"
	"scholar/backend/internal/prompts"
)

// LLM is the completion surface the pipeline needs from the model client.
type LLM interface {
	Complete(ctx context.Context, req openrouter.StreamRequest) (string, openrouter.Usage, error)
	StreamChatCompletion(
		ctx context.Context,
		req openrouter.StreamRequest,
		onStart func() error,
		onDelta func(string) error,
		onUsage func(openrouter.Usage) error,
	) error
}

// Planner turns a conversation into a structured research plan.
type Planner struct {
	llm LLM
}

func NewPlanner(llm LLM) Planner {
	return Planner{llm: llm}
}

// Plan asks the model for a plan. On a malformed or failed response it
// degrades to a single-step heuristic plan rather than aborting the run.
func (p Planner) Plan(ctx context.Context, req Request, backgroundResults string) (Plan, openrouter.Usage, error) {
	if p.llm == nil {
		return heuristicPlan(req), openrouter.Usage{}, nil
	}

	messages := []openrouter.Message{
		{Role: "system", Content: req.systemPrompt("planner", prompts.Planner(time.Now(), req.MaxStepNum))},
	}
	messages = append(messages, prompts.TruncateHistory(req.Messages)...)
	if strings.TrimSpace(backgroundResults) != "" {
		messages = append(messages, openrouter.Message{
			Role:    "user",
			Content: "Background investigation results:\n" + backgroundResults,
		})
	}

	raw, usage, err := p.llm.Complete(ctx, openrouter.StreamRequest{
		Model:    req.planModel(),
		Messages: messages,
		Params:   &req.Params,
	})
	if err != nil {
		return Plan{}, usage, fmt.Errorf("planner completion: %w", err)
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		return heuristicPlan(req), usage, nil
	}
	if len(plan.Steps) > req.MaxStepNum && req.MaxStepNum > 0 {
		plan.Steps = plan.Steps[:req.MaxStepNum]
	}
	return plan, usage, nil
}

// ParsePlan decodes a plan from raw model output, repairing common JSON
// damage such as code fences, trailing commas, and unquoted keys.
func ParsePlan(raw string) (Plan, error) {
	cleaned := stripCodeFences(raw)
	cleaned = extractJSONObject(cleaned)
	if cleaned == "" {
		return Plan{}, errors.New("plan response did not include json")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return Plan{}, fmt.Errorf("parse plan: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &plan); err != nil {
			return Plan{}, fmt.Errorf("parse repaired plan: %w", err)
		}
	}

	if strings.TrimSpace(plan.Title) == "" && len(plan.Steps) == 0 {
		return Plan{}, errors.New("plan is empty")
	}
	for i := range plan.Steps {
		if plan.Steps[i].StepType != StepProcessing {
			plan.Steps[i].StepType = StepResearch
		}
	}
	if plan.Locale == "" {
		plan.Locale = "en-US"
	}
	return plan, nil
}

func heuristicPlan(req Request) Plan {
	question := req.Question()
	title := question
	if title == "" {
		title = "Research"
	}
	return Plan{
		Locale:  "en-US",
		Thought: "Direct research over the user's question.",
		Title:   title,
		Steps: []Step{{
			NeedSearch:  true,
			Title:       "Gather sources",
			Description: "Search the web for authoritative, recent sources that address: " + question,
			StepType:    StepResearch,
		}},
	}
}

func stripCodeFences(raw string) string {
	value := strings.TrimSpace(raw)
	if !strings.HasPrefix(value, "```") {
		return value
	}
	value = strings.TrimPrefix(value, "```json")
	value = strings.TrimPrefix(value, "```")
	if idx := strings.LastIndex(value, "```"); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func extractJSONObject(raw string) string {
	value := strings.TrimSpace(raw)
	if strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}") {
		return value
	}
	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(value[start : end+1])
}
