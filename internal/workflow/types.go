// Package workflow runs the multi-agent research pipeline: planning,
// per-step research and analysis, and final report generation, emitting
// progress to the caller as a stream of events.
package workflow

import (
	"encoding/json"
	"strings"

	"scholar/backend/internal/openrouter"
	"scholar/backend/internal/prompts"
)

// Event is one server-sent event produced by a run. Payload keys with
// empty values are dropped before encoding.
type Event struct {
	Type string
	Data map[string]any
}

const (
	EventMessageChunk   = "message_chunk"
	EventToolCalls      = "tool_calls"
	EventToolCallResult = "tool_call_result"
	EventInterrupt      = "interrupt"
)

// Interrupt feedback markers recognized when a run resumes after plan review.
const (
	FeedbackAccepted = "[accepted]"
	FeedbackEditPlan = "[edit_plan]"
)

type StepType string

const (
	StepResearch   StepType = "research"
	StepProcessing StepType = "processing"
)

// Step is one unit of the research plan.
type Step struct {
	NeedSearch   bool     `json:"need_search"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	StepType     StepType `json:"step_type"`
	ExecutionRes string   `json:"execution_res,omitempty"`
}

// Plan is the planner's structured output.
type Plan struct {
	Locale           string `json:"locale"`
	HasEnoughContext bool   `json:"has_enough_context"`
	Thought          string `json:"thought"`
	Title            string `json:"title"`
	Steps            []Step `json:"steps"`
}

// Request carries everything one run needs.
type Request struct {
	AccountID string
	ThreadID  string
	Messages  []openrouter.Message

	// ModelID drives research and report generation; ReasoningModelID,
	// when set, is used for planning instead.
	ModelID          string
	ReasoningModelID string
	Params           openrouter.SamplingParams

	// PromptOverrides replaces the built-in system prompt for an agent
	// (planner, researcher, coder, reporter) when the account configured one.
	PromptOverrides map[string]string

	AutoAcceptedPlan              bool
	InterruptFeedback             string
	EnableBackgroundInvestigation bool
	ReportStyle                   prompts.ReportStyle

	MaxPlanIterations int
	MaxStepNum        int
	MaxSearchResults  int
}

func (r Request) systemPrompt(agent, builtin string) string {
	if override := strings.TrimSpace(r.PromptOverrides[agent]); override != "" {
		return override
	}
	return builtin
}

func (r Request) planModel() string {
	if strings.TrimSpace(r.ReasoningModelID) != "" {
		return r.ReasoningModelID
	}
	return r.ModelID
}

// Question returns the latest user message content.
func (r Request) Question() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return strings.TrimSpace(r.Messages[i].Content)
		}
	}
	return ""
}

// NewEvent builds an event with the standard envelope fields.
func NewEvent(eventType, threadID, agent, messageID, content string) Event {
	data := map[string]any{
		"thread_id": threadID,
		"agent":     agent,
		"id":        messageID,
		"role":      "assistant",
	}
	if content != "" {
		data["content"] = content
	}
	return Event{Type: eventType, Data: data}
}

// Encode renders the event wire payload without the SSE framing.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e.Data)
}
