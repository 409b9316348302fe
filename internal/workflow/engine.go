package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"scholar/backend/internal/metrics"
	"scholar/backend/internal/openrouter"
	"scholar/backend/internal/store"
)

// ExecutionRecorder persists run lifecycle records.
type ExecutionRecorder interface {
	Create(ctx context.Context, accountID, threadID, kind string) (string, error)
	Finish(ctx context.Context, id string, status store.ExecutionStatus, errMessage string, duration time.Duration, totalTokens int) error
}

// RunLimiter decides whether an account may start another run.
type RunLimiter interface {
	Allow(ctx context.Context, accountID string) error
}

// Engine drives a full research run: optional background investigation,
// planning with optional human review, step execution, and reporting.
type Engine struct {
	planner    Planner
	researcher Researcher
	reporter   Reporter
	searcher   Searcher
	executions ExecutionRecorder
	limiter    RunLimiter
}

func NewEngine(llm LLM, searcher Searcher, rd Reader, executions ExecutionRecorder, limiter RunLimiter) Engine {
	return Engine{
		planner:    NewPlanner(llm),
		researcher: NewResearcher(llm, searcher, rd),
		reporter:   NewReporter(llm),
		searcher:   searcher,
		executions: executions,
		limiter:    limiter,
	}
}

// Run executes the pipeline, emitting events to the caller. The returned
// error reflects pipeline failure; events already emitted stay delivered.
func (e Engine) Run(ctx context.Context, req Request, emit func(Event) error) error {
	if e.limiter != nil {
		if err := e.limiter.Allow(ctx, req.AccountID); err != nil {
			return err
		}
	}

	executionID := ""
	if e.executions != nil {
		id, err := e.executions.Create(ctx, req.AccountID, req.ThreadID, "research")
		if err != nil {
			return fmt.Errorf("record execution: %w", err)
		}
		executionID = id
	}

	started := time.Now()
	totalTokens := 0
	runErr := e.run(ctx, req, emit, &totalTokens)

	duration := time.Since(started)
	metrics.WorkflowDuration.Observe(duration.Seconds())
	metrics.WorkflowTokens.Add(float64(totalTokens))

	status := store.ExecutionCompleted
	errMessage := ""
	if runErr != nil {
		status = store.ExecutionFailed
		errMessage = runErr.Error()
	}
	metrics.WorkflowRuns.WithLabelValues(string(status)).Inc()

	if e.executions != nil && executionID != "" {
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.executions.Finish(finishCtx, executionID, status, errMessage, duration, totalTokens); err != nil && runErr == nil {
			runErr = fmt.Errorf("finish execution: %w", err)
		}
	}
	return runErr
}

func (e Engine) run(ctx context.Context, req Request, emit func(Event) error, totalTokens *int) error {
	background := ""
	if req.EnableBackgroundInvestigation && e.searcher != nil {
		background = e.investigate(ctx, req)
	}

	feedback := strings.TrimSpace(req.InterruptFeedback)
	if editFeedback, ok := strings.CutPrefix(feedback, FeedbackEditPlan); ok {
		instruction := "Revise the plan based on the latest feedback in the conversation."
		if text := strings.TrimSpace(editFeedback); text != "" {
			instruction = "Revise the plan with this feedback: " + text
		}
		req.Messages = append(req.Messages, openrouter.Message{
			Role:    "user",
			Content: instruction,
		})
	}

	iterations := req.MaxPlanIterations
	if iterations <= 0 {
		iterations = 1
	}

	var plan Plan
	var findings []string
	for iteration := 0; iteration < iterations; iteration++ {
		var usage openrouter.Usage
		var err error
		plan, usage, err = e.planner.Plan(ctx, req, background)
		if err != nil {
			return err
		}
		*totalTokens += usage.TotalTokens

		if err := e.emitPlan(req, plan, emit); err != nil {
			return err
		}

		if iteration == 0 && !req.AutoAcceptedPlan && feedback == "" {
			return e.emitInterrupt(req, emit)
		}

		if plan.HasEnoughContext {
			break
		}
		stepFindings, err := e.executeSteps(ctx, req, plan, findings, emit, totalTokens)
		if err != nil {
			return err
		}
		findings = stepFindings

		// Further iterations replan over what was found so far.
		if iteration+1 < iterations {
			req.Messages = append(req.Messages, openrouter.Message{
				Role: "user",
				Content: "Findings so far:\n\n" + strings.Join(findings, "\n\n---\n\n") +
					"\n\nIf these answer the question, set has_enough_context to true. Otherwise plan the remaining gaps.",
			})
		}
	}

	report, reportUsage, err := e.reporter.Write(ctx, req, plan, findings, emit)
	if reportUsage.TotalTokens > 0 {
		*totalTokens += reportUsage.TotalTokens
	} else if report != "" {
		*totalTokens += countTokens(report)
	}
	return err
}

func (e Engine) executeSteps(ctx context.Context, req Request, plan Plan, findings []string, emit func(Event) error, totalTokens *int) ([]string, error) {
	maxSteps := req.MaxStepNum
	if maxSteps <= 0 || maxSteps > len(plan.Steps) {
		maxSteps = len(plan.Steps)
	}
	for _, step := range plan.Steps[:maxSteps] {
		var result string
		var stepUsage openrouter.Usage
		var stepErr error
		if step.StepType == StepProcessing || !step.NeedSearch {
			result, stepUsage, stepErr = e.researcher.ExecuteProcessing(ctx, req, plan, step, findings, emit)
		} else {
			result, stepUsage, stepErr = e.researcher.Execute(ctx, req, plan, step, findings, emit)
		}
		if stepErr != nil {
			return findings, stepErr
		}
		*totalTokens += stepUsage.TotalTokens
		findings = append(findings, result)
	}
	return findings, nil
}

// investigate performs a quick pre-planning search so the planner sees
// current facts for time-sensitive topics. Failures are non-fatal.
func (e Engine) investigate(ctx context.Context, req Request) string {
	question := req.Question()
	if question == "" {
		return ""
	}
	results, err := e.searcher.Search(ctx, question, req.MaxSearchResults)
	if err != nil {
		metrics.SearchRequests.WithLabelValues("error").Inc()
		return ""
	}
	metrics.SearchRequests.WithLabelValues("ok").Inc()

	var b strings.Builder
	for _, result := range results {
		b.WriteString("## ")
		b.WriteString(result.Title)
		b.WriteString("\n\n")
		if result.RawContent != "" {
			b.WriteString(trimRunes(result.RawContent, maxObservationLen))
		} else {
			b.WriteString(result.Snippet)
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

func (e Engine) emitPlan(req Request, plan Plan, emit func(Event) error) error {
	if emit == nil {
		return nil
	}
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return emit(NewEvent(EventMessageChunk, req.ThreadID, "planner", newEventID(), string(payload)))
}

func (e Engine) emitInterrupt(req Request, emit func(Event) error) error {
	if emit == nil {
		return nil
	}
	event := NewEvent(EventInterrupt, req.ThreadID, "planner", req.ThreadID, "Please review the plan.")
	event.Data["finish_reason"] = "interrupt"
	event.Data["options"] = []map[string]any{
		{"text": "Edit plan", "value": "edit_plan"},
		{"text": "Start research", "value": "accepted"},
	}
	return emit(event)
}

func newEventID() string {
	return uuid.NewString()
}
