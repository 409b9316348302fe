package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scholar/backend/internal/metrics"
	"scholar/backend/internal/openrouter"
	"scholar/backend/internal/prompts"
)

// Reporter streams the final report composed from the plan and findings.
type Reporter struct {
	llm LLM
}

func NewReporter(llm LLM) Reporter {
	return Reporter{llm: llm}
}

func (r Reporter) Write(ctx context.Context, req Request, plan Plan, findings []string, emit func(Event) error) (string, openrouter.Usage, error) {
	messages := []openrouter.Message{
		{Role: "system", Content: req.systemPrompt("reporter", prompts.Reporter(time.Now(), req.ReportStyle))},
		{Role: "user", Content: buildReportBrief(req, plan, findings)},
	}

	messageID := newEventID()
	var report strings.Builder
	var usage openrouter.Usage
	err := r.llm.StreamChatCompletion(ctx, openrouter.StreamRequest{
		Model:    req.ModelID,
		Messages: messages,
		Params:   &req.Params,
	},
		nil,
		func(delta string) error {
			report.WriteString(delta)
			if emit == nil {
				return nil
			}
			return emit(NewEvent(EventMessageChunk, req.ThreadID, "reporter", messageID, delta))
		},
		func(u openrouter.Usage) error {
			usage = u
			return nil
		},
	)
	if err != nil {
		metrics.LLMRequests.WithLabelValues("error").Inc()
		return report.String(), usage, fmt.Errorf("reporter stream: %w", err)
	}
	metrics.LLMRequests.WithLabelValues("ok").Inc()

	if emit != nil {
		done := NewEvent(EventMessageChunk, req.ThreadID, "reporter", messageID, "")
		done.Data["finish_reason"] = "stop"
		if err := emit(done); err != nil {
			return report.String(), usage, err
		}
	}
	return report.String(), usage, nil
}

func buildReportBrief(req Request, plan Plan, findings []string) string {
	var b strings.Builder
	b.WriteString("Locale: ")
	b.WriteString(plan.Locale)
	b.WriteString("\nResearch topic: ")
	b.WriteString(plan.Title)
	if q := req.Question(); q != "" {
		b.WriteString("\nOriginal question: ")
		b.WriteString(q)
	}
	b.WriteString("\n\nFindings by step:\n")
	for i, finding := range findings {
		title := fmt.Sprintf("Step %d", i+1)
		if i < len(plan.Steps) {
			title = plan.Steps[i].Title
		}
		b.WriteString("\n## ")
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(finding)
		b.WriteString("\n")
	}
	return b.String()
}
