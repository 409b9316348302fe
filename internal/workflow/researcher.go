package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"scholar/backend/internal/metrics"
	"scholar/backend/internal/openrouter"
	"scholar/backend/internal/prompts"
	"scholar/backend/internal/reader"
	"scholar/backend/internal/tavily"
)

const (
	maxParallelReads  = 3
	maxObservationLen = 8_000
)

// Searcher is the web search surface the researcher needs.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]tavily.SearchResult, error)
}

// Reader fetches and extracts one source page.
type Reader interface {
	Read(ctx context.Context, rawURL string) (reader.Result, error)
}

// Researcher executes research steps: search, read, then write findings.
type Researcher struct {
	llm      LLM
	searcher Searcher
	reader   Reader
}

func NewResearcher(llm LLM, searcher Searcher, rd Reader) Researcher {
	return Researcher{llm: llm, searcher: searcher, reader: rd}
}

type sourceMaterial struct {
	Query   string
	Results []tavily.SearchResult
}

// gather runs the step's searches in parallel and backfills page content
// for results the search API returned without raw text.
func (r Researcher) gather(ctx context.Context, step Step, maxResults int) ([]sourceMaterial, error) {
	queries := stepQueries(step)
	materials := make([]sourceMaterial, len(queries))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelReads)
	for i, query := range queries {
		group.Go(func() error {
			results, err := r.searcher.Search(groupCtx, query, maxResults)
			if err != nil {
				metrics.SearchRequests.WithLabelValues("error").Inc()
				return fmt.Errorf("search %q: %w", query, err)
			}
			metrics.SearchRequests.WithLabelValues("ok").Inc()
			materials[i] = sourceMaterial{Query: query, Results: results}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if r.reader != nil {
		r.backfillContent(ctx, materials)
	}
	return materials, nil
}

func (r Researcher) backfillContent(ctx context.Context, materials []sourceMaterial) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelReads)
	for mi := range materials {
		for ri := range materials[mi].Results {
			if strings.TrimSpace(materials[mi].Results[ri].RawContent) != "" {
				continue
			}
			group.Go(func() error {
				result, err := r.reader.Read(groupCtx, materials[mi].Results[ri].URL)
				if err == nil && result.Text != "" {
					materials[mi].Results[ri].RawContent = result.Text
				}
				// A failed read leaves the snippet in place.
				return nil
			})
		}
	}
	_ = group.Wait()
}

// Execute runs one research step and returns the written findings.
func (r Researcher) Execute(ctx context.Context, req Request, plan Plan, step Step, priorFindings []string, emit func(Event) error) (string, openrouter.Usage, error) {
	if r.searcher == nil {
		return "", openrouter.Usage{}, fmt.Errorf("search is not configured")
	}

	callID := newEventID()
	queries := stepQueries(step)
	if emit != nil {
		event := NewEvent(EventToolCalls, req.ThreadID, "researcher", callID, "")
		event.Data["tool_calls"] = []map[string]any{{
			"id":   callID,
			"name": "web_search",
			"args": map[string]any{"queries": queries},
		}}
		if err := emit(event); err != nil {
			return "", openrouter.Usage{}, err
		}
	}

	materials, err := r.gather(ctx, step, req.MaxSearchResults)
	if err != nil {
		return "", openrouter.Usage{}, err
	}

	if emit != nil {
		event := NewEvent(EventToolCallResult, req.ThreadID, "researcher", newEventID(), formatSearchSummary(materials))
		event.Data["tool_call_id"] = callID
		if err := emit(event); err != nil {
			return "", openrouter.Usage{}, err
		}
	}

	messages := []openrouter.Message{
		{Role: "system", Content: req.systemPrompt("researcher", prompts.Researcher(time.Now()))},
		{Role: "user", Content: buildStepBrief(plan, step, priorFindings) + "\n\n" + formatMaterials(materials)},
	}
	findings, usage, err := r.llm.Complete(ctx, openrouter.StreamRequest{
		Model:    req.ModelID,
		Messages: messages,
		Params:   &req.Params,
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues("error").Inc()
		return "", usage, fmt.Errorf("researcher completion: %w", err)
	}
	metrics.LLMRequests.WithLabelValues("ok").Inc()
	return strings.TrimSpace(findings), usage, nil
}

// ExecuteProcessing runs one analysis step over the findings gathered so far.
func (r Researcher) ExecuteProcessing(ctx context.Context, req Request, plan Plan, step Step, priorFindings []string, emit func(Event) error) (string, openrouter.Usage, error) {
	messages := []openrouter.Message{
		{Role: "system", Content: req.systemPrompt("coder", prompts.Coder(time.Now()))},
		{Role: "user", Content: buildStepBrief(plan, step, priorFindings)},
	}
	result, usage, err := r.llm.Complete(ctx, openrouter.StreamRequest{
		Model:    req.ModelID,
		Messages: messages,
		Params:   &req.Params,
	})
	if err != nil {
		metrics.LLMRequests.WithLabelValues("error").Inc()
		return "", usage, fmt.Errorf("processing completion: %w", err)
	}
	metrics.LLMRequests.WithLabelValues("ok").Inc()
	return strings.TrimSpace(result), usage, nil
}

func stepQueries(step Step) []string {
	queries := []string{strings.TrimSpace(step.Title)}
	desc := strings.TrimSpace(step.Description)
	if desc != "" && !strings.EqualFold(desc, queries[0]) {
		queries = append(queries, desc)
	}
	out := queries[:0]
	for _, q := range queries {
		if q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		out = append(out, "background information")
	}
	return out
}

func buildStepBrief(plan Plan, step Step, priorFindings []string) string {
	var b strings.Builder
	b.WriteString("Research plan: ")
	b.WriteString(plan.Title)
	b.WriteString("\nCurrent step: ")
	b.WriteString(step.Title)
	b.WriteString("\nStep description: ")
	b.WriteString(step.Description)
	if len(priorFindings) > 0 {
		b.WriteString("\n\nFindings from earlier steps:\n")
		for i, finding := range priorFindings {
			b.WriteString(fmt.Sprintf("--- Step %d ---\n", i+1))
			b.WriteString(trimRunes(finding, maxObservationLen))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatMaterials(materials []sourceMaterial) string {
	var b strings.Builder
	b.WriteString("Source material:\n")
	index := 1
	for _, material := range materials {
		for _, result := range material.Results {
			b.WriteString(fmt.Sprintf("\n[%d] %s\nURL: %s\n", index, result.Title, result.URL))
			body := result.RawContent
			if body == "" {
				body = result.Snippet
			}
			b.WriteString(trimRunes(body, maxObservationLen))
			b.WriteString("\n")
			index++
		}
	}
	if index == 1 {
		b.WriteString("\n(no results)\n")
	}
	return b.String()
}

func formatSearchSummary(materials []sourceMaterial) string {
	var b strings.Builder
	total := 0
	for _, material := range materials {
		total += len(material.Results)
	}
	b.WriteString(fmt.Sprintf("Found %d sources:\n", total))
	for _, material := range materials {
		for _, result := range material.Results {
			title := result.Title
			if title == "" {
				title = result.URL
			}
			b.WriteString("- [")
			b.WriteString(title)
			b.WriteString("](")
			b.WriteString(result.URL)
			b.WriteString(")\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func trimRunes(raw string, limit int) string {
	runes := []rune(raw)
	if len(runes) <= limit {
		return raw
	}
	return string(runes[:limit])
}
