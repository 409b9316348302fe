// Package prompts builds the system prompts for every agent in the
// research pipeline. Templates accept a small variable set and always
// include the current time so agents reason about recency correctly.
package prompts

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"scholar/backend/internal/openrouter"
)

// ReportStyle selects the register of the final report.
type ReportStyle string

const (
	StyleAcademic       ReportStyle = "academic"
	StylePopularScience ReportStyle = "popular_science"
	StyleNews           ReportStyle = "news"
	StyleSocialMedia    ReportStyle = "social_media"
)

const (
	maxHistoryMessages  = 20
	keepLeadingMessages = 3
)

// CurrentTime formats now the way every agent prompt expects it.
func CurrentTime(now time.Time) string {
	return now.Format("Mon Jan 02 2006 15:04:05 -0700")
}

// NormalizeStyle maps free-form style input onto a known ReportStyle,
// defaulting to academic.
func NormalizeStyle(raw string) ReportStyle {
	switch ReportStyle(strings.ToLower(strings.TrimSpace(raw))) {
	case StylePopularScience:
		return StylePopularScience
	case StyleNews:
		return StyleNews
	case StyleSocialMedia:
		return StyleSocialMedia
	default:
		return StyleAcademic
	}
}

// TruncateHistory bounds conversation history: the leading messages carry
// the task framing and are always kept, the rest is a recency window.
func TruncateHistory(messages []openrouter.Message) []openrouter.Message {
	if len(messages) <= maxHistoryMessages {
		return messages
	}
	out := make([]openrouter.Message, 0, maxHistoryMessages)
	out = append(out, messages[:keepLeadingMessages]...)
	out = append(out, messages[len(messages)-(maxHistoryMessages-keepLeadingMessages):]...)
	return out
}

type templateVars struct {
	CurrentTime       string
	Locale            string
	MaxStepNum        int
	MaxSearchResults  int
	ReportStyle       ReportStyle
	StyleInstructions string
}

var plannerTemplate = template.Must(template.New("planner").Parse(`You are a research planner. The current time is {{.CurrentTime}}.

Break the user's research topic into a concrete plan. Respond with strict JSON only, no prose, matching this schema:

{"locale": string, "has_enough_context": boolean, "thought": string, "title": string, "steps": [{"need_search": boolean, "title": string, "description": string, "step_type": "research" | "processing"}]}

Rules:
- Produce at most {{.MaxStepNum}} steps.
- Set "need_search" true for steps that require gathering information from the web, false for steps that only analyze or compute over already-gathered material.
- Use "step_type" "research" for information gathering and "processing" for analysis or computation.
- Set "has_enough_context" true only when the conversation already contains everything a complete answer needs; then steps may be empty.
- "locale" echoes the user's language, such as "en-US".
- Step descriptions say exactly what data to collect, not how to phrase the answer.`))

var researcherTemplate = template.Must(template.New("researcher").Parse(`You are a researcher. The current time is {{.CurrentTime}}.

You are working on one step of a larger research plan. Using only the search results and page excerpts provided to you, write detailed findings for the step.

Rules:
- Cite sources inline as markdown links.
- Never invent facts that the provided material does not support; note gaps explicitly.
- Prefer primary and dated sources when statements are time-sensitive.
- Keep findings factual and well organized under short headings.`))

var coderTemplate = template.Must(template.New("coder").Parse(`You are a data analyst. The current time is {{.CurrentTime}}.

You are working on one processing step of a research plan. Reason carefully over the findings gathered so far: compute, compare, tabulate, or synthesize as the step requires.

Rules:
- Show intermediate values for any calculation.
- State assumptions whenever inputs are incomplete.
- Output markdown only.`))

var reporterTemplate = template.Must(template.New("reporter").Parse(`You are a professional writer composing the final report. The current time is {{.CurrentTime}}.

Write the report in the user's locale from the research plan and the per-step findings provided. Structure it with a title, key findings, a detailed body, and a references section listing every cited source as a markdown link on its own line.

{{.StyleInstructions}}

Rules:
- Use only facts present in the findings.
- Merge duplicate or overlapping findings.
- Do not fabricate citations.`))

var enhancerTemplate = template.Must(template.New("enhancer").Parse(`You are a prompt engineer. The current time is {{.CurrentTime}}.

Rewrite the user's research prompt to be specific, well scoped, and unambiguous while preserving its intent. Output only the improved prompt with no preamble, no quotes, and no commentary.`))

var podcastTemplate = template.Must(template.New("podcast").Parse(`You are a podcast script writer. The current time is {{.CurrentTime}}.

Turn the provided report into a short, engaging podcast monologue for a single host. Write plain spoken prose: no markdown, no stage directions, no section headers. Open with a hook, cover the key findings conversationally, and close with a one-sentence takeaway.`))

func styleInstructions(style ReportStyle) string {
	switch style {
	case StylePopularScience:
		return "Style: popular science. Write for a curious general reader, explain jargon on first use, and favor vivid concrete examples over formal citations in the body."
	case StyleNews:
		return "Style: news. Lead with the most newsworthy finding, use short paragraphs in inverted-pyramid order, and attribute every claim."
	case StyleSocialMedia:
		return "Style: social media. Keep it punchy and skimmable with short lines and a strong opening hook; the whole piece should read in under a minute."
	default:
		return "Style: academic. Use precise, formal language, hedge uncertain claims, and keep a rigorous citation discipline."
	}
}

func render(tpl *template.Template, vars templateVars) string {
	var b strings.Builder
	if err := tpl.Execute(&b, vars); err != nil {
		// Templates are parsed at init and vars is a plain struct, so
		// execution cannot fail; keep the fallback anyway.
		return fmt.Sprintf("prompt template error: %v", err)
	}
	return strings.TrimSpace(b.String())
}

func Planner(now time.Time, maxStepNum int) string {
	return render(plannerTemplate, templateVars{CurrentTime: CurrentTime(now), MaxStepNum: maxStepNum})
}

func Researcher(now time.Time) string {
	return render(researcherTemplate, templateVars{CurrentTime: CurrentTime(now)})
}

func Coder(now time.Time) string {
	return render(coderTemplate, templateVars{CurrentTime: CurrentTime(now)})
}

func Reporter(now time.Time, style ReportStyle) string {
	return render(reporterTemplate, templateVars{
		CurrentTime:       CurrentTime(now),
		ReportStyle:       style,
		StyleInstructions: styleInstructions(style),
	})
}

func Enhancer(now time.Time) string {
	return render(enhancerTemplate, templateVars{CurrentTime: CurrentTime(now)})
}

func PodcastWriter(now time.Time) string {
	return render(podcastTemplate, templateVars{CurrentTime: CurrentTime(now)})
}
