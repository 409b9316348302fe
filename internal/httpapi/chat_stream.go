package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"scholar/backend/internal/billing"
	"scholar/backend/internal/openrouter"
	"scholar/backend/internal/prompts"
	"scholar/backend/internal/workflow"
)

const defaultThreadID = "__default__"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatStreamRequest struct {
	Messages                      []chatMessage             `json:"messages"`
	ThreadID                      string                    `json:"thread_id"`
	ModelID                       string                    `json:"model_id"`
	MaxPlanIterations             *int                      `json:"max_plan_iterations"`
	MaxStepNum                    *int                      `json:"max_step_num"`
	MaxSearchResults              *int                      `json:"max_search_results"`
	AutoAcceptedPlan              *bool                     `json:"auto_accepted_plan"`
	InterruptFeedback             string                    `json:"interrupt_feedback"`
	EnableBackgroundInvestigation *bool                     `json:"enable_background_investigation"`
	ReportStyle                   string                    `json:"report_style"`
	ModelParameters               map[string]map[string]any `json:"model_parameters"`
}

func (h Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	var req chatStreamRequest
	if err := decodeJSONLoose(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" || threadID == defaultThreadID {
		threadID = uuid.NewString()
	}

	settings, err := h.settings.Get(r.Context(), account.ID)
	if err != nil {
		log.Printf("chat settings load failed account=%s err=%v", account.ID, err)
		settings = nil
	}
	selected := stringMapValue(settings, "selectedModels")
	overrides := stringMapValue(settings, "customPrompts")

	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		modelID = selected["basic"]
	}
	if modelID == "" {
		modelID = h.cfg.DefaultBasicModel
	}
	model := h.models.Resolve(r.Context(), account.ID, modelID)

	reasoningModel := ""
	if id := strings.TrimSpace(selected["reasoning"]); id != "" {
		reasoningModel = h.models.Resolve(r.Context(), account.ID, id)
	}

	// Request-supplied parameters override the stored per-account row for
	// this run only.
	params := h.params.ResolveForModel(r.Context(), account.ID, modelID)
	if overridesForRun := req.ModelParameters[modelID]; len(overridesForRun) > 0 {
		params.Apply(overridesForRun)
	}
	sampling := openrouter.SamplingParams{
		Temperature:      params.Temperature,
		MaxTokens:        params.MaxTokens,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
	}

	// Interrupt options round-trip unbracketed ("accepted", "edit_plan");
	// the marker brackets are added here so clients never have to. Any
	// text after the option is edit feedback and rides along.
	feedback := strings.TrimSpace(req.InterruptFeedback)
	if feedback != "" && !strings.HasPrefix(feedback, "[") {
		option, rest, _ := strings.Cut(feedback, " ")
		feedback = "[" + option + "]"
		if rest = strings.TrimSpace(rest); rest != "" {
			feedback += " " + rest
		}
	}

	messages := make([]openrouter.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openrouter.Message{Role: m.Role, Content: m.Content})
	}

	run := workflow.Request{
		AccountID:                     account.ID,
		ThreadID:                      threadID,
		Messages:                      messages,
		ModelID:                       model,
		ReasoningModelID:              reasoningModel,
		Params:                        sampling,
		PromptOverrides:               overrides,
		AutoAcceptedPlan:              boolOr(req.AutoAcceptedPlan, false),
		InterruptFeedback:             feedback,
		EnableBackgroundInvestigation: boolOr(req.EnableBackgroundInvestigation, true),
		ReportStyle:                   prompts.NormalizeStyle(req.ReportStyle),
		MaxPlanIterations:             intOr(req.MaxPlanIterations, h.cfg.MaxPlanIterations),
		MaxStepNum:                    intOr(req.MaxStepNum, h.cfg.MaxStepNum),
		MaxSearchResults:              intOr(req.MaxSearchResults, h.cfg.MaxSearchResults),
	}

	ctx := r.Context()
	if h.cfg.StreamTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.cfg.StreamTimeoutSeconds)*time.Second)
		defer cancel()
	}

	// Headers go out with the first event so pre-stream failures (the run
	// limit check in the engine above all) can still answer with a plain
	// error status.
	started := false
	emit := func(event workflow.Event) error {
		payload, err := event.Encode()
		if err != nil {
			return err
		}
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.engine.Run(ctx, run, emit); err != nil {
		log.Printf("workflow run failed account=%s thread=%s err=%v", account.ID, threadID, err)
		if !started {
			if errors.Is(err, billing.ErrRunLimitExceeded) {
				writeError(w, http.StatusTooManyRequests, "run_limit_exceeded", "monthly run limit reached; upgrade to continue")
				return
			}
			writeError(w, http.StatusBadGateway, "workflow_error", "research run failed to start")
			return
		}
		// The stream already carries a 200; surface the failure in-band.
		errEvent := workflow.NewEvent("error", threadID, "system", threadID, err.Error())
		if payload, encodeErr := errEvent.Encode(); encodeErr == nil {
			_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// stringMapValue pulls a map of strings out of the settings document,
// tolerating missing keys and non-string values.
func stringMapValue(settings map[string]any, key string) map[string]string {
	raw, ok := settings[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out[k] = s
		}
	}
	return out
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func intOr(value *int, fallback int) int {
	if value == nil || *value <= 0 {
		return fallback
	}
	return *value
}
