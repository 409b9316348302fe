package httpapi

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"scholar/backend/internal/openrouter"
	"scholar/backend/internal/prompts"
	"scholar/backend/internal/tts"
)

type ttsRequest struct {
	Text         string  `json:"text"`
	Encoding     string  `json:"encoding"`
	SpeedRatio   float64 `json:"speed_ratio"`
	VolumeRatio  float64 `json:"volume_ratio"`
	PitchRatio   float64 `json:"pitch_ratio"`
	TextType     string  `json:"text_type"`
	WithFrontend int     `json:"with_frontend"`
	FrontendType string  `json:"frontend_type"`
	VoiceType    string  `json:"voice_type"`
}

func (h Handler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	if _, ok := sessionAccountFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	var req ttsRequest
	if err := decodeJSONLoose(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	audio, err := h.tts.Synthesize(r.Context(), tts.Request{
		Text:         req.Text,
		Encoding:     req.Encoding,
		SpeedRatio:   req.SpeedRatio,
		VolumeRatio:  req.VolumeRatio,
		PitchRatio:   req.PitchRatio,
		TextType:     req.TextType,
		WithFrontend: req.WithFrontend,
		FrontendType: req.FrontendType,
		VoiceType:    req.VoiceType,
	})
	if errors.Is(err, tts.ErrNotConfigured) {
		writeError(w, http.StatusBadRequest, "tts_unavailable", "text-to-speech is not configured")
		return
	}
	if err != nil {
		log.Printf("tts synthesis failed err=%v", err)
		writeError(w, http.StatusBadGateway, "tts_error", "failed to synthesize speech")
		return
	}

	encoding := req.Encoding
	if encoding == "" {
		encoding = "mp3"
	}
	w.Header().Set("Content-Type", "audio/"+encoding)
	w.Header().Set("Content-Disposition", `attachment; filename="output.`+encoding+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

type podcastRequest struct {
	Content string `json:"content"`
	ModelID string `json:"model_id"`
}

// GeneratePodcast turns a report into a short spoken script, then
// synthesizes it.
func (h Handler) GeneratePodcast(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	var req podcastRequest
	if err := decodeJSONLoose(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}

	script, _, err := h.llm.Complete(r.Context(), openrouter.StreamRequest{
		Model: h.resolveModel(r, account.ID, req.ModelID),
		Messages: []openrouter.Message{
			{Role: "system", Content: prompts.PodcastWriter(time.Now())},
			{Role: "user", Content: req.Content},
		},
	})
	if err != nil {
		log.Printf("podcast script failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusBadGateway, "llm_error", "failed to write podcast script")
		return
	}

	audio, err := h.tts.Synthesize(r.Context(), tts.Request{Text: script, Encoding: "mp3"})
	if errors.Is(err, tts.ErrNotConfigured) {
		writeError(w, http.StatusBadRequest, "tts_unavailable", "text-to-speech is not configured")
		return
	}
	if err != nil {
		log.Printf("podcast synthesis failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusBadGateway, "tts_error", "failed to synthesize podcast")
		return
	}

	w.Header().Set("Content-Type", "audio/mp3")
	w.Header().Set("Content-Disposition", `attachment; filename="podcast.mp3"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

type proseRequest struct {
	Prompt  string `json:"prompt"`
	Option  string `json:"option"`
	Command string `json:"command"`
	ModelID string `json:"model_id"`
}

// GenerateProse streams a writing-assistant rewrite of the given text.
func (h Handler) GenerateProse(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	var req proseRequest
	if err := decodeJSONLoose(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	system, err := prompts.ProseSystem(prompts.ProseOption(strings.ToLower(strings.TrimSpace(req.Option))))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "server does not support streaming")
		return
	}

	userContent := req.Prompt
	if strings.TrimSpace(req.Command) != "" {
		userContent = fmt.Sprintf("Instruction: %s\n\nText:\n%s", req.Command, req.Prompt)
	}

	started := false
	streamErr := h.llm.StreamChatCompletion(r.Context(), openrouter.StreamRequest{
		Model: h.resolveModel(r, account.ID, req.ModelID),
		Messages: []openrouter.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userContent},
		},
	},
		func() error {
			started = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			flusher.Flush()
			return nil
		},
		func(delta string) error {
			if _, err := fmt.Fprintf(w, "data: %s\n\n", delta); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		nil,
	)
	if streamErr != nil {
		log.Printf("prose generation failed account=%s option=%s err=%v", account.ID, req.Option, streamErr)
		if !started {
			writeError(w, http.StatusBadGateway, "llm_error", "failed to generate prose")
		}
	}
}

type enhanceRequest struct {
	Prompt      string `json:"prompt"`
	ReportStyle string `json:"report_style"`
	ModelID     string `json:"model_id"`
}

// EnhancePrompt rewrites a rough research question into a sharper one.
func (h Handler) EnhancePrompt(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	var req enhanceRequest
	if err := decodeJSONLoose(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}

	user := req.Prompt
	if style := prompts.NormalizeStyle(req.ReportStyle); req.ReportStyle != "" {
		user = fmt.Sprintf("Target report style: %s\n\nPrompt to enhance:\n%s", style, req.Prompt)
	}

	result, _, err := h.llm.Complete(r.Context(), openrouter.StreamRequest{
		Model: h.resolveModel(r, account.ID, req.ModelID),
		Messages: []openrouter.Message{
			{Role: "system", Content: prompts.Enhancer(time.Now())},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		log.Printf("prompt enhance failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusBadGateway, "llm_error", "failed to enhance prompt")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": strings.TrimSpace(result)})
}

func (h Handler) resolveModel(r *http.Request, accountID, modelID string) string {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		modelID = h.cfg.DefaultBasicModel
	}
	return h.models.Resolve(r.Context(), accountID, modelID)
}
