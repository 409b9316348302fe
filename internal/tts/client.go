// Package tts is a client for the Volcengine text-to-speech API.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"scholar/backend/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

// MaxTextRunes bounds the synthesized text; longer input is truncated.
const MaxTextRunes = 1024

var ErrNotConfigured = errors.New("volcengine tts credentials are not configured")

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("tts returned %d: %s", e.StatusCode, e.Body)
}

// Request carries the synthesis options. Zero values take API defaults.
type Request struct {
	Text         string
	Encoding     string
	SpeedRatio   float64
	VolumeRatio  float64
	PitchRatio   float64
	TextType     string
	WithFrontend int
	FrontendType string
	VoiceType    string
}

type Client struct {
	appID       string
	accessToken string
	baseURL     string
	cluster     string
	voiceType   string
	httpClient  *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		appID:       strings.TrimSpace(cfg.TTSAppID),
		accessToken: strings.TrimSpace(cfg.TTSAccessToken),
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.TTSBaseURL), "/"),
		cluster:     cfg.TTSCluster,
		voiceType:   cfg.TTSVoiceType,
		httpClient:  httpClient,
	}
}

// Configured reports whether credentials are present.
func (c Client) Configured() bool {
	return c.appID != "" && c.accessToken != ""
}

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Synthesize converts text to audio and returns the decoded bytes.
func (c Client) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, errors.New("text is required")
	}
	if runes := []rune(text); len(runes) > MaxTextRunes {
		text = string(runes[:MaxTextRunes])
	}

	encoding := req.Encoding
	if encoding == "" {
		encoding = "mp3"
	}
	voiceType := req.VoiceType
	if voiceType == "" {
		voiceType = c.voiceType
	}
	speedRatio := req.SpeedRatio
	if speedRatio <= 0 {
		speedRatio = 1.0
	}
	volumeRatio := req.VolumeRatio
	if volumeRatio <= 0 {
		volumeRatio = 1.0
	}
	pitchRatio := req.PitchRatio
	if pitchRatio <= 0 {
		pitchRatio = 1.0
	}
	textType := req.TextType
	if textType == "" {
		textType = "plain"
	}
	frontendType := req.FrontendType
	if frontendType == "" {
		frontendType = "unitTson"
	}

	payload, err := json.Marshal(map[string]any{
		"app": map[string]any{
			"appid":   c.appID,
			"token":   c.accessToken,
			"cluster": c.cluster,
		},
		"user": map[string]any{
			"uid": uuid.NewString(),
		},
		"audio": map[string]any{
			"voice_type":   voiceType,
			"encoding":     encoding,
			"speed_ratio":  speedRatio,
			"volume_ratio": volumeRatio,
			"pitch_ratio":  pitchRatio,
		},
		"request": map[string]any{
			"reqid":         uuid.NewString(),
			"text":          text,
			"text_type":     textType,
			"operation":     "query",
			"with_frontend": req.WithFrontend,
			"frontend_type": frontendType,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer;"+c.accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request tts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode tts response: %w", err)
	}
	if parsed.Data == "" {
		message := parsed.Message
		if message == "" {
			message = "response had no audio data"
		}
		return nil, fmt.Errorf("tts failed: %s", message)
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.Data)
	if err != nil {
		return nil, fmt.Errorf("decode tts audio: %w", err)
	}
	return audio, nil
}
