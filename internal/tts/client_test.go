package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scholar/backend/internal/config"
)

func newTestClient(baseURL string) Client {
	return NewClient(config.Config{
		TTSAppID:       "app-1",
		TTSAccessToken: "token-1",
		TTSBaseURL:     baseURL,
		TTSCluster:     "volcano_tts",
		TTSVoiceType:   "BV700_V2_streaming",
	}, nil)
}

func TestSynthesizeDecodesAudio(t *testing.T) {
	audio := []byte("fake-mp3-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		app, _ := body["app"].(map[string]any)
		if app["appid"] != "app-1" || app["cluster"] != "volcano_tts" {
			t.Errorf("unexpected app payload %v", app)
		}
		reqBody, _ := body["request"].(map[string]any)
		if reqBody["operation"] != "query" {
			t.Errorf("unexpected operation %v", reqBody["operation"])
		}
		audioBody, _ := body["audio"].(map[string]any)
		if audioBody["voice_type"] != "BV700_V2_streaming" {
			t.Errorf("unexpected voice type %v", audioBody["voice_type"])
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 3000,
			"data": base64.StdEncoding.EncodeToString(audio),
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	got, err := client.Synthesize(context.Background(), Request{Text: "hello world"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(got) != string(audio) {
		t.Fatalf("unexpected audio %q", got)
	}
}

func TestSynthesizeTruncatesLongText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		reqBody, _ := body["request"].(map[string]any)
		text, _ := reqBody["text"].(string)
		if len([]rune(text)) != MaxTextRunes {
			t.Errorf("expected text capped at %d runes, got %d", MaxTextRunes, len([]rune(text)))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": base64.StdEncoding.EncodeToString([]byte("x"))})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.Synthesize(context.Background(), Request{Text: strings.Repeat("a", 5000)}); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
}

func TestSynthesizeRequiresCredentials(t *testing.T) {
	client := NewClient(config.Config{TTSBaseURL: "http://example.invalid"}, nil)
	if _, err := client.Synthesize(context.Background(), Request{Text: "hi"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSynthesizeSurfacesUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 4001, "message": "invalid voice"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Synthesize(context.Background(), Request{Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "invalid voice") {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	client := newTestClient("http://example.invalid")
	if _, err := client.Synthesize(context.Background(), Request{Text: "   "}); err == nil {
		t.Fatal("expected error for empty text")
	}
}
