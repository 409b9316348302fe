package reader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultRedirects  = 3
	defaultMaxRunes   = 16_000
	defaultUserAgent  = "scholar-research-bot/1.0"
	defaultMaxBodyCap = int64(1_500_000)
	defaultTimeout    = 20 * time.Second
	snippetRunes      = 900
)

// Result holds extracted page content for one fetched source.
type Result struct {
	URL         string    `json:"url"`
	FinalURL    string    `json:"final_url"`
	Title       string    `json:"title,omitempty"`
	Text        string    `json:"text,omitempty"`
	Snippet     string    `json:"snippet,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	FetchStatus string    `json:"fetch_status"`
	Truncated   bool      `json:"truncated,omitempty"`
	FetchedAt   time.Time `json:"fetched_at,omitempty"`
}

type Config struct {
	RequestTimeout time.Duration
	MaxBytes       int64
	MaxRedirects   int
	MaxTextRunes   int
}

type HTTPReader struct {
	cfg        Config
	httpClient *http.Client
}

func NewHTTPReader(cfg Config, httpClient *http.Client) *HTTPReader {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBodyCap
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultRedirects
	}
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = defaultMaxRunes
	}

	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = secureDialContext(&net.Dialer{Timeout: cfg.RequestTimeout})
		httpClient = &http.Client{Transport: transport}
	}

	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("too many redirects")
		}
		if _, err := validateFetchURL(req.URL.String()); err != nil {
			return err
		}
		return nil
	}

	return &HTTPReader{cfg: cfg, httpClient: httpClient}
}

func (r *HTTPReader) Read(ctx context.Context, rawURL string) (Result, error) {
	if r == nil {
		return Result{}, fmt.Errorf("reader is nil")
	}

	parsed, err := validateFetchURL(rawURL)
	if err != nil {
		return Result{URL: rawURL, FetchStatus: "blocked"}, err
	}

	requestCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Result{URL: parsed.String(), FetchStatus: "request_failed"}, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,text/markdown,application/json,text/csv,application/pdf;q=0.9,*/*;q=0.2")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{URL: parsed.String(), FetchStatus: "fetch_failed"}, err
	}
	defer resp.Body.Close()

	result := Result{
		URL:         parsed.String(),
		FinalURL:    parsed.String(),
		FetchStatus: fmt.Sprintf("http_%d", resp.StatusCode),
		FetchedAt:   time.Now().UTC(),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if parsedType, _, parseErr := mime.ParseMediaType(contentType); parseErr == nil {
		contentType = parsedType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	result.ContentType = contentType

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return result, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	payload, truncated, err := readBoundedBody(resp.Body, r.cfg.MaxBytes)
	if err != nil {
		return result, err
	}
	result.Truncated = truncated

	title, text, err := extractContent(contentType, payload, r.cfg.MaxTextRunes)
	if err != nil {
		if err == errUnsupportedContentType {
			result.FetchStatus = "unsupported_content_type"
			return result, err
		}
		return result, err
	}
	result.Title = title
	result.Text = text
	result.Snippet = trimToRunes(text, snippetRunes)
	if strings.TrimSpace(result.Text) == "" {
		result.FetchStatus = "empty_content"
		return result, fmt.Errorf("extracted content is empty")
	}
	result.FetchStatus = "ok"
	return result, nil
}

func readBoundedBody(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyCap
	}
	limited := io.LimitReader(r, maxBytes+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return nil, false, err
	}
	if int64(len(payload)) > maxBytes {
		return payload[:maxBytes], true, nil
	}
	return payload, false, nil
}
