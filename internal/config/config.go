package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort              = "8080"
	defaultSessionCookieName = "scholar_session"
	defaultSessionTTLHours   = 168
	defaultSessionCacheSize  = 1024
	defaultFrontendOrigin    = "http://localhost:3000"

	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultBasicModel        = "openrouter-gpt-4o"
	defaultReasoningModel    = "openrouter-claude-3-5-sonnet"

	defaultTavilyBaseURL = "https://api.tavily.com"

	defaultTTSBaseURL   = "https://openspeech.bytedance.com/api/v1/tts"
	defaultTTSCluster   = "volcano_tts"
	defaultTTSVoiceType = "BV700_V2_streaming"

	defaultStripeBaseURL        = "https://api.stripe.com/v1"
	defaultCheckoutSuccessURL   = "http://localhost:3000/settings?success=true"
	defaultCheckoutCancelURL    = "http://localhost:3000/settings?canceled=true"
	defaultPortalReturnURL      = "http://localhost:3000/settings"
	defaultFreeTierMonthlyRuns  = 25
	defaultPlusTierMonthlyRuns  = 200
	defaultProTierMonthlyRuns   = 1000
	defaultUltraTierMonthlyRuns = 5000

	defaultMaxPlanIterations    = 1
	defaultMaxStepNum           = 3
	defaultMaxSearchResults     = 3
	defaultStreamTimeoutSeconds = 300
	defaultMCPTimeoutSeconds    = 300
)

type Config struct {
	Port           string
	Environment    string
	FrontendOrigin string
	AllowedOrigins []string

	AuthRequired             bool
	CookieSecure             bool
	SessionCookieName        string
	SessionTTL               time.Duration
	SessionCacheSize         int
	GoogleClientID           string
	InsecureSkipGoogleVerify bool

	DatabaseURL       string
	DatabaseAuthToken string

	OpenRouterAPIKey      string
	OpenRouterBaseURL     string
	DefaultBasicModel     string
	DefaultReasoningModel string

	TavilyAPIKey  string
	TavilyBaseURL string

	TTSAppID       string
	TTSAccessToken string
	TTSBaseURL     string
	TTSCluster     string
	TTSVoiceType   string

	StripeSecretKey      string
	StripeWebhookSecret  string
	StripeBaseURL        string
	StripePriceFree      string
	StripePricePlus      string
	StripePricePro       string
	StripePriceUltra     string
	CheckoutSuccessURL   string
	CheckoutCancelURL    string
	PortalReturnURL      string
	FreeTierMonthlyRuns  int
	PlusTierMonthlyRuns  int
	ProTierMonthlyRuns   int
	UltraTierMonthlyRuns int

	MaxPlanIterations    int
	MaxStepNum           int
	MaxSearchResults     int
	StreamTimeoutSeconds int
	MCPTimeoutSeconds    int

	ModelCatalogPath string
	RAGProvider      string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:           envOrDefault("PORT", defaultPort),
		Environment:    envOrDefault("APP_ENV", "development"),
		FrontendOrigin: envOrDefault("FRONTEND_ORIGIN", defaultFrontendOrigin),

		AuthRequired:             boolOrDefault("AUTH_REQUIRED", true),
		CookieSecure:             boolOrDefault("COOKIE_SECURE", false),
		SessionCookieName:        envOrDefault("SESSION_COOKIE_NAME", defaultSessionCookieName),
		SessionCacheSize:         intOrDefault("SESSION_CACHE_SIZE", defaultSessionCacheSize),
		GoogleClientID:           strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		InsecureSkipGoogleVerify: boolOrDefault("AUTH_INSECURE_SKIP_GOOGLE_VERIFY", false),

		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DatabaseAuthToken: strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),

		OpenRouterAPIKey:      strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL:     envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		DefaultBasicModel:     envOrDefault("DEFAULT_BASIC_MODEL", defaultBasicModel),
		DefaultReasoningModel: envOrDefault("DEFAULT_REASONING_MODEL", defaultReasoningModel),

		TavilyAPIKey:  strings.TrimSpace(os.Getenv("TAVILY_API_KEY")),
		TavilyBaseURL: envOrDefault("TAVILY_BASE_URL", defaultTavilyBaseURL),

		TTSAppID:       strings.TrimSpace(os.Getenv("VOLCENGINE_TTS_APPID")),
		TTSAccessToken: strings.TrimSpace(os.Getenv("VOLCENGINE_TTS_ACCESS_TOKEN")),
		TTSBaseURL:     envOrDefault("VOLCENGINE_TTS_BASE_URL", defaultTTSBaseURL),
		TTSCluster:     envOrDefault("VOLCENGINE_TTS_CLUSTER", defaultTTSCluster),
		TTSVoiceType:   envOrDefault("VOLCENGINE_TTS_VOICE_TYPE", defaultTTSVoiceType),

		StripeSecretKey:      strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret:  strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeBaseURL:        envOrDefault("STRIPE_BASE_URL", defaultStripeBaseURL),
		StripePriceFree:      strings.TrimSpace(os.Getenv("STRIPE_PRICE_FREE")),
		StripePricePlus:      strings.TrimSpace(os.Getenv("STRIPE_PRICE_PLUS")),
		StripePricePro:       strings.TrimSpace(os.Getenv("STRIPE_PRICE_PRO")),
		StripePriceUltra:     strings.TrimSpace(os.Getenv("STRIPE_PRICE_ULTRA")),
		CheckoutSuccessURL:   envOrDefault("STRIPE_CHECKOUT_SUCCESS_URL", defaultCheckoutSuccessURL),
		CheckoutCancelURL:    envOrDefault("STRIPE_CHECKOUT_CANCEL_URL", defaultCheckoutCancelURL),
		PortalReturnURL:      envOrDefault("STRIPE_PORTAL_RETURN_URL", defaultPortalReturnURL),
		FreeTierMonthlyRuns:  intOrDefault("FREE_TIER_MONTHLY_RUNS", defaultFreeTierMonthlyRuns),
		PlusTierMonthlyRuns:  intOrDefault("PLUS_TIER_MONTHLY_RUNS", defaultPlusTierMonthlyRuns),
		ProTierMonthlyRuns:   intOrDefault("PRO_TIER_MONTHLY_RUNS", defaultProTierMonthlyRuns),
		UltraTierMonthlyRuns: intOrDefault("ULTRA_TIER_MONTHLY_RUNS", defaultUltraTierMonthlyRuns),

		MaxPlanIterations:    intOrDefault("MAX_PLAN_ITERATIONS", defaultMaxPlanIterations),
		MaxStepNum:           intOrDefault("MAX_STEP_NUM", defaultMaxStepNum),
		MaxSearchResults:     intOrDefault("MAX_SEARCH_RESULTS", defaultMaxSearchResults),
		StreamTimeoutSeconds: intOrDefault("STREAM_TIMEOUT_SECONDS", defaultStreamTimeoutSeconds),
		MCPTimeoutSeconds:    intOrDefault("MCP_TIMEOUT_SECONDS", defaultMCPTimeoutSeconds),

		ModelCatalogPath: envOrDefault("MODEL_CATALOG_PATH", "conf.yaml"),
		RAGProvider:      strings.TrimSpace(os.Getenv("RAG_PROVIDER")),
	}

	if cfg.Environment == "production" {
		cfg.CookieSecure = true
	}

	sessionTTLHours := intOrDefault("SESSION_TTL_HOURS", defaultSessionTTLHours)
	cfg.SessionTTL = time.Duration(sessionTTLHours) * time.Hour
	if cfg.SessionTTL <= 0 {
		return Config{}, errors.New("SESSION_TTL_HOURS must be > 0")
	}
	if cfg.SessionCacheSize < 1 {
		cfg.SessionCacheSize = defaultSessionCacheSize
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", cfg.FrontendOrigin+",http://localhost:5173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseAuthToken == "" {
		return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.AuthRequired && !cfg.InsecureSkipGoogleVerify && cfg.GoogleClientID == "" {
		return Config{}, errors.New("GOOGLE_CLIENT_ID is required unless AUTH_INSECURE_SKIP_GOOGLE_VERIFY=true")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
