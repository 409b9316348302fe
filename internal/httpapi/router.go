package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scholar/backend/internal/auth"
	"scholar/backend/internal/billing"
	"scholar/backend/internal/config"
	"scholar/backend/internal/metrics"
	"scholar/backend/internal/openrouter"
	"scholar/backend/internal/reader"
	"scholar/backend/internal/session"
	"scholar/backend/internal/store"
	"scholar/backend/internal/stripe"
	"scholar/backend/internal/tavily"
	"scholar/backend/internal/tts"
	"scholar/backend/internal/workflow"
)

// NewRouter wires the full API. catalog is the static model catalog the
// account model store seeds from.
func NewRouter(cfg config.Config, db *sql.DB, catalog config.ModelCatalog) http.Handler {
	sessions := session.NewStore(db, cfg.SessionCacheSize)
	verifier := auth.NewVerifier(cfg)

	executions := store.NewExecutionStore(db)
	billingStore := store.NewBillingStore(db)
	quota := billing.NewQuota(cfg, executions, billingStore)

	llm := openrouter.NewClient(cfg, nil)
	searcher := tavily.NewClient(cfg, nil)
	pageReader := reader.NewHTTPReader(reader.Config{}, nil)
	engine := workflow.NewEngine(llm, searcher, pageReader, executions, quota)

	h := Handler{
		cfg:        cfg,
		db:         db,
		sessions:   sessions,
		verifier:   verifier,
		settings:   store.NewSettingsStore(db),
		models:     store.NewModelStore(db, catalog),
		params:     store.NewParameterStore(db),
		mcpConns:   store.NewMCPStore(db),
		executions: executions,
		billing:    billingStore,
		engine:     engine,
		llm:        llm,
		quota:      quota,
		stripe:     stripe.NewClient(cfg, nil),
		tts:        tts.NewClient(cfg, nil),
		catalog:    catalog,
	}
	return newRouter(cfg, h)
}

func newRouter(cfg config.Config, h Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(countRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Test-Email", "X-Test-Google-Sub"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(authR chi.Router) {
			authR.Post("/google", h.AuthGoogle)
			authR.With(h.RequireSession).Get("/me", h.AuthMe)
			authR.With(h.RequireSession).Post("/logout", h.AuthLogout)
		})

		// Server-level config is public.
		api.Get("/config", h.ServerConfig)
		api.Get("/rag/config", h.RAGConfig)
		api.Get("/rag/resources", h.RAGResources)

		// Stripe calls this, authenticated by signature instead of session.
		api.Post("/billing/webhook", h.BillingWebhook)

		api.Group(func(p chi.Router) {
			p.Use(h.RequireSession)

			p.Post("/chat/stream", h.ChatStream)

			p.Get("/settings", h.GetSettings)
			p.Post("/settings", h.UpdateSettings)
			p.Post("/settings/reset", h.ResetSettings)

			p.Get("/models", h.ListAccountModels)

			p.Get("/model-parameters", h.ListModelParameters)
			p.Get("/model-parameters/{modelID}", h.GetModelParameters)
			p.Post("/model-parameters/{modelID}", h.UpsertModelParameters)
			p.Delete("/model-parameters/{modelID}", h.DeleteModelParameters)

			p.Get("/mcp/connections", h.ListMCPConnections)
			p.Post("/mcp/connections", h.CreateMCPConnection)
			p.Get("/mcp/connections/{connectionID}", h.GetMCPConnection)
			p.Put("/mcp/connections/{connectionID}", h.UpdateMCPConnection)
			p.Delete("/mcp/connections/{connectionID}", h.DeleteMCPConnection)
			p.Post("/mcp/server/metadata", h.MCPServerMetadata)

			p.Get("/billing/status", h.BillingStatus)
			p.Post("/billing/checkout", h.BillingCheckout)
			p.Post("/billing/portal", h.BillingPortal)

			p.Post("/tts", h.TextToSpeech)
			p.Post("/podcast/generate", h.GeneratePodcast)
			p.Post("/prose/generate", h.GenerateProse)
			p.Post("/prompt/enhance", h.EnhancePrompt)
		})
	})

	return r
}

// countRequests feeds the request counter with the method and status class.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, statusClass(ww.Status())).Inc()
	})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
