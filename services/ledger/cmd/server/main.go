package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"agentidentity/pkg/authn"
	"agentidentity/pkg/config"
	"agentidentity/pkg/db"
	"agentidentity/pkg/httpx"
	"agentidentity/pkg/ledger"
	"agentidentity/pkg/ratelimit"
	"agentidentity/pkg/registry"
	"agentidentity/pkg/reputation"
	"agentidentity/services/ledger/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("connect database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "err", err)
		os.Exit(1)
	}

	lg := ledger.New(st)
	limiter := ratelimit.New(st)
	lookups := ratelimit.NewMemoryLimiter(ratelimit.VerifyLookupsPerIP, ratelimit.VerifyLookupWindow, cfg.Limits.MemoryBudget)
	defer lookups.Close()
	reg := registry.New(st, lg, limiter)
	engine := reputation.NewEngine(reg, lg, limiter, lookups, st, st)

	// Expired windows self-heal on the next TryConsume for their pair; the
	// sweep keeps abandoned pairs from accumulating.
	sched := cron.New()
	_, err = sched.AddFunc("@hourly", func() {
		n, err := st.DeleteExpiredRateWindows(context.Background(), time.Now().Add(-ratelimit.LimitWindow))
		if err != nil {
			logger.Warn("rate window sweep", "err", err)
			return
		}
		if n > 0 {
			logger.Info("rate window sweep", "deleted", n)
		}
	})
	if err != nil {
		logger.Error("schedule sweep", "err", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Post("/agents/register", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name      string          `json:"name"`
			PublicKey string          `json:"public_key"`
			ParentDID string          `json:"parent_did"`
			Metadata  json.RawMessage `json:"metadata"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		out, err := reg.Register(r.Context(), registry.RegisterParams{
			Name:         req.Name,
			PublicKeyHex: req.PublicKey,
			ParentDID:    req.ParentDID,
			ClientIP:     httpx.ClientIP(r),
			Metadata:     req.Metadata,
		})
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		resp := map[string]any{
			"request_id": httpx.NewRequestID(),
			"agent":      out.Identity,
			"score":      out.Score,
		}
		if out.PrivateKeyHex != "" {
			resp["credentials"] = map[string]any{
				"private_key": out.PrivateKeyHex,
				"key_hint":    "store once; not retrievable again",
			}
		}
		if out.Warning != nil {
			resp["warning"] = out.Warning.Error()
		}
		httpx.WriteJSON(w, 201, resp)
	})

	r.Get("/agents/{id_or_did}", func(w http.ResponseWriter, r *http.Request) {
		idOrDID := chi.URLParam(r, "id_or_did")
		ident, err := reg.Resolve(r.Context(), idOrDID)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		score, err := lg.ScoreFor(r.Context(), ident.ID)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		limit := 0
		if v := r.URL.Query().Get("events"); v != "" {
			limit, _ = strconv.Atoi(v)
		}
		events, err := lg.Recent(r.Context(), ident.ID, limit)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"agent":      ident,
			"score":      score,
			"events":     events,
		})
	})

	r.Post("/agents/{id_or_did}/work-report", func(w http.ResponseWriter, r *http.Request) {
		idOrDID := chi.URLParam(r, "id_or_did")
		var req struct {
			Report    reputation.WorkReport `json:"report"`
			Signature string                `json:"signature"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		result, err := engine.SubmitReport(r.Context(), idOrDID, req.Report, req.Signature)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"result":     result,
		})
	})

	r.Post("/verify-signature", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Agent     string `json:"agent"`
			Message   string `json:"message"`
			Signature string `json:"signature"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		result, err := engine.VerifySignature(r.Context(), req.Agent, req.Message, req.Signature)
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"result":     result,
		})
	})

	publicBaseURL := os.Getenv("PUBLIC_BASE_URL")
	r.Get("/verify/{did}", func(w http.ResponseWriter, r *http.Request) {
		status, err := engine.PublicVerify(r.Context(), chi.URLParam(r, "did"), httpx.ClientIP(r))
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		if publicBaseURL != "" {
			status.VerificationURL = publicBaseURL + "/verify/" + status.DID
		}
		httpx.WriteJSON(w, 200, status)
	})

	// Claims are written only by the agent they describe, so the request
	// must carry valid X-Agent-* signature headers.
	r.Post("/claims", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpx.WriteError(w, 400, "BAD_BODY", err.Error(), nil)
			return
		}
		ident, err := authn.VerifyRequest(r.Context(), reg, r, body)
		if err != nil {
			if errors.Is(err, authn.ErrUnauthorized) {
				httpx.WriteError(w, 401, "UNAUTHORIZED", err.Error(), nil)
				return
			}
			httpx.WriteDomainError(w, err)
			return
		}
		var req struct {
			ClaimType  string  `json:"claim_type"`
			ClaimValue *string `json:"claim_value"`
			VerifierID *string `json:"verifier_id"`
			Message    string  `json:"message"`
			Signature  string  `json:"signature"`
			ExpiresAt  *string `json:"expires_at"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		var expiresAt *time.Time
		if req.ExpiresAt != nil {
			t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil {
				httpx.WriteError(w, 400, "VALIDATION_FAILED", "expires_at must be RFC 3339", nil)
				return
			}
			expiresAt = &t
		}
		result, err := engine.VerifyClaim(r.Context(), reputation.ClaimParams{
			AgentIDOrDID: ident.ID,
			ClaimType:    req.ClaimType,
			ClaimValue:   req.ClaimValue,
			VerifierID:   req.VerifierID,
			Message:      req.Message,
			SignatureHex: req.Signature,
			ExpiresAt:    expiresAt,
		})
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{
			"request_id": httpx.NewRequestID(),
			"result":     result,
		})
	})

	r.Get("/agents/{id_or_did}/claims", func(w http.ResponseWriter, r *http.Request) {
		claims, err := engine.Claims(r.Context(), chi.URLParam(r, "id_or_did"))
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"claims":     claims,
		})
	})

	r.Post("/agents/{id_or_did}/flag", func(w http.ResponseWriter, r *http.Request) {
		adminToken := os.Getenv("ADMIN_TOKEN")
		if adminToken == "" || r.Header.Get("Authorization") != "Bearer "+adminToken {
			httpx.WriteError(w, 401, "UNAUTHORIZED", "admin bearer token required", nil)
			return
		}
		ident, err := reg.Flag(r.Context(), chi.URLParam(r, "id_or_did"))
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"agent":      ident,
		})
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	go func() {
		logger.Info("listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
