/*
This file defines the operational HTTP surface: a health probe, a public
server-info endpoint, and the websocket upgrade path that feeds browser
clients into the same connection state machine the TCP listener uses.
*/
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"messenger/internal/app/session"
	"messenger/internal/configs"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/limiter"
	"messenger/internal/pkg/logx"
)

const (
	// UpgradeRate and UpgradeBurst bound websocket upgrades per source IP.
	UpgradeRate  = 0.2
	UpgradeBurst = 5

	// OpsRate and OpsBurst bound plain ops API requests per source IP.
	OpsRate  = 2.0
	OpsBurst = 10
)

// jsonResponse is the envelope every ops endpoint replies with.
type jsonResponse struct {
	// Code is the business status code (0 for success, see the errs package).
	Code int `json:"code"`

	// Message is the client-friendly status description or error message.
	Message string `json:"message"`

	// Data is the optional response payload.
	Data any `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, httpStatus int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	response, err := json.Marshal(payload)
	if err != nil {
		logx.Error(err, "Error encoding JSON response", "http_status", httpStatus)
		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(httpStatus)
	w.Write(response)
}

func respondSuccess(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, jsonResponse{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	respondJSON(w, customErr.Status, jsonResponse{
		Code:    customErr.Code,
		Message: customErr.Message,
	})
}

// Router builds the ops HTTP routing table: CORS, request logging, recovery,
// the health and info endpoints, and the rate-limited websocket entry point.
func Router(sm *session.Manager, cfg *configs.AppConfig) http.Handler {
	upgradeLimiter := limiter.NewIPRateLimiter(rate.Limit(UpgradeRate), UpgradeBurst)
	opsLimiter := limiter.NewIPRateLimiter(rate.Limit(OpsRate), OpsBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range cfg.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.Environment == "development" {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if cfg.Environment == "development" {
		corsAllowedOrigins = []string{"*"}
	} else if len(cfg.AllowedOrigins) > 0 {
		corsAllowedOrigins = cfg.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		respondSuccess(w, map[string]any{
			"status":          "ok",
			"service":         cfg.ServerName,
			"active_sessions": sm.ActiveSessions(),
		})
	})

	r.With(opsLimiter.Middleware).Get("/api/info", func(w http.ResponseWriter, req *http.Request) {
		db := cfg.Session.Database
		respondSuccess(w, map[string]any{
			"server_name":         cfg.ServerName,
			"msg_char_limit":      db.MessageCharacterLimit,
			"name_char_limit":     db.UsernameCharacterLimit,
			"allow_user_creation": db.AllowUserCreation,
			"max_shown_messages":  db.MaxShownMessages,
		})
	})

	r.Get("/ws", handleWebSocket(wsUpgrader, upgradeLimiter, sm, cfg))

	return r
}

// handleWebSocket upgrades the request and runs the connection state machine
// on the resulting websocket. It blocks for the lifetime of the connection,
// which keeps the request context alive for the read and write pumps.
func handleWebSocket(upgrader websocket.Upgrader, upgradeLimiter *limiter.IPRateLimiter, sm *session.Manager, cfg *configs.AppConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !upgradeLimiter.Allow(req.RemoteAddr) {
			logx.Warn("WebSocket upgrade rejected: rate limit exceeded.",
				"remote_ip", logx.AnonymizeIP(req.RemoteAddr),
			)
			respondError(w, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		wsConn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			// Upgrade already wrote an HTTP error to the client.
			logx.Warn("WebSocket upgrade failed.", "error", err.Error())
			return
		}

		NewConn(newWSTransport(wsConn), sm, cfg).Serve(req.Context())
	}
}

// HTTPServer hosts the ops router.
type HTTPServer struct {
	cfg *configs.AppConfig
	srv *http.Server
}

// NewHTTPServer wires the ops router into a configured http.Server.
func NewHTTPServer(sm *session.Manager, cfg *configs.AppConfig) *HTTPServer {
	return &HTTPServer{
		cfg: cfg,
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler: Router(sm, cfg),
		},
	}
}

// ListenAndServe serves the ops surface until ctx is cancelled, then shuts
// down gracefully.
func (h *HTTPServer) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		logx.Info("Ops HTTP listening.", "addr", h.srv.Addr)
		errCh <- h.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		return h.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops HTTP server failed: %w", err)
		}
		return nil
	}
}
