package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/avelkova/mira/internal/entitlements"
	"github.com/avelkova/mira/internal/eventlog"
	"github.com/avelkova/mira/internal/guestbuf"
	"github.com/avelkova/mira/internal/notifications"
	"github.com/avelkova/mira/internal/store"
)

type RouterConfig struct {
	// Voice AI providers
	STTProvider  string // "deepgram" or "assemblyai"
	TTSProvider  string // "elevenlabs" or "cartesia"
	STTAPIKey    string
	TTSAPIKey    string
	OpenAIAPIKey string
	OpenAIModel  string

	// STT settings
	STTLanguage      string
	STTModel         string
	STTSampleRate    int
	STTEncoding      string
	STTEndpointingMs int // silence threshold for vendor turn detection

	// Voice settings
	TTSVoiceID string
	TTSModelID string

	// Metering
	HeartbeatInterval time.Duration // zero means the entitlements default
	TickSeconds       int           // zero means the entitlements default

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	store    *store.Store
	eventLog *eventlog.Logger
	ledger   entitlements.Ledger
	guestBuf guestbuf.Store
	notifier *notifications.Discord // nil-safe, skipped when unconfigured
	registry *SessionRegistry
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, eventLog *eventlog.Logger,
	ledger entitlements.Ledger, guestBuf guestbuf.Store, notifier *notifications.Discord,
	registry *SessionRegistry) http.Handler {
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		eventLog: eventLog,
		ledger:   ledger,
		guestBuf: guestBuf,
		notifier: notifier,
		registry: registry,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health and readiness
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Voice relay websocket (identity from bearer token or guest_id)
	r.mux.HandleFunc("GET /voice", r.handleVoiceWS)

	// Protected API endpoints
	r.mux.HandleFunc("POST /api/guest/claim", r.withAuth(r.handleGuestClaim))
	r.mux.HandleFunc("GET /api/conversations/{id}/messages", r.withAuth(r.handleListMessages))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports draining state so the load balancer stops routing
// new connections during shutdown.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.registry.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":          "draining",
			"active_sessions": r.registry.ActiveCount(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
