package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"payerbook.org/internal/account"
	"payerbook.org/internal/auth"
	"payerbook.org/internal/entity"
	"payerbook.org/internal/obs"
)

const serviceName = "payerbook-api"

// Check is one named readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ReadyProbe runs every dependency check; the first failure wins.
type ReadyProbe struct {
	Checks []Check
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, c := range rp.Checks {
		if c.Fn == nil {
			continue
		}
		if err := c.Fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

// Deps wires the domain services into the HTTP layer.
type Deps struct {
	Tokens   *auth.Service
	Accounts *account.Service
	Entities *entity.Service
	Ready    ReadyProbe
	Version  string

	// SecureCookies sets the Secure flag on the refresh cookie.
	SecureCookies bool
	CORSOrigins   []string
	MaxBodyBytes  int64
	// AuthLimiter throttles signup, login and refresh per client IP.
	AuthLimiter *RateLimiter
}

// API is the HTTP layer.
type API struct {
	router       *mux.Router
	tokens       *auth.Service
	accounts     *account.Service
	entities     *entity.Service
	readyProbe   ReadyProbe
	version      string
	secureCookie bool
	corsOrigins  []string
	maxBody      int64
	limiter      *RateLimiter
}

func New(d Deps) *API {
	a := &API{
		router:       mux.NewRouter(),
		tokens:       d.Tokens,
		accounts:     d.Accounts,
		entities:     d.Entities,
		readyProbe:   d.Ready,
		version:      d.Version,
		secureCookie: d.SecureCookies,
		corsOrigins:  d.CORSOrigins,
		maxBody:      d.MaxBodyBytes,
		limiter:      d.AuthLimiter,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	limited := a.limiter.Middleware
	api.Handle("/signup", limited(http.HandlerFunc(a.handleSignup))).Methods(http.MethodPost)
	api.Handle("/login", limited(http.HandlerFunc(a.handleLogin))).Methods(http.MethodPost)
	api.Handle("/refresh_token", limited(http.HandlerFunc(a.handleRefresh))).Methods(http.MethodPost)
	api.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)

	protected := api.PathPrefix("").Subrouter()
	protected.Use(a.withAuth)
	protected.HandleFunc("/dashboard", a.handleDashboard).Methods(http.MethodGet)
	protected.HandleFunc("/add_entity", a.handleAddEntity).Methods(http.MethodPost)
	protected.HandleFunc("/update_entity", a.handleUpdateEntity).Methods(http.MethodPost)
	protected.HandleFunc("/entities/{entityId}", a.handleGetEntity).Methods(http.MethodGet)
	protected.HandleFunc("/forms/{entityId}", a.handleForms).Methods(http.MethodGet)
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.router)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(a.corsOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// Readiness exposes the probe for the gRPC health service.
func (a *API) Readiness() ReadyProbe { return a.readyProbe }

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
