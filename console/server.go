package console

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tomasen/realip"

	"github.com/ghyeongl/savesync/devmenu"
	"github.com/ghyeongl/savesync/savedata"
)

// Deps is everything the console serves.
type Deps struct {
	Runner    *savedata.Runner
	Legacy    savedata.LegacySide
	Versioned savedata.VersionedSide
	Menu      *devmenu.Menu
	Events    *savedata.EventBus
	Gatherer  prometheus.Gatherer
	DataDir   string

	// Secret enables HS256 bearer-token auth on every /api route.
	Secret string
}

// NewRouter builds the console's HTTP handler.
func NewRouter(d Deps) http.Handler {
	h := NewHandlers(d)
	r := mux.NewRouter()
	r.Use(logRequests)

	api := r.PathPrefix("/api").Subrouter()
	if d.Secret != "" {
		api.Use(requireToken([]byte(d.Secret)))
	}
	api.HandleFunc("/savedata/migrate", h.HandleMigrate).Methods(http.MethodPost)
	api.HandleFunc("/savedata/sync", h.HandleSync).Methods(http.MethodPost)
	api.HandleFunc("/savedata/files", h.HandleFiles).Methods(http.MethodGet)
	api.HandleFunc("/savedata/status", h.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/savedata/events", h.HandleEvents).Methods(http.MethodGet)
	api.HandleFunc("/devmenu/give", h.HandleGive).Methods(http.MethodPost)
	api.HandleFunc("/devmenu/inventory", h.HandleInventory).Methods(http.MethodGet)

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach
// the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(s.ResponseWriter).Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		savedata.Logger("http").Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"client", realip.FromRequest(r),
			"duration", time.Since(start))
	})
}

// requireToken accepts "Authorization: Bearer <jwt>" or, for websocket
// clients that cannot set headers, a "token" query parameter.
func requireToken(secret []byte) mux.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				raw = r.URL.Query().Get("token")
			}
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing token")
				return
			}
			_, err := parser.Parse(raw, func(*jwt.Token) (any, error) { return secret, nil })
			if err != nil {
				savedata.Logger("http").Warn("token rejected", "client", realip.FromRequest(r), "err", err)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken signs a console token valid for ttl.
func IssueToken(secret string, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}
