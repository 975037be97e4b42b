package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"livechat/internal/storage"
)

const (
	defaultTokenTTL   = 7 * 24 * time.Hour
	authLimit         = 10
	authLimitWindow   = time.Minute
	defaultHistoryMax = storage.DefaultHistoryLimit
)

var (
	errUnauthorized = errors.New("unauthorized")
	errRoomName     = errors.New("room names may not contain underscores")
)

// ServerOptions tunes a Server. Zero values fall back to defaults.
type ServerOptions struct {
	TokenTTL       time.Duration
	Logger         *slog.Logger
	TrustProxy     bool
	AllowedOrigins []string
}

// Server is the chat backend: HTTP account endpoints, history and the
// websocket join endpoint that feeds the hub.
type Server struct {
	store       *storage.Store
	hub         *Hub
	metrics     *Metrics
	authLimiter *RateLimiter
	tokenTTL    time.Duration
	trustProxy  bool
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	now         func() time.Time
}

func NewServer(store *storage.Store, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	metrics := NewMetrics()
	s := &Server{
		store:       store,
		hub:         NewHub(logger, metrics),
		metrics:     metrics,
		authLimiter: NewRateLimiter(authLimit, authLimitWindow),
		tokenTTL:    ttl,
		trustProxy:  opts.TrustProxy,
		logger:      logger,
		now:         time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

// Hub exposes the live channel registry.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) MetricsHandler() http.Handler { return s.metrics }

// Routes registers every endpoint on mux, with the websocket at joinPath.
func (s *Server) Routes(mux *http.ServeMux, joinPath string) {
	mux.HandleFunc(joinPath, s.ServeWS)
	mux.HandleFunc("/signup", s.HandleSignup)
	mux.HandleFunc("/login", s.HandleLogin)
	mux.HandleFunc("/logout", s.HandleLogout)
	mux.HandleFunc("/me", s.HandleMe)
	mux.HandleFunc("/history", s.HandleHistory)
	mux.HandleFunc("/exists", s.HandleChannelExists)
	mux.Handle("/metrics", s.MetricsHandler())
}

// ServeWS authenticates the request and upgrades it. The connection joins a
// channel only when it sends a join event.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	auth, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err, "user", auth.Username)
		return
	}
	client := newClient(s, conn, auth)
	s.metrics.IncConn()
	s.logger.Info("client connected", "user", auth.Username, "remote", s.clientIP(r))

	go client.writePump()
	go client.readPump()
}

type authContext struct {
	Token       string
	UserID      int64
	Username    string
	DisplayName string
}

// authenticateRequest resolves the bearer token, from the Authorization header
// or the token query parameter, to a user.
func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, errUnauthorized
	}
	return s.authenticateToken(r.Context(), token)
}

func (s *Server) authenticateToken(ctx context.Context, token string) (*authContext, error) {
	session, err := s.store.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, errUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{
		Token:       token,
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.Name(),
	}, nil
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originChecker allows every origin when the list is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
