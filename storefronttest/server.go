package storefronttest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authfetch/internal/loginlimit"
	"github.com/MrEthical07/authfetch/internal/password"
	"github.com/MrEthical07/authfetch/jwt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cookie names used in cookie mode.
const (
	AccessCookie  = "sf_access"
	RefreshCookie = "sf_refresh"
)

// Reasons carried in 401 bodies.
const (
	ReasonExpired        = "expired"
	ReasonInvalid        = "invalid"
	ReasonRefreshInvalid = "refresh_invalid"
	ReasonRefreshReused  = "refresh_reused"
	ReasonLoginLocked    = "login_locked"
)

// Routes served by the fake backend.
const (
	RouteLogin      = "/api/auth/login"
	RouteRefresh    = "/api/auth/refresh"
	RouteProducts   = "/api/products"
	RouteCategories = "/api/categories"
	RouteBrands     = "/api/brands"
	RouteOrders     = "/api/orders"
	RoutePromotions = "/api/promotions"
	RouteFail       = "/api/fail"
)

// Options configures a Server. Zero values take the defaults.
type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// SigningKey is the HS256 key. A random one is generated when empty.
	SigningKey []byte
	// Users maps login identifiers to plaintext passwords of at least 10
	// bytes. They are hashed when the server is built.
	Users map[string]string
	// RefreshDelay is applied to every refresh call before it is answered.
	RefreshDelay time.Duration
	Logger       *zap.Logger

	// LoginRedis enables failed-login throttling. Logins answer 429 after
	// MaxLoginFailures failures inside LoginWindow.
	LoginRedis       redis.UniversalClient
	MaxLoginFailures int
	LoginWindow      time.Duration
}

const (
	defaultAccessTTL  = 5 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
)

// DefaultUser and DefaultPassword are seeded when Options.Users is empty.
const (
	DefaultUser     = "admin@storefront.test"
	DefaultPassword = "correct-horse"
)

// Server is the fake storefront backend.
type Server struct {
	tokens  *jwt.Manager
	hasher  *password.Hasher
	users   map[string]string // login -> PHC hash
	limiter *loginlimit.Limiter
	logger  *zap.Logger
	router  chi.Router

	offset        atomic.Int64
	refreshDelay  atomic.Int64
	forcedRefresh atomic.Int32
	refreshCalls  atomic.Int64

	mu       sync.Mutex
	sessions map[string]string // sid -> current refresh token
	hits     map[string]*atomic.Int64

	ts *httptest.Server
}

// NewServer builds a Server. Call Start to serve it over HTTP or mount
// Handler yourself.
func NewServer(opts Options) (*Server, error) {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = defaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = defaultRefreshTTL
	}
	if opts.RefreshTTL < opts.AccessTTL {
		opts.RefreshTTL = opts.AccessTTL
	}
	key := opts.SigningKey
	if len(key) == 0 {
		id := uuid.New()
		key = append(id[:], uuid.New().String()...)
	}
	if len(opts.Users) == 0 {
		opts.Users = map[string]string{DefaultUser: DefaultPassword}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     opts.AccessTTL,
		RefreshTTL:    opts.RefreshTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    key,
		Issuer:        "storefront",
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(password.FastConfig())
	if err != nil {
		return nil, err
	}
	users := make(map[string]string, len(opts.Users))
	for login, plain := range opts.Users {
		hash, err := hasher.Hash(plain)
		if err != nil {
			return nil, fmt.Errorf("seed user %q: %w", login, err)
		}
		users[login] = hash
	}

	s := &Server{
		tokens:   tokens,
		hasher:   hasher,
		users:    users,
		logger:   opts.Logger.With(zap.String("component", "storefront")),
		sessions: make(map[string]string),
		hits:     make(map[string]*atomic.Int64),
	}
	if opts.LoginRedis != nil {
		s.limiter = loginlimit.New(opts.LoginRedis, loginlimit.Config{
			MaxFailures: opts.MaxLoginFailures,
			Window:      opts.LoginWindow,
			PerIP:       true,
		})
	}
	s.refreshDelay.Store(int64(opts.RefreshDelay))
	tokens.SetClock(s.now)
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.count)

	r.Post(RouteLogin, s.handleLogin)
	r.Post(RouteRefresh, s.handleRefresh)
	r.Get(RouteFail, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "catalog database unavailable"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.Guard)
		r.Get(RouteProducts, s.list("product", "Espresso machine", "Grinder", "Kettle"))
		r.Get(RouteCategories, s.list("category", "Coffee", "Tea"))
		r.Get(RouteBrands, s.list("brand", "Acme", "Globex"))
		r.Get(RoutePromotions, s.list("promotion", "Spring sale"))
		r.Post(RouteOrders, s.handleCreateOrder)
	})
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the backend on a loopback listener and returns its base URL.
func (s *Server) Start() string {
	s.ts = httptest.NewServer(s.router)
	return s.ts.URL
}

// Close stops a started server.
func (s *Server) Close() {
	if s.ts != nil {
		s.ts.Close()
	}
}

/*
====================================
CONTROLS
====================================
*/

// Advance moves the server clock forward by d.
func (s *Server) Advance(d time.Duration) {
	s.offset.Add(int64(d))
}

func (s *Server) now() time.Time {
	return time.Now().Add(time.Duration(s.offset.Load()))
}

// SetRefreshDelay changes how long refresh calls take.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.refreshDelay.Store(int64(d))
}

// ForceRefreshStatus makes every refresh call answer status without looking
// at the credentials. 0 restores normal behaviour.
func (s *Server) ForceRefreshStatus(status int) {
	s.forcedRefresh.Store(int32(status))
}

// RevokeSessions ends every session: refresh calls are denied and access
// tokens stop verifying.
func (s *Server) RevokeSessions() {
	s.mu.Lock()
	s.sessions = make(map[string]string)
	s.mu.Unlock()
}

// RefreshCalls counts calls to the refresh endpoint.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// Hits counts requests that reached route, guarded or not.
func (s *Server) Hits(route string) int64 {
	s.mu.Lock()
	c := s.hits[route]
	s.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.Load()
}

// IssueSession creates a session for uid without going through login, for
// tests that seed a credential store directly.
func (s *Server) IssueSession(uid string) (access, refresh string, err error) {
	return s.issue(uid, uuid.NewString())
}

/*
====================================
HANDLERS
====================================
*/

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		c := s.hits[r.URL.Path]
		if c == nil {
			c = new(atomic.Int64)
			s.hits[r.URL.Path] = c
		}
		s.mu.Unlock()
		c.Add(1)
		next.ServeHTTP(w, r)
	})
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}
	ip := clientIP(r)
	if s.limiter != nil {
		if err := s.limiter.Check(r.Context(), body.Username, ip); err != nil {
			status := http.StatusTooManyRequests
			if !errors.Is(err, loginlimit.ErrLocked) {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, map[string]string{"reason": ReasonLoginLocked})
			return
		}
	}
	if !s.checkPassword(body.Username, body.Password) {
		if s.limiter != nil {
			if err := s.limiter.Fail(r.Context(), body.Username, ip); err != nil {
				s.logger.Warn("login throttle unavailable", zap.Error(err))
			}
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"reason": "bad_credentials"})
		return
	}
	if s.limiter != nil {
		_ = s.limiter.Reset(r.Context(), body.Username, ip)
	}

	access, refresh, err := s.issue(body.Username, uuid.NewString())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.setCookies(w, access, refresh)
	writeJSON(w, http.StatusOK, tokenPair{AccessToken: access, RefreshToken: refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	if status := int(s.forcedRefresh.Load()); status != 0 {
		writeJSON(w, status, map[string]string{"reason": "forced"})
		return
	}

	presented := refreshToken(r)
	if presented == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"reason": ReasonRefreshInvalid})
		return
	}
	claims, err := s.tokens.ParseRefresh(presented)
	if err != nil {
		reason := ReasonRefreshInvalid
		if errors.Is(err, jwt.ErrExpired) {
			reason = "refresh_expired"
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"reason": reason})
		return
	}

	access, refresh, err := s.mint(claims.UID, claims.SID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	current, ok := s.sessions[claims.SID]
	rotated := ok && current == presented
	switch {
	case rotated:
		s.sessions[claims.SID] = refresh
	case ok:
		// A rotated-out refresh token ends the session.
		delete(s.sessions, claims.SID)
	}
	s.mu.Unlock()

	switch {
	case !ok:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"reason": ReasonRefreshInvalid})
		return
	case !rotated:
		s.logger.Warn("refresh token reuse", zap.String("sid", claims.SID))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"reason": ReasonRefreshReused})
		return
	}

	s.logger.Debug("session refreshed",
		zap.String("sid", claims.SID),
		zap.String("request_id", r.Header.Get("X-Request-ID")),
	)
	s.setCookies(w, access, refresh)
	writeJSON(w, http.StatusOK, tokenPair{AccessToken: access, RefreshToken: refresh})
}

func (s *Server) list(kind string, names ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type item struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
			Name string `json:"name"`
		}
		out := make([]item, len(names))
		for i, n := range names {
			out[i] = item{ID: kind + "-" + string(rune('1'+i)), Kind: kind, Name: n}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}
	claims, _ := ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         uuid.NewString(),
		"created_by": claims.UID,
		"items":      body["items"],
	})
}

/*
====================================
HELPERS
====================================
*/

func (s *Server) issue(uid, sid string) (string, string, error) {
	access, refresh, err := s.mint(uid, sid)
	if err != nil {
		return "", "", err
	}
	s.mu.Lock()
	s.sessions[sid] = refresh
	s.mu.Unlock()
	return access, refresh, nil
}

func (s *Server) mint(uid, sid string) (string, string, error) {
	access, err := s.tokens.CreateAccess(uid, sid)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.tokens.CreateRefresh(uid, sid)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Server) checkPassword(login, plain string) bool {
	hash, ok := s.users[login]
	if !ok {
		return false
	}
	match, err := s.hasher.Verify(plain, hash)
	return err == nil && match
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) sessionActive(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sid]
	return ok
}

func (s *Server) setCookies(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, &http.Cookie{Name: AccessCookie, Value: access, Path: "/", HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: refresh, Path: "/", HttpOnly: true})
}

func refreshToken(r *http.Request) string {
	if c, err := r.Cookie(RefreshCookie); err == nil && c.Value != "" {
		return c.Value
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		return body.RefreshToken
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
