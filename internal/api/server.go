package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kentomson01/stacksbet/internal/db"
	"github.com/kentomson01/stacksbet/internal/engine"
	"github.com/kentomson01/stacksbet/internal/model"
	"github.com/kentomson01/stacksbet/internal/ws"
)

// Users stores login accounts.
type Users interface {
	CreateUser(ctx context.Context, handle, hash string) (*model.User, error)
	GetUserByHandle(ctx context.Context, handle string) (*model.User, error)
}

// Wallets is the value ledger plus its journal, as seen by the API.
type Wallets interface {
	Balance(ctx context.Context, account string) (uint64, error)
	Deposit(ctx context.Context, account string, amount uint64) (uint64, error)
	ListEvents(ctx context.Context, marketID *uint64, limit int) ([]model.Event, error)
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Options struct {
	Secret         string
	TokenTTL       time.Duration
	RequestTimeout time.Duration
	Limiter        Limiter
	RateLimit      int
	RateWindow     time.Duration
}

type Server struct {
	eng     *engine.Engine
	users   Users
	wallets Wallets
	hub     *ws.Hub
	log     *zap.Logger
	opts    Options
	secret  []byte
}

func NewServer(eng *engine.Engine, users Users, wallets Wallets, hub *ws.Hub, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 72 * time.Hour
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{
		eng:     eng,
		users:   users,
		wallets: wallets,
		hub:     hub,
		log:     log.Named("api"),
		opts:    opts,
		secret:  []byte(opts.Secret),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	r.Use(corsMiddleware)

	// Health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	// Auth (public)
	r.Post("/api/register", s.register)
	r.Post("/api/login", s.login)

	// WebSocket
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	// Public reads
	r.Get("/api/height", s.getHeight)
	r.Get("/api/platform/stats", s.getPlatformStats)
	r.Get("/api/leaderboard", s.getLeaderboard)
	r.Get("/api/markets", s.listMarkets)
	r.Get("/api/markets/awaiting-resolution", s.listAwaiting)
	r.Get("/api/markets/{id}", s.getMarket)
	r.Get("/api/markets/{id}/status", s.getMarketStatus)
	r.Get("/api/markets/{id}/predictions/{participant}", s.getPrediction)
	r.Get("/api/markets/{id}/predictions/{participant}/potential", s.getPotentialWinnings)
	r.Get("/api/participants/{participant}/stats", s.getParticipantStats)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/wallet", s.getWallet)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)

			r.Post("/api/markets/{id}/predictions", s.makePrediction)
			r.Post("/api/markets/{id}/claim", s.claimWinnings)

			// Owner and oracle gates are enforced by the engine.
			r.Post("/api/admin/markets", s.createMarket)
			r.Post("/api/admin/markets/{id}/resolve", s.resolveMarket)
			r.Post("/api/admin/oracle", s.updateOracle)
			r.Post("/api/admin/minimum-stake", s.updateMinimumStake)
			r.Post("/api/admin/fee-rate", s.updateFeeRate)
			r.Post("/api/admin/withdraw-fees", s.withdrawFees)

			r.Group(func(r chi.Router) {
				r.Use(s.ownerOnly)
				r.Post("/api/admin/deposit", s.adminDeposit)
				r.Get("/api/admin/events", s.listEvents)
			})
		})
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type credentials struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !handlePattern.MatchString(req.Handle) || len(req.Password) < 6 {
		jsonErr(w, http.StatusBadRequest, "handle (3-32 of A-Z a-z 0-9 _ . -) and password (min 6 chars) required")
		return
	}
	cfg := s.eng.Config()
	if req.Handle == cfg.Owner || req.Handle == cfg.Oracle || req.Handle == cfg.Escrow {
		jsonErr(w, http.StatusConflict, "handle is reserved")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.users.CreateUser(r.Context(), req.Handle, string(hash))
	if errors.Is(err, db.ErrDuplicate) {
		jsonErr(w, http.StatusConflict, "handle already registered")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("user registered", zap.String("handle", user.Handle))
	json200(w, map[string]any{"user": user, "token": s.makeToken(user.Handle)})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, err := s.users.GetUserByHandle(r.Context(), req.Handle)
	if err != nil || user == nil {
		jsonErr(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		jsonErr(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	json200(w, map[string]any{"user": user, "token": s.makeToken(user.Handle)})
}

func (s *Server) makeToken(handle string) string {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   handle,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return t
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const ctxCaller ctxKey = "caller"

func caller(r *http.Request) string {
	c, _ := r.Context().Value(ctxCaller).(string)
	return c
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonErr(w, http.StatusUnauthorized, "missing token")
			return
		}
		var claims jwt.RegisteredClaims
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims,
			func(*jwt.Token) (any, error) { return s.secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		)
		if err != nil || !token.Valid || claims.Subject == "" {
			jsonErr(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxCaller, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) ownerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller(r) != s.eng.Config().Owner {
			s.fail(w, r, model.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit fails open when the limiter itself errors.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Limiter == nil || s.opts.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ok, err := s.opts.Limiter.Allow(r.Context(), caller(r), s.opts.RateLimit, s.opts.RateWindow)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
		} else if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.opts.RateWindow.Seconds())))
			jsonErr(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Helpers ──────────────────────────────────────────

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	writeError(w, code, "", msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	json.NewEncoder(w).Encode(body)
}

var statusByCode = map[string]int{
	"unauthorized":         http.StatusForbidden,
	"not_found":            http.StatusNotFound,
	"invalid_prediction":   http.StatusUnprocessableEntity,
	"market_closed":        http.StatusConflict,
	"already_claimed":      http.StatusConflict,
	"insufficient_balance": http.StatusPaymentRequired,
	"invalid_parameter":    http.StatusBadRequest,
	"market_not_resolved":  http.StatusConflict,
}

// fail maps a domain error to its status and code. Anything outside the
// taxonomy is logged and reported as a bare 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := model.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func marketID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid market id")
		return 0, false
	}
	return id, true
}

func limitParam(r *http.Request, def, max int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= max {
		return n
	}
	return def
}
