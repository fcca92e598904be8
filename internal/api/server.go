package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"creatorlink.payments/internal/auth"
	"creatorlink.payments/internal/payments"
)

// Authenticator resolves a bearer token to the calling identity.
type Authenticator interface {
	Verify(token string) (auth.Identity, error)
}

type Server struct {
	payments      Payments
	auth          Authenticator
	logger        logrus.FieldLogger
	validate      *validator.Validate
	webhookSecret string
	now           func() time.Time
}

// NewServer builds the HTTP transport. An empty webhookSecret disables
// signature checks on ledger deliveries.
func NewServer(p Payments, a Authenticator, webhookSecret string, logger logrus.FieldLogger) *Server {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Server{
		payments:      p,
		auth:          a,
		logger:        logger,
		validate:      validator.New(),
		webhookSecret: webhookSecret,
		now:           time.Now,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/ledger", s.handleLedgerWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/payments/breakdown", s.handleBreakdown)

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Post("/ledger-account", s.handleEnsureAccount)
				r.Post("/verification-link", s.handleVerificationLink)
				r.Post("/payout-method-link", s.handlePayoutMethodLink)
				r.Get("/payout-session", s.handleResolveSession)
				r.Post("/payout-portal", s.handlePortalLink)
				r.Get("/payout-methods", s.handleListPayoutMethods)
				r.Post("/access-token", s.handleAccessToken)
			})

			r.Post("/jobs/{jobID}/pay", s.handlePayJob)
			r.Post("/withdrawals", s.handleCreateWithdrawal)
			r.Post("/topups", s.handleCreateTopup)
		})
	})
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		id, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func actorFrom(r *http.Request) payments.Actor {
	id, _ := auth.FromContext(r.Context())
	return payments.Actor{UserID: id.UserID, Role: id.Role}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
