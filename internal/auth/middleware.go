package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cadrelay/cadrelay/internal/models"
	"github.com/cadrelay/cadrelay/internal/repository"
)

// Identity headers set by the fronting auth proxy. The proxy terminates the
// OAuth flow; by the time a request reaches this service the subject is
// already verified.
const (
	HeaderSubject     = "X-Auth-Request-User"
	HeaderEmail       = "X-Auth-Request-Email"
	HeaderDisplayName = "X-Auth-Request-Preferred-Username"
	HeaderProvider    = "X-Auth-Request-Provider"
)

// Middleware resolves the proxy identity headers into an account. The
// account row is upserted on every authenticated request, which refreshes
// the profile fields and LastSignedIn without touching billing state.
type Middleware struct {
	accounts repository.AccountRepository
	logger   *slog.Logger

	// publicPrefixes pass through without identity.
	publicPrefixes []string
}

// NewMiddleware creates the identity middleware. Paths starting with any of
// publicPrefixes skip authentication entirely.
func NewMiddleware(accounts repository.AccountRepository, logger *slog.Logger, publicPrefixes []string) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		accounts:       accounts,
		logger:         logger,
		publicPrefixes: publicPrefixes,
	}
}

// Handler wraps next with identity resolution.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.publicPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		subject := r.Header.Get(HeaderSubject)
		if subject == "" {
			writeUnauthorized(w)
			return
		}

		now := models.Now()
		account := &models.Account{
			OpenID:       subject,
			Name:         r.Header.Get(HeaderDisplayName),
			Email:        r.Header.Get(HeaderEmail),
			LoginMethod:  r.Header.Get(HeaderProvider),
			LastSignedIn: &now,
		}
		resolved, err := m.accounts.Upsert(r.Context(), account)
		if err != nil {
			m.logger.Error("resolving account failed",
				slog.String("subject", subject),
				slog.String("error", err.Error()),
			)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), resolved)))
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"title":  http.StatusText(http.StatusUnauthorized),
		"detail": "authentication required",
	})
}
