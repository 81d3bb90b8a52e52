package storefronttest

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authfetch/jwt"
	"go.uber.org/zap"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims the guard verified for this request.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims)
	return c, ok
}

// Guard rejects requests without a valid access token. An expired token gets
// {"reason":"expired"}; every other failure gets {"reason":"invalid"}.
func (s *Server) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := accessToken(r)
		if !ok {
			s.reject(w, r, ReasonInvalid)
			return
		}

		claims, err := s.tokens.ParseAccess(token)
		switch {
		case errors.Is(err, jwt.ErrExpired):
			s.reject(w, r, ReasonExpired)
			return
		case err != nil:
			s.reject(w, r, ReasonInvalid)
			return
		case !s.sessionActive(claims.SID):
			s.reject(w, r, ReasonInvalid)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, reason string) {
	s.logger.Debug("guard rejected request",
		zap.String("path", r.URL.Path),
		zap.String("reason", reason),
		zap.String("request_id", r.Header.Get("X-Request-ID")),
	)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"reason": reason})
}

func accessToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
