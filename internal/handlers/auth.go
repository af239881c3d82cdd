package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "userID"

// authenticate rejects requests without a valid HS256 bearer token and stores the token subject as
// the user ID of the request. EventSource clients can't set headers, so the token is also accepted
// from the "token" query parameter.
func (c Copilot) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "Missing authorization token")
			return
		}

		token, err := jwt.Parse(tokenStr, func(*jwt.Token) (any, error) {
			return c.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.logger.Warn("Rejected token", slog.String(errLoggerKey, errString(err)))
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		userID, err := token.Claims.GetSubject()
		if err != nil || userID == "" {
			writeError(w, http.StatusUnauthorized, "Invalid token subject")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

func userIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
