package middleware

import (
	"context"
	"net/http"
	"strings"

	tokamak "github.com/tokamak-auth/tokamak"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the identity the [Guard] stored on the
// request context.
func AuthResultFromContext(ctx context.Context) (*tokamak.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*tokamak.AuthResult)
	return res, ok
}

// Guard rejects requests without a valid bearer access token and attaches
// the verified identity to the request context.
func Guard(engine *tokamak.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.VerifyAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
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
