package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gitpulse/gitpulse/pkg/auth"
	"github.com/gitpulse/gitpulse/pkg/contextkeys"
	"github.com/gitpulse/gitpulse/pkg/httputil"
)

// TestUserHeader carries a user ID in test mode instead of a token.
const TestUserHeader = "x-test-user-id"

// TokenVerifier verifies a raw bearer token. Satisfied by
// *oidc.IDTokenVerifier.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*oidc.IDToken, error)
}

// NewOIDCVerifier builds a verifier against the configured identity
// provider. It fetches the provider's discovery document, so it needs
// network access at startup.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}

type cachedIdentity struct {
	userID    int64
	subject   string
	expiresAt time.Time
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	verifier TokenVerifier
	users    *auth.Store
	cache    *lru.Cache[string, cachedIdentity]
	testMode bool
}

// NewAuthMiddleware creates a new authentication middleware. verifier
// may be nil only in test mode.
func NewAuthMiddleware(verifier TokenVerifier, users *auth.Store, cacheSize int, testMode bool) (*AuthMiddleware, error) {
	cache, err := lru.New[string, cachedIdentity](cacheSize)
	if err != nil {
		return nil, err
	}
	return &AuthMiddleware{
		verifier: verifier,
		users:    users,
		cache:    cache,
		testMode: testMode,
	}, nil
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.testMode {
			if header := r.Header.Get(TestUserHeader); header != "" {
				m.serveTestUser(w, r, next, header)
				return
			}
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}
		rawToken := parts[1]

		authCtx, err := m.resolve(r.Context(), rawToken)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) serveTestUser(w http.ResponseWriter, r *http.Request, next http.Handler, header string) {
	userID, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		httputil.WriteUnauthorized(w, "invalid test user id")
		return
	}
	user, err := m.users.GetUser(r.Context(), userID)
	if err != nil {
		httputil.WriteUnauthorized(w, "unknown test user")
		return
	}
	ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{User: user})
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *AuthMiddleware) resolve(ctx context.Context, rawToken string) (*auth.AuthContext, error) {
	if cached, ok := m.cache.Get(rawToken); ok && time.Now().Before(cached.expiresAt) {
		user, err := m.users.GetUser(ctx, cached.userID)
		if err != nil {
			return nil, err
		}
		return &auth.AuthContext{User: user, TokenSubject: cached.subject}, nil
	}

	idToken, err := m.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}

	user, err := m.users.GetOrCreateByEmail(ctx, claims.Email, claims.Name)
	if err != nil {
		return nil, err
	}

	m.cache.Add(rawToken, cachedIdentity{
		userID:    user.ID,
		subject:   idToken.Subject,
		expiresAt: idToken.Expiry,
	})

	return &auth.AuthContext{User: user, TokenSubject: idToken.Subject}, nil
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	ctx := r.Context().Value(contextkeys.AuthKey)
	if ctx == nil {
		return nil
	}
	authCtx, ok := ctx.(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// RequireSuperUser creates middleware that rejects non-superusers.
// Used for the operator endpoints, not the per-client role checks.
func RequireSuperUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil || authCtx.User == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !authCtx.User.SuperUser {
			httputil.WriteForbidden(w, "superuser required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
