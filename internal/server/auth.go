package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"processline/internal/engine/auth"
	"processline/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeaders accepts X-Actor-Id, X-Actor-Role and X-Actor-Department
	// without a token. Local development only.
	AllowActorHeaders bool
	Logger            *zap.Logger
}

func (c AuthConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role         string `json:"role,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
}

func authenticateJWT(token string, secret string) (auth.Actor, error) {
	if strings.TrimSpace(secret) == "" {
		return auth.Actor{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return auth.Actor{}, err
	}
	if !parsed.Valid {
		return auth.Actor{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return auth.Actor{}, errors.New("subject claim required")
	}
	return auth.Actor{ID: claims.Subject, Role: claims.Role, DepartmentID: claims.DepartmentID}, nil
}

// SignToken issues an HS256 token carrying the actor's role and department.
// A zero ttl produces a token without expiry.
func SignToken(secret string, a auth.Actor, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if a.ID == "" {
		return "", errors.New("actor id required")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  a.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role:         a.Role,
		DepartmentID: a.DepartmentID,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware resolves the actor of every request under basePath.
// Tokens without role or department are completed from the directory.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	open := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			var actor auth.Actor
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			headerActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				a, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					cfg.logger().Debug("jwt rejected", zap.Error(err))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				actor = a
			case headerActor != "" && cfg.AllowActorHeaders:
				cfg.logger().Warn("using unauthenticated actor headers", zap.String("actor_id", headerActor))
				actor = auth.Actor{
					ID:           headerActor,
					Role:         strings.TrimSpace(req.Header.Get("X-Actor-Role")),
					DepartmentID: strings.TrimSpace(req.Header.Get("X-Actor-Department")),
				}
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if actor.Role == "" || actor.DepartmentID == "" {
				if u, err := r.GetUser(req.Context(), actor.ID); err == nil {
					if actor.Role == "" {
						actor.Role = u.Role
					}
					if actor.DepartmentID == "" {
						actor.DepartmentID = u.DepartmentID
					}
				}
			}
			next.ServeHTTP(w, req.WithContext(auth.WithActor(req.Context(), actor)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
