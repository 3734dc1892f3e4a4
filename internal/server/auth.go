package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"goalline/internal/domain"
)

// WorkerHeader carries the worker id when legacy header auth is enabled.
const WorkerHeader = "X-Worker-Id"

type AuthConfig struct {
	JWTSecret               string
	AllowLegacyWorkerHeader bool
}

// Principal is the authenticated caller.
type Principal struct {
	WorkerID domain.WorkerID
	Source   string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func workerFromContext(ctx context.Context) (domain.WorkerID, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.WorkerID != "" {
		return p.WorkerID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// authenticateJWT accepts HS256 tokens; the subject is the worker id.
func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	worker, err := domain.ParseWorkerID(claims.Subject)
	if err != nil {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{WorkerID: worker, Source: "jwt"}, nil
}

// IssueToken signs a worker token. It is used by gl to talk to its own server.
func IssueToken(secret string, worker domain.WorkerID) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: string(worker)})
	return tok.SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

var errInvalidCredentials = newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)

// publicPaths never require a principal.
func publicPaths(basePath string) map[string]bool {
	return map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
		path.Join(basePath, "docs"):         true,
	}
}

// resolvePrincipal authenticates req. A bearer token always wins over the
// worker header, and a malformed token is never retried as a header.
func resolvePrincipal(req *http.Request, cfg AuthConfig, log *zap.Logger) (Principal, huma.StatusError) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		token, ok := bearerToken(authz)
		if !ok {
			return Principal{}, errInvalidCredentials
		}
		p, err := authenticateJWT(token, cfg.JWTSecret)
		if err != nil {
			log.Debug("jwt rejected", zap.Error(err))
			return Principal{}, errInvalidCredentials
		}
		return p, nil
	}
	header := strings.TrimSpace(req.Header.Get(WorkerHeader))
	if header == "" || !cfg.AllowLegacyWorkerHeader {
		return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	worker, err := domain.ParseWorkerID(header)
	if err != nil {
		return Principal{}, errInvalidCredentials
	}
	log.Warn("unauthenticated worker header in use", zap.String("worker_id", string(worker)))
	return Principal{WorkerID: worker, Source: "legacy_header"}, nil
}

func newAuthMiddleware(basePath string, cfg AuthConfig, log *zap.Logger) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			p, authErr := resolvePrincipal(req, cfg, log)
			if authErr != nil {
				respondStatusError(w, authErr)
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
