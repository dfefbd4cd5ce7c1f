package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/triage-ai/reftriage/internal/engine"
	"github.com/triage-ai/reftriage/internal/store"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// ProjectContext holds the authenticated project's resolution defaults.
type ProjectContext struct {
	ProjectID string
	Name      string
	Settings  map[string]any        // merged under request settings
	Policy    *engine.ResolvePolicy // nil = server defaults
}

// Authenticator maps an API key to its project.
type Authenticator interface {
	AuthenticateKey(ctx context.Context, apiKey string) (*ProjectContext, error)
}

// ParseBearer extracts the key from an "Authorization: Bearer rtk_..." value
// and checks its format. The scheme is case-insensitive (RFC 6750).
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingAPIKey
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		header = header[7:]
	} else {
		return "", ErrMissingAPIKey
	}
	key := strings.TrimSpace(header)
	if !strings.HasPrefix(key, store.APIKeyPrefix) || len(key) < store.KeyPrefixLen {
		return "", ErrInvalidAPIKey
	}
	return key, nil
}

// KeyFromRequest reads the API key from an HTTP request.
func KeyFromRequest(r *http.Request) (string, error) {
	return ParseBearer(r.Header.Get("Authorization"))
}

// KeyFromMetadata reads the API key from incoming gRPC metadata.
func KeyFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingAPIKey
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrMissingAPIKey
	}
	return ParseBearer(values[0])
}

// StaticAuthenticator accepts one configured key and maps it to a fixed
// project. It backs local and single-tenant deployments without Postgres.
type StaticAuthenticator struct {
	key     string
	project ProjectContext
}

// NewStaticAuthenticator creates an authenticator for a single key.
func NewStaticAuthenticator(key string, project ProjectContext) *StaticAuthenticator {
	return &StaticAuthenticator{key: key, project: project}
}

func (a *StaticAuthenticator) AuthenticateKey(_ context.Context, apiKey string) (*ProjectContext, error) {
	if a.key == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.key)) != 1 {
		return nil, ErrInvalidAPIKey
	}
	p := a.project
	return &p, nil
}
