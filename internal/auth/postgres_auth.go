package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/triage-ai/reftriage/internal/store"
)

// ProjectStore abstracts the project lookup for testability. *store.Store
// implements it.
type ProjectStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*store.Project, error)
}

// PostgresAuthenticator validates API keys against the projects table.
// Uses AuthCache with stale-while-revalidate to avoid DB + bcrypt on the hot
// path. Auth failures always return an error; nothing is resolved for an
// unauthenticated caller.
type PostgresAuthenticator struct {
	store  ProjectStore
	cache  *AuthCache
	logger *zap.Logger
	wg     sync.WaitGroup
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	Store    ProjectStore
	CacheTTL time.Duration // Default: 30s
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAuthenticator{
		store:  cfg.Store,
		cache:  NewAuthCache(ttl),
		logger: logger,
	}
}

// AuthenticateKey validates the key.
//
// Flow:
//  1. Fresh cache hit: return immediately.
//  2. Stale hit: return the stale project and refresh in the background.
//  3. Miss: prefix lookup + bcrypt verify synchronously.
func (a *PostgresAuthenticator) AuthenticateKey(ctx context.Context, apiKey string) (*ProjectContext, error) {
	if len(apiKey) < store.KeyPrefixLen {
		return nil, ErrInvalidAPIKey
	}

	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			a.wg.Add(1)
			go a.backgroundRefresh(apiKey)
		}
		return result.Project, nil
	}

	project, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return nil, a.classify(err)
	}
	a.cache.Set(apiKey, project)
	return project, nil
}

// Invalidate drops a cached key, e.g. after rotation.
func (a *PostgresAuthenticator) Invalidate(apiKey string) {
	a.cache.Delete(apiKey)
}

// Wait blocks until background refreshes finish.
func (a *PostgresAuthenticator) Wait() {
	a.wg.Wait()
}

func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	defer a.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	project, err := a.lookupAndVerify(ctx, apiKey)
	switch {
	case errors.Is(err, ErrInvalidAPIKey):
		// Key was rotated or the project deleted.
		a.cache.Delete(apiKey)
	case err != nil:
		a.logger.Warn("background auth refresh failed, serving stale entry", zap.Error(err))
		a.cache.ReleaseRefresh(apiKey)
	default:
		a.cache.Set(apiKey, project)
	}
}

// lookupAndVerify does the prefix lookup, bcrypt verification and config
// decoding.
func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*ProjectContext, error) {
	row, err := a.store.LookupByPrefix(ctx, apiKey[:store.KeyPrefixLen])
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	pc := &ProjectContext{ProjectID: row.ID, Name: row.Name}
	if pc.Settings, err = row.DecodeSettings(); err != nil {
		a.logger.Warn("failed to parse project settings, ignoring them",
			zap.String("project_id", row.ID),
			zap.Error(err),
		)
	}
	if pc.Policy, err = row.DecodePolicy(); err != nil {
		a.logger.Warn("failed to parse resolve_policy, using defaults",
			zap.String("project_id", row.ID),
			zap.Error(err),
		)
	}
	return pc, nil
}

func (a *PostgresAuthenticator) classify(err error) error {
	if errors.Is(err, ErrInvalidAPIKey) {
		return ErrInvalidAPIKey
	}
	a.logger.Warn("auth DB unreachable", zap.Error(err))
	return fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
}
