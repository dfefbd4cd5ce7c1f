package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix starts every project API key.
const APIKeyPrefix = "rtk_"

// KeyPrefixLen is how many leading characters of a key are stored in the
// clear for lookup.
const KeyPrefixLen = 12

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Project represents a row in the projects table.
type Project struct {
	ID            string
	Name          string
	APIKeyHash    string
	APIKeyPrefix  string
	Settings      json.RawMessage // JSONB object merged under request settings
	ResolvePolicy json.RawMessage // JSONB engine.ResolvePolicy
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const projectColumns = `id, name, api_key_hash, api_key_prefix, settings, resolve_policy, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.APIKeyHash, &p.APIKeyPrefix,
		&p.Settings, &p.ResolvePolicy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GenerateAPIKey creates a new rtk_ API key with its bcrypt hash and lookup
// prefix. The full key is shown to the user once and never stored.
func GenerateAPIKey() (fullKey, hash, prefix string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey = APIKeyPrefix + hex.EncodeToString(raw)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	return fullKey, string(hashBytes), fullKey[:KeyPrefixLen], nil
}

// CreateProjectParams holds the fields of a new project. Nil JSON fields
// default to an empty object.
type CreateProjectParams struct {
	Name          string
	Settings      json.RawMessage
	ResolvePolicy json.RawMessage
}

// CreateProject inserts a new project and returns it with its plaintext API
// key (shown once).
func (s *Store) CreateProject(ctx context.Context, params CreateProjectParams) (*Project, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	p, err := scanProject(s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, api_key_hash, api_key_prefix, settings, resolve_policy)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+projectColumns,
		uuid.NewString(), params.Name, keyHash, keyPrefix,
		objectOrEmpty(params.Settings), objectOrEmpty(params.ResolvePolicy),
	))
	if err != nil {
		return nil, "", fmt.Errorf("CreateProject: %w", err)
	}
	return p, fullKey, nil
}

// ListProjects returns all projects ordered by created_at DESC.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListProjects: %w", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("ListProjects: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// GetProject returns a project by ID, or ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetProject: %w", err)
	}
	return p, nil
}

// UpdateProjectParams holds optional fields for partial project updates.
// Nil fields are left unchanged.
type UpdateProjectParams struct {
	Name          *string
	Settings      *json.RawMessage
	ResolvePolicy *json.RawMessage
}

// UpdateProject applies a partial update to a project.
func (s *Store) UpdateProject(ctx context.Context, id string, params UpdateProjectParams) (*Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			name           = COALESCE($2, name),
			settings       = COALESCE($3, settings),
			resolve_policy = COALESCE($4, resolve_policy),
			updated_at     = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, params.Name, nullableJSON(params.Settings), nullableJSON(params.ResolvePolicy),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateProject: %w", err)
	}
	return p, nil
}

// DeleteProject deletes a project by ID.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteProject: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateAPIKey generates a new API key for a project and returns the
// updated project and the plaintext key (shown once).
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Project, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	p, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, keyHash, keyPrefix,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}
	return p, fullKey, nil
}

// LookupByPrefix finds a project by API key prefix. Auth uses it to narrow
// candidates before the bcrypt check.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE api_key_prefix = $1`, prefix))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return p, nil
}

// nullableJSON returns nil (SQL NULL) if the pointer is nil, otherwise the raw bytes.
func nullableJSON(v *json.RawMessage) any {
	if v == nil {
		return nil
	}
	return []byte(objectOrEmpty(*v))
}

func objectOrEmpty(v json.RawMessage) []byte {
	if len(v) == 0 || string(v) == "null" {
		return []byte(`{}`)
	}
	return v
}
