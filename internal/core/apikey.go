package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/edvin/shipyard/internal/model"
)

// APIKeyService manages API keys. The raw key is returned exactly once at
// creation; only its sha256 is stored.
type APIKeyService struct {
	db DB
}

func NewAPIKeyService(db DB) *APIKeyService {
	return &APIKeyService{db: db}
}

const apiKeyColumns = `id, name, key_prefix, scopes, user_id, created_at, revoked_at`

func scanAPIKey(row interface{ Scan(dest ...any) error }) (model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(&k.ID, &k.Name, &k.KeyPrefix, &k.Scopes, &k.UserID, &k.CreatedAt, &k.RevokedAt)
	return k, err
}

// HashAPIKey returns the hex sha256 of a raw key, the form stored and looked
// up by the auth middleware.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Create mints a key for the user and returns it alongside the stored record.
func (s *APIKeyService) Create(ctx context.Context, userID, name string, scopes []string) (*model.APIKey, string, error) {
	if name == "" {
		return nil, "", &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(scopes) == 0 {
		return nil, "", &ValidationError{Field: "scopes", Reason: "must name at least one scope"}
	}

	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	raw := "shp_" + hex.EncodeToString(b)

	k := &model.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   HashAPIKey(raw),
		KeyPrefix: raw[:12],
		Scopes:    scopes,
		UserID:    userID,
		CreatedAt: nowFunc(),
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.ID, k.Name, k.KeyHash, k.KeyPrefix, k.Scopes, k.UserID, k.CreatedAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}
	return k, raw, nil
}

// GetByID retrieves an API key record. The raw key is not recoverable.
func (s *APIKeyService) GetByID(ctx context.Context, id string) (*model.APIKey, error) {
	row := s.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	k, err := scanAPIKey(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("api key %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get api key %s: %w", id, err)
	}
	return &k, nil
}

// ListByUser returns the user's keys with cursor pagination.
func (s *APIKeyService) ListByUser(ctx context.Context, userID string, limit int, cursor string) ([]model.APIKey, bool, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if cursor != "" {
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list api keys for %s: %w", userID, err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate api keys: %w", err)
	}

	hasMore := len(keys) > limit
	if hasMore {
		keys = keys[:limit]
	}
	return keys, hasMore, nil
}

// Revoke soft-deletes a key. Revoking an already-revoked key is a no-op.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
