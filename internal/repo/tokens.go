package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"timeledger/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for the provided token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// InsertToken stores a hashed API token. TokenHash must already contain
// the hashed value.
func (r Repo) InsertToken(ctx context.Context, tx *sql.Tx, t domain.APIToken) error {
	if t.ID == "" {
		return errors.New("id required")
	}
	if t.TokenHash == "" {
		return errors.New("token_hash required")
	}
	if t.CreatedAt == "" {
		t.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO api_tokens(id, name, token_hash, created_at) VALUES (?,?,?,?)`,
		t.ID, nullable(t.Name), t.TokenHash, t.CreatedAt)
	return err
}

// GetTokenByHash returns an API token by its hashed value.
func (r Repo) GetTokenByHash(ctx context.Context, hash string) (domain.APIToken, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, COALESCE(name,''), token_hash, created_at FROM api_tokens WHERE token_hash=? LIMIT 1`, hash)
	var t domain.APIToken
	err := row.Scan(&t.ID, &t.Name, &t.TokenHash, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.APIToken{}, ErrNotFound
	}
	if err != nil {
		return domain.APIToken{}, err
	}
	return t, nil
}

func (r Repo) ListTokens(ctx context.Context) ([]domain.APIToken, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, COALESCE(name,''), token_hash, created_at FROM api_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []domain.APIToken
	for rows.Next() {
		var t domain.APIToken
		if err := rows.Scan(&t.ID, &t.Name, &t.TokenHash, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r Repo) DeleteToken(ctx context.Context, tx *sql.Tx, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM api_tokens WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
