package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/estate-auth/internal/auth"
	"github.com/spec-kit/estate-auth/internal/domain"
)

// TokenRepository is the revocation store: the checklist of every issued
// token and the blacklist of revoked ones.
type TokenRepository interface {
	GetByJTI(ctx context.Context, jti string) (*domain.Token, error)
	LatestForSubject(ctx context.Context, subjectID string, limit int) ([]domain.Token, error)
	AddPairToChecklist(ctx context.Context, pair []*domain.Token) error
	AddToBlacklist(ctx context.Context, token *domain.Token) error
	ExistsInBlacklist(ctx context.Context, jti string) (bool, error)
}

const blacklistKeyPrefix = "blacklist:"

type tokenRepository struct {
	pool  *pgxpool.Pool
	cache *redis.Client
}

// NewTokenRepository returns a Postgres-backed implementation with an
// optional Redis cache for the hot-path blacklist lookup.
func NewTokenRepository(pool *pgxpool.Pool, cache *redis.Client) TokenRepository {
	return &tokenRepository{pool: pool, cache: cache}
}

func (r *tokenRepository) GetByJTI(ctx context.Context, jti string) (*domain.Token, error) {
	const query = `
        SELECT id, jti, subject_id, kind, token, issued_at, expires_at, created_at
        FROM token_checklist WHERE jti=$1`

	var token domain.Token
	if err := r.pool.QueryRow(ctx, query, jti).Scan(
		&token.ID,
		&token.JTI,
		&token.SubjectID,
		&token.Kind,
		&token.Signed,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrTokensNotFound
		}
		return nil, auth.StorageError(err)
	}
	return &token, nil
}

func (r *tokenRepository) LatestForSubject(ctx context.Context, subjectID string, limit int) ([]domain.Token, error) {
	const query = `
        SELECT id, jti, subject_id, kind, token, issued_at, expires_at, created_at
        FROM token_checklist WHERE subject_id=$1
        ORDER BY created_at DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, subjectID, limit)
	if err != nil {
		return nil, auth.StorageError(err)
	}
	defer rows.Close()

	tokens := make([]domain.Token, 0, limit)
	for rows.Next() {
		var token domain.Token
		if err := rows.Scan(
			&token.ID,
			&token.JTI,
			&token.SubjectID,
			&token.Kind,
			&token.Signed,
			&token.IssuedAt,
			&token.ExpiresAt,
			&token.CreatedAt,
		); err != nil {
			return nil, auth.StorageError(err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.StorageError(err)
	}
	return tokens, nil
}

// AddPairToChecklist inserts both rows of an access/refresh pair in a
// single transaction so a crash cannot leave a half pair behind.
func (r *tokenRepository) AddPairToChecklist(ctx context.Context, pair []*domain.Token) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return auth.StorageError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        INSERT INTO token_checklist (jti, subject_id, kind, token, issued_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at`

	for _, token := range pair {
		if err := tx.QueryRow(ctx, query,
			token.JTI,
			token.SubjectID,
			token.Kind,
			token.Signed,
			token.IssuedAt,
			token.ExpiresAt,
		).Scan(&token.ID, &token.CreatedAt); err != nil {
			return auth.StorageError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return auth.StorageError(err)
	}
	return nil
}

// AddToBlacklist records a revocation. The unique constraint on the
// checklist reference makes a duplicate insert fail loudly, distinct
// from a connectivity fault.
func (r *tokenRepository) AddToBlacklist(ctx context.Context, token *domain.Token) error {
	const query = `INSERT INTO token_blacklist (token_id) VALUES ($1)`

	if _, err := r.pool.Exec(ctx, query, token.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return auth.ErrAlreadyBlacklisted
		}
		return auth.StorageError(err)
	}

	r.cacheBlacklisted(ctx, token)
	return nil
}

func (r *tokenRepository) ExistsInBlacklist(ctx context.Context, jti string) (bool, error) {
	if r.cache != nil {
		hit, err := r.cache.Exists(ctx, blacklistKeyPrefix+jti).Result()
		if err == nil && hit > 0 {
			return true, nil
		}
		// cache miss or cache fault falls through to postgres
	}

	const query = `
        SELECT EXISTS (
            SELECT 1 FROM token_blacklist b
            JOIN token_checklist c ON c.id = b.token_id
            WHERE c.jti = $1
        )`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, jti).Scan(&exists); err != nil {
		return false, auth.StorageError(err)
	}
	return exists, nil
}

// cacheBlacklisted keeps the jti in Redis until the token would have
// expired anyway; after that the blacklist entry is moot for validation.
func (r *tokenRepository) cacheBlacklisted(ctx context.Context, token *domain.Token) {
	if r.cache == nil {
		return
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return
	}
	// best effort; postgres remains the source of truth
	_ = r.cache.Set(ctx, blacklistKeyPrefix+token.JTI, "1", ttl).Err()
}
