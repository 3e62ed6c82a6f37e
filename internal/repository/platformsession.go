package repository

import (
	"context"
	"fmt"

	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/pkg/crypto"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlatformSessionRepository stores offline commerce-platform access tokens,
// one per shop, AES-GCM encrypted at rest.
type PlatformSessionRepository struct {
	db  *pgxpool.Pool
	enc *crypto.Encryptor
}

// NewPlatformSessionRepository creates a new PlatformSessionRepository.
func NewPlatformSessionRepository(db *pgxpool.Pool, enc *crypto.Encryptor) *PlatformSessionRepository {
	return &PlatformSessionRepository{db: db, enc: enc}
}

// Upsert saves or replaces the offline token for a shop.
func (r *PlatformSessionRepository) Upsert(ctx context.Context, shop, accessToken string) error {
	sealed, err := r.enc.Encrypt([]byte(accessToken))
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	query := `
		INSERT INTO platform_sessions (shop, access_token, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (shop) DO UPDATE
		SET access_token = EXCLUDED.access_token, updated_at = NOW()
	`
	_, err = r.db.Exec(ctx, query, shop, sealed)
	if err != nil {
		return fmt.Errorf("failed to upsert platform session: %w", err)
	}
	return nil
}

// FindByShop returns the decrypted session for a shop, or (nil, nil).
func (r *PlatformSessionRepository) FindByShop(ctx context.Context, shop string) (*domain.PlatformSession, error) {
	var s domain.PlatformSession
	var sealed string
	err := r.db.QueryRow(ctx,
		`SELECT shop, access_token, created_at, updated_at FROM platform_sessions WHERE shop = $1`,
		shop,
	).Scan(&s.Shop, &sealed, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan platform session: %w", err)
	}

	plain, err := r.enc.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	s.AccessToken = string(plain)
	return &s, nil
}

// DeleteByShop removes the stored token. Called on tenant uninstall.
func (r *PlatformSessionRepository) DeleteByShop(ctx context.Context, shop string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM platform_sessions WHERE shop = $1`, shop)
	if err != nil {
		return fmt.Errorf("failed to delete platform session: %w", err)
	}
	return nil
}
