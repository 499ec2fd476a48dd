package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/trophyman/internal/model"
)

// pqUniqueViolation はPostgreSQLのユニーク制約違反のエラーコード。
const pqUniqueViolation = "23505"

// IsUniqueViolation はエラーがユニーク制約違反かどうかを判定する。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

// PostgresIdentityRepo はPostgreSQLを使用したアイデンティティリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByID は指定IDのアイデンティティを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	return r.findOne(ctx,
		`SELECT id, discord_user_id, psn_online_id, psn_account_id, notify_enabled, last_checked_at, created_at, updated_at
		 FROM identities WHERE id = $1`,
		id,
	)
}

// FindByDiscordUserID はDiscordユーザーIDでアイデンティティを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByDiscordUserID(ctx context.Context, discordUserID string) (*model.Identity, error) {
	return r.findOne(ctx,
		`SELECT id, discord_user_id, psn_online_id, psn_account_id, notify_enabled, last_checked_at, created_at, updated_at
		 FROM identities WHERE discord_user_id = $1`,
		discordUserID,
	)
}

// findOne は1件のアイデンティティを取得する共通処理。
func (r *PostgresIdentityRepo) findOne(ctx context.Context, query string, arg any) (*model.Identity, error) {
	identity := &model.Identity{}
	var accountID sql.NullString
	var lastCheckedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&identity.ID, &identity.DiscordUserID, &identity.PSNOnlineID,
		&accountID, &identity.NotifyEnabled, &lastCheckedAt,
		&identity.CreatedAt, &identity.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイデンティティの取得に失敗しました: %w", err)
	}

	if accountID.Valid {
		identity.PSNAccountID = accountID.String
	}
	if lastCheckedAt.Valid {
		identity.LastCheckedAt = &lastCheckedAt.Time
	}

	return identity, nil
}

// Create はアイデンティティを作成する。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	var accountID sql.NullString
	if identity.PSNAccountID != "" {
		accountID = sql.NullString{String: identity.PSNAccountID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, discord_user_id, psn_online_id, psn_account_id, notify_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		identity.ID, identity.DiscordUserID, identity.PSNOnlineID,
		accountID, identity.NotifyEnabled, identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アイデンティティの作成に失敗しました: %w", err)
	}

	return nil
}

// DeleteByID は指定IDのアイデンティティを削除する。trophiesはCASCADE削除される。
func (r *PostgresIdentityRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("アイデンティティの削除に失敗しました: %w", err)
	}
	return nil
}

// ListForCheck は定期チェック対象のアイデンティティを取得する。
func (r *PostgresIdentityRepo) ListForCheck(ctx context.Context, onlyNotifyEnabled bool) ([]*model.Identity, error) {
	query := `SELECT id, discord_user_id, psn_online_id, psn_account_id, notify_enabled, last_checked_at, created_at, updated_at
	          FROM identities`
	if onlyNotifyEnabled {
		query += ` WHERE notify_enabled = true`
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("チェック対象アイデンティティの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var identities []*model.Identity
	for rows.Next() {
		identity := &model.Identity{}
		var accountID sql.NullString
		var lastCheckedAt sql.NullTime

		if err := rows.Scan(
			&identity.ID, &identity.DiscordUserID, &identity.PSNOnlineID,
			&accountID, &identity.NotifyEnabled, &lastCheckedAt,
			&identity.CreatedAt, &identity.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("アイデンティティのスキャンに失敗しました: %w", err)
		}

		if accountID.Valid {
			identity.PSNAccountID = accountID.String
		}
		if lastCheckedAt.Valid {
			identity.LastCheckedAt = &lastCheckedAt.Time
		}

		identities = append(identities, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイデンティティの走査に失敗しました: %w", err)
	}

	return identities, nil
}

// UpdateAccountID は解決されたPSNアカウントIDを保存する。
func (r *PostgresIdentityRepo) UpdateAccountID(ctx context.Context, id, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE identities SET psn_account_id = $2, updated_at = now() WHERE id = $1`,
		id, accountID,
	)
	if err != nil {
		return fmt.Errorf("PSNアカウントIDの更新に失敗しました: %w", err)
	}
	return nil
}

// Count は紐付け済みアイデンティティの総数を返す。
func (r *PostgresIdentityRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM identities`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("アイデンティティ数の取得に失敗しました: %w", err)
	}
	return count, nil
}
