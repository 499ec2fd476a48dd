package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/trophyman/internal/model"
)

// PostgresTrophyRepo はPostgreSQLを使用したトロフィーリポジトリ。
type PostgresTrophyRepo struct {
	db *sql.DB
}

// NewPostgresTrophyRepo はPostgresTrophyRepoを生成する。
func NewPostgresTrophyRepo(db *sql.DB) *PostgresTrophyRepo {
	return &PostgresTrophyRepo{db: db}
}

// ListKeysByIdentity はアイデンティティの保存済みトロフィーキーの集合を返す。
func (r *PostgresTrophyRepo) ListKeysByIdentity(ctx context.Context, identityID string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT trophy_key FROM trophies WHERE identity_id = $1`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("保存済みトロフィーキーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("トロフィーキーのスキャンに失敗しました: %w", err)
		}
		keys[key] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("トロフィーキーの走査に失敗しました: %w", err)
	}

	return keys, nil
}

// PersistNewRecords は新規トロフィーの挿入とlast_checked_atの更新を
// 同一トランザクションで行う。ユニーク制約違反はON CONFLICT DO NOTHINGで
// 無視されるため、同じ差分を2回永続化しても結果は変わらない。
func (r *PostgresTrophyRepo) PersistNewRecords(ctx context.Context, identityID string, trophies []model.Trophy, checkedAt time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, trophy := range trophies {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO trophies (id, identity_id, game_key, trophy_key, tier, name, earned_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (identity_id, trophy_key) DO NOTHING`,
			trophy.ID, identityID, trophy.GameKey, trophy.TrophyKey,
			string(trophy.Tier), trophy.Name, trophy.EarnedAt, trophy.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("トロフィーの挿入に失敗しました: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("挿入結果の取得に失敗しました: %w", err)
		}
		inserted += int(n)
	}

	// last_checked_atは新規トロフィーの有無に関わらず同一トランザクションで更新する。
	_, err = tx.ExecContext(ctx,
		`UPDATE identities SET last_checked_at = $2, updated_at = now() WHERE id = $1`,
		identityID, checkedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("last_checked_atの更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return inserted, nil
}

// ListByIdentity はアイデンティティのトロフィーを獲得日時の降順で取得する。
func (r *PostgresTrophyRepo) ListByIdentity(ctx context.Context, identityID string, limit int) ([]model.Trophy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, identity_id, game_key, trophy_key, tier, name, earned_at, created_at
		 FROM trophies WHERE identity_id = $1
		 ORDER BY earned_at DESC
		 LIMIT $2`,
		identityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("トロフィー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var trophies []model.Trophy
	for rows.Next() {
		var trophy model.Trophy
		var tier string
		if err := rows.Scan(
			&trophy.ID, &trophy.IdentityID, &trophy.GameKey, &trophy.TrophyKey,
			&tier, &trophy.Name, &trophy.EarnedAt, &trophy.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("トロフィーのスキャンに失敗しました: %w", err)
		}
		trophy.Tier = model.TrophyTier(tier)
		trophies = append(trophies, trophy)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("トロフィーの走査に失敗しました: %w", err)
	}

	return trophies, nil
}

// CountByIdentity はアイデンティティの保存済みトロフィー数を返す。
func (r *PostgresTrophyRepo) CountByIdentity(ctx context.Context, identityID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM trophies WHERE identity_id = $1`, identityID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("トロフィー数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Count は保存済みトロフィーの総数を返す。
func (r *PostgresTrophyRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM trophies`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("トロフィー総数の取得に失敗しました: %w", err)
	}
	return count, nil
}
