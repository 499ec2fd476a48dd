// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/trophyman/internal/model"
)

// IdentityRepository はDiscord-PSN紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByID は指定IDのアイデンティティを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// FindByDiscordUserID はDiscordユーザーIDでアイデンティティを検索する。
	// 見つからない場合はnilを返す。
	FindByDiscordUserID(ctx context.Context, discordUserID string) (*model.Identity, error)

	// Create はアイデンティティを作成する。
	// discord_user_idまたはpsn_online_idが既に存在する場合は
	// ユニーク制約違反エラーを返す（IsUniqueViolationで判定可能）。
	Create(ctx context.Context, identity *model.Identity) error

	// DeleteByID は指定IDのアイデンティティを削除する。
	// 関連するtrophiesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// ListForCheck は定期チェック対象のアイデンティティを取得する。
	// onlyNotifyEnabledがtrueの場合は通知有効のもののみを返す。
	ListForCheck(ctx context.Context, onlyNotifyEnabled bool) ([]*model.Identity, error)

	// UpdateAccountID は解決されたPSNアカウントIDを保存する。
	UpdateAccountID(ctx context.Context, id, accountID string) error

	// Count は紐付け済みアイデンティティの総数を返す。
	Count(ctx context.Context) (int, error)
}

// TrophyRepository は獲得トロフィーの永続化インターフェース。
type TrophyRepository interface {
	// ListKeysByIdentity はアイデンティティの保存済みトロフィーキーの集合を返す。
	// 差分計算エンジンへの入力として使用される。
	ListKeysByIdentity(ctx context.Context, identityID string) (map[string]struct{}, error)

	// PersistNewRecords は新規トロフィーの挿入とlast_checked_atの更新を
	// 同一トランザクションで行う。部分的な永続化は発生しない（全件または0件）。
	// ユニーク制約違反はON CONFLICT DO NOTHINGで無視され、挿入は冪等となる。
	// 戻り値は実際に挿入された件数。
	PersistNewRecords(ctx context.Context, identityID string, trophies []model.Trophy, checkedAt time.Time) (int, error)

	// ListByIdentity はアイデンティティのトロフィーを獲得日時の降順で取得する。
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]model.Trophy, error)

	// CountByIdentity はアイデンティティの保存済みトロフィー数を返す。
	CountByIdentity(ctx context.Context, identityID string) (int, error)

	// Count は保存済みトロフィーの総数を返す。
	Count(ctx context.Context) (int, error)
}
