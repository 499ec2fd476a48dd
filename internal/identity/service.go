// Package identity はDiscord-PSN紐付けのドメインロジックを提供する。
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/trophyman/internal/model"
	"github.com/hitoshi/trophyman/internal/repository"
)

// onlineIDPattern はPSNオンラインIDの形式。3〜16文字の英数字・ハイフン・アンダースコア。
var onlineIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,16}$`)

// discordUserIDPattern はDiscordユーザーID（snowflake）の形式。
var discordUserIDPattern = regexp.MustCompile(`^[0-9]{17,20}$`)

// Service はアイデンティティ管理のサービス層。
// 紐付けの作成・解除・参照のビジネスロジックを提供する。
type Service struct {
	identityRepo repository.IdentityRepository
	trophyRepo   repository.TrophyRepository
	logger       *slog.Logger
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	identityRepo repository.IdentityRepository,
	trophyRepo repository.TrophyRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		identityRepo: identityRepo,
		trophyRepo:   trophyRepo,
		logger:       logger,
		now:          time.Now,
	}
}

// Link はDiscordユーザーとPSNオンラインIDを紐付ける。
// PSNアカウントIDの解決は最初のチェックサイクルで行われる。
// 既に紐付け済みの場合はALREADY_LINKEDエラーを返す。
func (s *Service) Link(ctx context.Context, discordUserID, psnOnlineID string) (*model.Identity, error) {
	if !discordUserIDPattern.MatchString(discordUserID) {
		return nil, &model.APIError{
			Code:     "INVALID_DISCORD_USER_ID",
			Message:  "無効なDiscordユーザーIDです。",
			Category: "validation",
			Action:   "17〜20桁の数値IDを指定してください。",
		}
	}
	if !onlineIDPattern.MatchString(psnOnlineID) {
		return nil, model.NewInvalidOnlineIDError(psnOnlineID)
	}

	now := s.now().UTC()
	identity := &model.Identity{
		ID:            uuid.NewString(),
		DiscordUserID: discordUserID,
		PSNOnlineID:   psnOnlineID,
		NotifyEnabled: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.identityRepo.Create(ctx, identity); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, model.NewAlreadyLinkedError()
		}
		return nil, fmt.Errorf("アイデンティティの作成に失敗しました: %w", err)
	}

	s.logger.Info("アイデンティティを紐付けました",
		slog.String("identity_id", identity.ID),
		slog.String("discord_user_id", discordUserID),
		slog.String("psn_online_id", psnOnlineID),
	)

	return identity, nil
}

// Get は指定IDのアイデンティティと保存済みトロフィー数を取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.Identity, int, error) {
	identity, err := s.identityRepo.FindByID(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("アイデンティティの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return nil, 0, model.NewIdentityNotFoundError(id)
	}

	count, err := s.trophyRepo.CountByIdentity(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("トロフィー数の取得に失敗しました: %w", err)
	}

	return identity, count, nil
}

// ListRecentTrophies はアイデンティティの直近のトロフィーを取得する。
func (s *Service) ListRecentTrophies(ctx context.Context, id string, limit int) ([]model.Trophy, error) {
	identity, err := s.identityRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("アイデンティティの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return nil, model.NewIdentityNotFoundError(id)
	}

	return s.trophyRepo.ListByIdentity(ctx, id, limit)
}

// List は全アイデンティティを取得する。
func (s *Service) List(ctx context.Context) ([]*model.Identity, error) {
	identities, err := s.identityRepo.ListForCheck(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("アイデンティティ一覧の取得に失敗しました: %w", err)
	}
	return identities, nil
}

// Unlink は紐付けを解除する。関連するトロフィーはCASCADE削除される。
func (s *Service) Unlink(ctx context.Context, id string) error {
	identity, err := s.identityRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("アイデンティティの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return model.NewIdentityNotFoundError(id)
	}

	if err := s.identityRepo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("アイデンティティの削除に失敗しました: %w", err)
	}

	s.logger.Info("アイデンティティの紐付けを解除しました",
		slog.String("identity_id", id),
		slog.String("discord_user_id", identity.DiscordUserID),
	)

	return nil
}

// Status は集計情報を表す。
type Status struct {
	IdentityCount int
	TrophyCount   int
}

// GetStatus は紐付け数と保存済みトロフィー数の集計を返す。
func (s *Service) GetStatus(ctx context.Context) (*Status, error) {
	identityCount, err := s.identityRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("アイデンティティ数の取得に失敗しました: %w", err)
	}

	trophyCount, err := s.trophyRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("トロフィー数の取得に失敗しました: %w", err)
	}

	return &Status{
		IdentityCount: identityCount,
		TrophyCount:   trophyCount,
	}, nil
}
