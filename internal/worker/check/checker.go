package check

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/trophyman/internal/diff"
	"github.com/hitoshi/trophyman/internal/model"
	"github.com/hitoshi/trophyman/internal/psn"
	"github.com/hitoshi/trophyman/internal/repository"
	"github.com/hitoshi/trophyman/internal/security"
)

// ProfileClient はPSNトロフィーAPIのインターフェース。
type ProfileClient interface {
	// ResolveAccount はオンラインIDからPSNアカウントIDを解決する。
	ResolveAccount(ctx context.Context, onlineID string) (string, error)
	// ListPlayedGames はプレイ済みゲームキーの一覧を返す。
	ListPlayedGames(ctx context.Context, accountID string) ([]string, error)
	// ListTrophies は指定ゲームの獲得済みトロフィー一覧を返す。
	ListTrophies(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error)
}

// TrophyCache はゲームごとのトロフィー取得結果のキャッシュインターフェース。
// キーは "アカウントID:ゲームキー" の形式。
type TrophyCache interface {
	Get(key string) ([]model.FetchedTrophy, bool)
	Set(key string, trophies []model.FetchedTrophy)
}

// MetricsRecorder はチェック処理のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordCheckOutcome(outcome string)
	RecordCheckLatency(duration time.Duration)
	RecordNewTrophies(count int)
	RecordCacheHit()
	RecordCacheMiss()
}

// Checker は1アイデンティティのトロフィーチェックを実行する。
// アカウント解決、キャッシュ付きトロフィー取得、差分計算、永続化を行う。
// 同一アイデンティティの同時チェックはinflightLocksで排他される。
type Checker struct {
	identityRepo repository.IdentityRepository
	trophyRepo   repository.TrophyRepository
	client       ProfileClient
	cache        TrophyCache
	sanitizer    security.TextSanitizerService
	metrics      MetricsRecorder
	logger       *slog.Logger
	fetchTimeout time.Duration
	locks        *inflightLocks
	now          func() time.Time // テスト用に差し替え可能
}

// NewChecker はCheckerの新しいインスタンスを生成する。
func NewChecker(
	identityRepo repository.IdentityRepository,
	trophyRepo repository.TrophyRepository,
	client ProfileClient,
	cache TrophyCache,
	sanitizer security.TextSanitizerService,
	metrics MetricsRecorder,
	logger *slog.Logger,
	fetchTimeout time.Duration,
) *Checker {
	return &Checker{
		identityRepo: identityRepo,
		trophyRepo:   trophyRepo,
		client:       client,
		cache:        cache,
		sanitizer:    sanitizer,
		metrics:      metrics,
		logger:       logger,
		fetchTimeout: fetchTimeout,
		locks:        newInflightLocks(),
		now:          time.Now,
	}
}

// CheckOne は1アイデンティティのトロフィーチェックを実行する。
// 同一アイデンティティのチェックが実行中の場合はskipped_in_progressを即座に返す。
// 外部APIの失敗はexternal_errorに変換され、他のアイデンティティのチェックには影響しない。
func (c *Checker) CheckOne(ctx context.Context, identity *model.Identity) model.CheckResult {
	start := c.now()

	result := c.checkOne(ctx, identity)

	c.metrics.RecordCheckOutcome(string(result.Outcome))
	if result.Outcome != model.OutcomeSkippedInProgress {
		c.metrics.RecordCheckLatency(c.now().Sub(start))
	}
	if len(result.NewTrophies) > 0 {
		c.metrics.RecordNewTrophies(len(result.NewTrophies))
	}

	return result
}

func (c *Checker) checkOne(ctx context.Context, identity *model.Identity) model.CheckResult {
	// アイデンティティ単位の排他制御。取得できない場合はスキップ（エラーではない）
	if !c.locks.TryAcquire(identity.ID) {
		c.logger.Info("チェックが既に実行中のためスキップします",
			slog.String("identity_id", identity.ID),
		)
		return model.CheckResult{IdentityID: identity.ID, Outcome: model.OutcomeSkippedInProgress}
	}
	defer c.locks.Release(identity.ID)

	// アカウントID未解決の場合は解決を試みる。
	// 失敗時はlast_checked_atを更新せずno_accountを返す
	accountID := identity.PSNAccountID
	if accountID == "" {
		resolved, err := c.resolveAccount(ctx, identity)
		if err != nil {
			if errors.Is(err, psn.ErrAccountNotFound) {
				c.logger.Warn("PSNアカウントを解決できませんでした",
					slog.String("identity_id", identity.ID),
					slog.String("psn_online_id", identity.PSNOnlineID),
				)
				return model.CheckResult{IdentityID: identity.ID, Outcome: model.OutcomeNoAccount}
			}
			return c.externalError(identity, "アカウント解決", err)
		}
		accountID = resolved
	}

	// プレイ済みゲームを列挙し、ゲームごとにキャッシュ経由でトロフィーを取得
	games, err := c.listPlayedGames(ctx, accountID)
	if err != nil {
		return c.externalError(identity, "ゲーム一覧取得", err)
	}

	var fetched []model.FetchedTrophy
	for _, gameKey := range games {
		trophies, err := c.fetchGameTrophies(ctx, accountID, gameKey)
		if err != nil {
			return c.externalError(identity, "トロフィー取得", err)
		}
		fetched = append(fetched, trophies...)
	}

	// 差分計算と永続化。保存済みキーとの照合で新規トロフィーのみを抽出する
	storedKeys, err := c.trophyRepo.ListKeysByIdentity(ctx, identity.ID)
	if err != nil {
		return c.externalError(identity, "保存済みキー取得", err)
	}

	news := diff.ComputeNew(fetched, storedKeys)
	diff.SortByEarned(news)

	checkedAt := c.now().UTC()
	records := make([]model.Trophy, 0, len(news))
	for _, trophy := range news {
		records = append(records, model.Trophy{
			ID:         uuid.NewString(),
			IdentityID: identity.ID,
			GameKey:    trophy.GameKey,
			TrophyKey:  trophy.TrophyKey,
			Tier:       trophy.Tier,
			Name:       c.sanitizer.Sanitize(trophy.Name),
			EarnedAt:   trophy.EarnedAt,
			CreatedAt:  checkedAt,
		})
	}

	// 新規0件でもlast_checked_atは更新される
	inserted, err := c.trophyRepo.PersistNewRecords(ctx, identity.ID, records, checkedAt)
	if err != nil {
		c.logger.Error("新規トロフィーの永続化に失敗しました",
			slog.String("identity_id", identity.ID),
			slog.Int("new_count", len(records)),
			slog.String("error", err.Error()),
		)
		return model.CheckResult{IdentityID: identity.ID, Outcome: model.OutcomeExternalError}
	}

	if inserted > 0 {
		c.logger.Info("新規トロフィーを永続化しました",
			slog.String("identity_id", identity.ID),
			slog.Int("inserted", inserted),
			slog.Int("game_count", len(games)),
		)
	}

	return model.CheckResult{
		IdentityID:  identity.ID,
		Outcome:     model.OutcomeSuccess,
		NewTrophies: records,
	}
}

// resolveAccount はアカウントIDを解決し、成功時は永続化する。
func (c *Checker) resolveAccount(ctx context.Context, identity *model.Identity) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	accountID, err := c.client.ResolveAccount(fetchCtx, identity.PSNOnlineID)
	if err != nil {
		return "", err
	}

	if err := c.identityRepo.UpdateAccountID(ctx, identity.ID, accountID); err != nil {
		return "", err
	}
	identity.PSNAccountID = accountID

	c.logger.Info("PSNアカウントIDを解決しました",
		slog.String("identity_id", identity.ID),
		slog.String("psn_online_id", identity.PSNOnlineID),
	)

	return accountID, nil
}

func (c *Checker) listPlayedGames(ctx context.Context, accountID string) ([]string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	return c.client.ListPlayedGames(fetchCtx, accountID)
}

// fetchGameTrophies はキャッシュ経由で1ゲームのトロフィーを取得する。
// キャッシュミス時のみ外部APIを呼び、結果をキャッシュに保存する。
func (c *Checker) fetchGameTrophies(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error) {
	cacheKey := accountID + ":" + gameKey

	if trophies, ok := c.cache.Get(cacheKey); ok {
		c.metrics.RecordCacheHit()
		return trophies, nil
	}
	c.metrics.RecordCacheMiss()

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	trophies, err := c.client.ListTrophies(fetchCtx, accountID, gameKey)
	if err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, trophies)
	return trophies, nil
}

// externalError は外部API失敗をログに記録し、external_errorの結果に変換する。
// エラーはバッチの他のアイデンティティに伝播しない。
func (c *Checker) externalError(identity *model.Identity, step string, err error) model.CheckResult {
	c.logger.Error("トロフィーチェックの外部呼び出しに失敗しました",
		slog.String("identity_id", identity.ID),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	return model.CheckResult{IdentityID: identity.ID, Outcome: model.OutcomeExternalError}
}
