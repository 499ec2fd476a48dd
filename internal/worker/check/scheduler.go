package check

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/trophyman/internal/model"
	"github.com/hitoshi/trophyman/internal/notify"
	"github.com/hitoshi/trophyman/internal/repository"
)

// CheckerService はトロフィーチェックの実行インターフェース。
type CheckerService interface {
	// CheckOne は指定アイデンティティのトロフィーチェックを実行する。
	CheckOne(ctx context.Context, identity *model.Identity) model.CheckResult
}

// Scheduler はトロフィーチェックのスケジューリングと並列制御を行う。
// 定期ティッカーで全アイデンティティのチェックを起動し、
// semaphoreパターンで最大並列数を制御しながらチェックを実行する。
// 新規トロフィーのある成功結果はNotifierに渡される。
type Scheduler struct {
	identityRepo      repository.IdentityRepository
	checker           CheckerService
	notifier          notify.Notifier
	logger            *slog.Logger
	maxConcurrency    int
	onlyNotifyEnabled bool
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
// onlyNotifyEnabledがtrueの場合、通知有効のアイデンティティのみをチェック対象とする。
func NewScheduler(
	identityRepo repository.IdentityRepository,
	checker CheckerService,
	notifier notify.Notifier,
	logger *slog.Logger,
	maxConcurrency int,
	onlyNotifyEnabled bool,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		identityRepo:      identityRepo,
		checker:           checker,
		notifier:          notifier,
		logger:            logger,
		maxConcurrency:    maxConcurrency,
		onlyNotifyEnabled: onlyNotifyEnabled,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("チェックスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if _, err := s.CheckAll(ctx); err != nil {
		s.logger.Error("チェックサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("チェックスケジューラを停止しました")
			return
		case <-ticker.C:
			if _, err := s.CheckAll(ctx); err != nil {
				s.logger.Error("チェックサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// CheckAll は全チェック対象アイデンティティのチェックを1回実行する。
// semaphoreパターンで並列数を制御し、個々の失敗は他のアイデンティティに影響しない。
// 結果の順序は保証されない。
func (s *Scheduler) CheckAll(ctx context.Context) ([]model.CheckResult, error) {
	start := time.Now()

	identities, err := s.identityRepo.ListForCheck(ctx, s.onlyNotifyEnabled)
	if err != nil {
		return nil, fmt.Errorf("チェック対象の取得に失敗しました: %w", err)
	}

	if len(identities) == 0 {
		s.logger.Info("チェック対象のアイデンティティはありません")
		return nil, nil
	}

	s.logger.Info("チェックサイクルを開始します",
		slog.Int("identity_count", len(identities)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	results := make([]model.CheckResult, 0, len(identities))

	for _, identity := range identities {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(ident *model.Identity) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			result := s.checker.CheckOne(ctx, ident)
			s.notifyIfNeeded(ctx, ident, result)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(identity)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("チェックサイクルが完了しました",
		slog.Int("identity_count", len(identities)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return results, nil
}

// CheckOneByID はオンデマンドで1アイデンティティのチェックを実行する。
// バッチと同じCheckerを通るため、実行中チェックとの排他が維持される。
// 指定IDのアイデンティティが存在しない場合はエラーを返す。
func (s *Scheduler) CheckOneByID(ctx context.Context, identityID string) (model.CheckResult, error) {
	identity, err := s.identityRepo.FindByID(ctx, identityID)
	if err != nil {
		return model.CheckResult{}, fmt.Errorf("アイデンティティの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return model.CheckResult{}, model.NewIdentityNotFoundError(identityID)
	}

	result := s.checker.CheckOne(ctx, identity)
	s.notifyIfNeeded(ctx, identity, result)

	return result, nil
}

// notifyIfNeeded は新規トロフィーのある成功結果を通知する。
// 通知の失敗は永続化済みレコードに影響せず、ログに記録されるのみ。
func (s *Scheduler) notifyIfNeeded(ctx context.Context, identity *model.Identity, result model.CheckResult) {
	if result.Outcome != model.OutcomeSuccess || len(result.NewTrophies) == 0 {
		return
	}
	if !identity.NotifyEnabled {
		return
	}

	if err := s.notifier.Deliver(ctx, identity, result.NewTrophies); err != nil {
		// 通知失敗は再試行しない。永続化済みのため次回サイクルで重複通知もされない
		s.logger.Error("新規トロフィーの通知に失敗しました",
			slog.String("identity_id", identity.ID),
			slog.Int("trophy_count", len(result.NewTrophies)),
			slog.String("error", err.Error()),
		)
	}
}
