package check

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/trophyman/internal/model"
	"github.com/hitoshi/trophyman/internal/psn"
	"github.com/hitoshi/trophyman/internal/security"
)

// mockIdentityRepo はIdentityRepositoryのモック実装。
type mockIdentityRepo struct {
	findByIDFunc        func(ctx context.Context, id string) (*model.Identity, error)
	listForCheckFunc    func(ctx context.Context, onlyNotifyEnabled bool) ([]*model.Identity, error)
	updateAccountIDFunc func(ctx context.Context, id, accountID string) error

	mu                 sync.Mutex
	updatedAccountIDs  map[string]string
}

func (m *mockIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockIdentityRepo) FindByDiscordUserID(ctx context.Context, discordUserID string) (*model.Identity, error) {
	return nil, nil
}

func (m *mockIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	return nil
}

func (m *mockIdentityRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}

func (m *mockIdentityRepo) ListForCheck(ctx context.Context, onlyNotifyEnabled bool) ([]*model.Identity, error) {
	if m.listForCheckFunc != nil {
		return m.listForCheckFunc(ctx, onlyNotifyEnabled)
	}
	return nil, nil
}

func (m *mockIdentityRepo) UpdateAccountID(ctx context.Context, id, accountID string) error {
	if m.updateAccountIDFunc != nil {
		return m.updateAccountIDFunc(ctx, id, accountID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updatedAccountIDs == nil {
		m.updatedAccountIDs = make(map[string]string)
	}
	m.updatedAccountIDs[id] = accountID
	return nil
}

func (m *mockIdentityRepo) Count(ctx context.Context) (int, error) {
	return 0, nil
}

// fakeTrophyRepo はインメモリのTrophyRepository実装。
// 永続化のユニーク制約と同様に、既存キーの挿入は無視される。
type fakeTrophyRepo struct {
	mu            sync.Mutex
	keys          map[string]map[string]struct{} // identityID -> trophyKey集合
	lastCheckedAt map[string]time.Time
	persistErr    error
}

func newFakeTrophyRepo() *fakeTrophyRepo {
	return &fakeTrophyRepo{
		keys:          make(map[string]map[string]struct{}),
		lastCheckedAt: make(map[string]time.Time),
	}
}

func (f *fakeTrophyRepo) ListKeysByIdentity(ctx context.Context, identityID string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make(map[string]struct{}, len(f.keys[identityID]))
	for key := range f.keys[identityID] {
		keys[key] = struct{}{}
	}
	return keys, nil
}

func (f *fakeTrophyRepo) PersistNewRecords(ctx context.Context, identityID string, trophies []model.Trophy, checkedAt time.Time) (int, error) {
	if f.persistErr != nil {
		return 0, f.persistErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[identityID] == nil {
		f.keys[identityID] = make(map[string]struct{})
	}
	inserted := 0
	for _, trophy := range trophies {
		if _, ok := f.keys[identityID][trophy.TrophyKey]; ok {
			continue
		}
		f.keys[identityID][trophy.TrophyKey] = struct{}{}
		inserted++
	}
	f.lastCheckedAt[identityID] = checkedAt
	return inserted, nil
}

func (f *fakeTrophyRepo) ListByIdentity(ctx context.Context, identityID string, limit int) ([]model.Trophy, error) {
	return nil, nil
}

func (f *fakeTrophyRepo) CountByIdentity(ctx context.Context, identityID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys[identityID]), nil
}

func (f *fakeTrophyRepo) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, keys := range f.keys {
		total += len(keys)
	}
	return total, nil
}

// mockProfileClient はProfileClientのモック実装。
type mockProfileClient struct {
	resolveAccountFunc  func(ctx context.Context, onlineID string) (string, error)
	listPlayedGamesFunc func(ctx context.Context, accountID string) ([]string, error)
	listTrophiesFunc    func(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error)

	mu                sync.Mutex
	listTrophiesCalls int
}

func (m *mockProfileClient) ResolveAccount(ctx context.Context, onlineID string) (string, error) {
	if m.resolveAccountFunc != nil {
		return m.resolveAccountFunc(ctx, onlineID)
	}
	return "account-" + onlineID, nil
}

func (m *mockProfileClient) ListPlayedGames(ctx context.Context, accountID string) ([]string, error) {
	if m.listPlayedGamesFunc != nil {
		return m.listPlayedGamesFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *mockProfileClient) ListTrophies(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error) {
	m.mu.Lock()
	m.listTrophiesCalls++
	m.mu.Unlock()
	if m.listTrophiesFunc != nil {
		return m.listTrophiesFunc(ctx, accountID, gameKey)
	}
	return nil, nil
}

// mockCache はTrophyCacheのモック実装。
type mockCache struct {
	mu      sync.Mutex
	entries map[string][]model.FetchedTrophy
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]model.FetchedTrophy)}
}

func (m *mockCache) Get(key string) ([]model.FetchedTrophy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trophies, ok := m.entries[key]
	return trophies, ok
}

func (m *mockCache) Set(key string, trophies []model.FetchedTrophy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = trophies
}

// mockMetrics はMetricsRecorderのモック実装。
type mockMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	cacheHits int
	cacheMiss int
}

func (m *mockMetrics) RecordCheckOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockMetrics) RecordCheckLatency(duration time.Duration) {}

func (m *mockMetrics) RecordNewTrophies(count int) {}

func (m *mockMetrics) RecordCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

func (m *mockMetrics) RecordCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMiss++
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func newTestChecker(identityRepo *mockIdentityRepo, trophyRepo *fakeTrophyRepo, client *mockProfileClient, cache *mockCache) *Checker {
	return NewChecker(
		identityRepo,
		trophyRepo,
		client,
		cache,
		security.NewTextSanitizer(),
		&mockMetrics{},
		newTestLogger(),
		5*time.Second,
	)
}

func resolvedIdentity() *model.Identity {
	return &model.Identity{
		ID:            "identity-1",
		DiscordUserID: "111111111111111111",
		PSNOnlineID:   "trophy_hunter",
		PSNAccountID:  "account-1",
		NotifyEnabled: true,
	}
}

func fetched(gameKey, trophyID string, tier model.TrophyTier, earnedAt time.Time) model.FetchedTrophy {
	return model.FetchedTrophy{
		GameKey:   gameKey,
		TrophyKey: gameKey + "#" + trophyID,
		Tier:      tier,
		Name:      "トロフィー " + trophyID,
		EarnedAt:  earnedAt,
	}
}

func TestCheckOne_Success_NewTrophies(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	client := &mockProfileClient{
		listPlayedGamesFunc: func(ctx context.Context, accountID string) ([]string, error) {
			return []string{"NPWR20188_00"}, nil
		},
		listTrophiesFunc: func(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error) {
			return []model.FetchedTrophy{
				fetched(gameKey, "1", model.TierBronze, base),
				fetched(gameKey, "2", model.TierGold, base.Add(time.Hour)),
			}, nil
		},
	}
	trophyRepo := newFakeTrophyRepo()
	checker := newTestChecker(&mockIdentityRepo{}, trophyRepo, client, newMockCache())

	result := checker.CheckOne(context.Background(), resolvedIdentity())

	if result.Outcome != model.OutcomeSuccess {
		t.Fatalf("Outcome = %q, want %q", result.Outcome, model.OutcomeSuccess)
	}
	if len(result.NewTrophies) != 2 {
		t.Fatalf("新規件数 = %d, want 2", len(result.NewTrophies))
	}
	count, _ := trophyRepo.CountByIdentity(context.Background(), "identity-1")
	if count != 2 {
		t.Errorf("保存件数 = %d, want 2", count)
	}
}

// 外部状態が変わらない限り、2回目のチェックで保存件数は増えない。
func TestCheckOne_NoDuplicateOnRepeatedCheck(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	client := &mockProfileClient{
		listPlayedGamesFunc: func(ctx context.Context, accountID string) ([]string, error) {
			return []string{"NPWR20188_00"}, nil
		},
		listTrophiesFunc: func(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error) {
			return []model.FetchedTrophy{fetched(gameKey, "1", model.TierBronze, base)}, nil
		},
	}
	trophyRepo := newFakeTrophyRepo()
	checker := newTestChecker(&mockIdentityRepo{}, trophyRepo, client, newMockCache())

	first := checker.CheckOne(context.Background(), resolvedIdentity())
	if len(first.NewTrophies) != 1 {
		t.Fatalf("1回目の新規件数 = %d, want 1", len(first.NewTrophies))
	}

	second := checker.CheckOne(context.Background(), resolvedIdentity())
	if second.Outcome != model.OutcomeSuccess {
		t.Fatalf("2回目のOutcome = %q, want %q", second.Outcome, model.OutcomeSuccess)
	}
	if len(second.NewTrophies) != 0 {
		t.Errorf("2回目の新規件数 = %d, want 0", len(second.NewTrophies))
	}

	count, _ := trophyRepo.CountByIdentity(context.Background(), "identity-1")
	if count != 1 {
		t.Errorf("保存件数 = %d, want 1", count)
	}
}

// 獲得日時 [30, 10, 20] の取得結果は [10, 20, 30] の順で返される。
func TestCheckOne_NewTrophiesSortedByEarnedAt(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	client := &mockProfileClient{
		listPlayedGamesFunc: func(ctx context.Context, accountID string) ([]string, error) {
			return []string{"NPWR20188_00"}, nil
		},
		listTrophiesFunc: func(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error) {
			return []model.FetchedTrophy{
				fetched(gameKey, "t30", model.TierBronze, base.Add(30*time.Second)),
				fetched(gameKey, "t10", model.TierBronze, base.Add(10*time.Second)),
				fetched(gameKey, "t20", model.TierBronze, base.Add(20*time.Second)),
			}, nil
		},
	}
	checker := newTestChecker(&mockIdentityRepo{}, newFakeTrophyRepo(), client, newMockCache())

	result := checker.CheckOne(context.Background(), resolvedIdentity())

	wantOrder := []string{"NPWR20188_00#t10", "NPWR20188_00#t20", "NPWR20188_00#t30"}
	if len(result.NewTrophies) != len(wantOrder) {
		t.Fatalf("新規件数 = %d, want %d", len(result.NewTrophies), len(wantOrder))
	}
	for i, want := range wantOrder {
		if result.NewTrophies[i].TrophyKey != want {
			t.Errorf("NewTrophies[%d].TrophyKey = %q, want %q", i, result.NewTrophies[i].TrophyKey, want)
		}
	}
}

func TestCheckOne_ResolvesAccountAndPersistsIt(t *testing.T) {
	identityRepo := &mockIdentityRepo{}
	client := &mockProfileClient{
		resolveAccountFunc: func(ctx context.Context, onlineID string) (string, error) {
			return "resolved-account", nil
		},
	}
	checker := newTestChecker(identityRepo, newFakeTrophyRepo(), client, newMockCache())

	identity := resolvedIdentity()
	identity.PSNAccountID = ""

	result := checker.CheckOne(context.Background(), identity)
	if result.Outcome != model.OutcomeSuccess {
		t.Fatalf("Outcome = %q, want %q", result.Outcome, model.OutcomeSuccess)
	}

	identityRepo.mu.Lock()
	defer identityRepo.mu.Unlock()
	if identityRepo.updatedAccountIDs["identity-1"] != "resolved-account" {
		t.Errorf("解決されたアカウントIDが保存されていません: %v", identityRepo.updatedAccountIDs)
	}
}

func TestCheckOne_NoAccount_DoesNotUpdateTimestamp(t *testing.T) {
	client := &mockProfileClient{
		resolveAccountFunc: func(ctx context.Context, onlineID string) (string, error) {
			return "", psn.ErrAccountNotFound
		},
	}
	trophyRepo := newFakeTrophyRepo()
	checker := newTestChecker(&mockIdentityRepo{}, trophyRepo, client, newMockCache())

	identity := resolvedIdentity()
	identity.PSNAccountID = ""

	result := checker.CheckOne(context.Background(), identity)
	if result.Outcome != model.OutcomeNoAccount {
		t.Fatalf("Outcome = %q, want %q", result.Outcome, model.OutcomeNoAccount)
	}

	// no_accountではlast_checked_atは更新されない
	if _, ok := trophyRepo.lastCheckedAt["identity-1"]; ok {
		t.Error("no_accountでlast_checked_atが更新されています")
	}
}

func TestCheckOne_ExternalError(t *testing.T) {
	client := &mockProfileClient{
		listPlayedGamesFunc: func(ctx context.Context, accountID string) ([]string, error) {
			return nil, errors.New("upstream down")
		},
	}
	checker := newTestChecker(&mockIdentityRepo{}, newFakeTrophyRepo(), client, newMockCache())

	result := checker.CheckOne(context.Background(), resolvedIdentity())
	if result.Outcome != model.OutcomeExternalError {
		t.Errorf("Outcome = %q, want %q", result.Outcome, model.OutcomeExternalError)
	}
	if len(result.NewTrophies) != 0 {
		t.Errorf("外部エラー時の新規件数 = %d, want 0", len(result.NewTrophies))
	}
}

func TestCheckOne_PersistFailure_ReturnsExternalError(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	client := &mockProfileClient{
		listPlayedGamesFunc: func(ctx context.Context, accountID string) ([]string, error) {
			return []string{"NPWR20188_00"}, nil
		},
		listTrophiesFunc: func(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error) {
			return []model.FetchedTrophy{fetched(gameKey, "1", model.TierBronze, base)}, nil
		},
	}
	trophyRepo := newFakeTrophyRepo()
	trophyRepo.persistErr = errors.New("db down")
	checker := newTestChecker(&mockIdentityRepo{}, trophyRepo, client, newMockCache())

	result := checker.CheckOne(context.Background(), resolvedIdentity())
	if result.Outcome != model.OutcomeExternalError {
		t.Errorf("Outcome = %q, want %q", result.Outcome, model.OutcomeExternalError)
	}
}

// 同一アイデンティティの同時チェックは片方のみが実行され、もう片方はスキップされる。
func TestCheckOne_ConcurrentSameIdentity_OneSkipped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	client := &mockProfileClient{
		listPlayedGamesFunc: func(ctx context.Context, accountID string) ([]string, error) {
			startedOnce.Do(func() { close(started) })
			<-release
			return nil, nil
		},
	}
	checker := newTestChecker(&mockIdentityRepo{}, newFakeTrophyRepo(), client, newMockCache())

	var firstResult model.CheckResult
	done := make(chan struct{})
	go func() {
		firstResult = checker.CheckOne(context.Background(), resolvedIdentity())
		close(done)
	}()

	<-started
	// 1つ目がフェッチ中の間に同じアイデンティティをチェック
	second := checker.CheckOne(context.Background(), resolvedIdentity())
	if second.Outcome != model.OutcomeSkippedInProgress {
		t.Errorf("2つ目のOutcome = %q, want %q", second.Outcome, model.OutcomeSkippedInProgress)
	}

	close(release)
	<-done
	if firstResult.Outcome != model.OutcomeSuccess {
		t.Errorf("1つ目のOutcome = %q, want %q", firstResult.Outcome, model.OutcomeSuccess)
	}

	// ロック解放後は再実行できる
	third := checker.CheckOne(context.Background(), resolvedIdentity())
	if third.Outcome != model.OutcomeSuccess {
		t.Errorf("3回目のOutcome = %q, want %q", third.Outcome, model.OutcomeSuccess)
	}
}

func TestCheckOne_CacheHitSkipsFetch(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	client := &mockProfileClient{
		listPlayedGamesFunc: func(ctx context.Context, accountID string) ([]string, error) {
			return []string{"NPWR20188_00"}, nil
		},
		listTrophiesFunc: func(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error) {
			return []model.FetchedTrophy{fetched(gameKey, "1", model.TierBronze, base)}, nil
		},
	}
	cache := newMockCache()
	checker := newTestChecker(&mockIdentityRepo{}, newFakeTrophyRepo(), client, cache)

	checker.CheckOne(context.Background(), resolvedIdentity())
	if client.listTrophiesCalls != 1 {
		t.Fatalf("1回目のListTrophies呼び出し数 = %d, want 1", client.listTrophiesCalls)
	}

	// キャッシュ有効期間内の2回目はフェッチしない
	checker.CheckOne(context.Background(), resolvedIdentity())
	if client.listTrophiesCalls != 1 {
		t.Errorf("キャッシュヒット時のListTrophies呼び出し数 = %d, want 1", client.listTrophiesCalls)
	}
}

func TestCheckOne_SanitizesTrophyNames(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	client := &mockProfileClient{
		listPlayedGamesFunc: func(ctx context.Context, accountID string) ([]string, error) {
			return []string{"NPWR20188_00"}, nil
		},
		listTrophiesFunc: func(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error) {
			trophy := fetched(gameKey, "1", model.TierBronze, base)
			trophy.Name = `<script>alert(1)</script>クリア`
			return []model.FetchedTrophy{trophy}, nil
		},
	}
	checker := newTestChecker(&mockIdentityRepo{}, newFakeTrophyRepo(), client, newMockCache())

	result := checker.CheckOne(context.Background(), resolvedIdentity())
	if len(result.NewTrophies) != 1 {
		t.Fatalf("新規件数 = %d, want 1", len(result.NewTrophies))
	}
	if result.NewTrophies[0].Name != "クリア" {
		t.Errorf("トロフィー名がサニタイズされていません: %q", result.NewTrophies[0].Name)
	}
}
