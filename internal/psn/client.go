// Package psn はPlayStation Networkの公開トロフィーAPIのクライアントを提供する。
// アカウント解決・プレイ済みゲーム一覧・獲得トロフィー一覧の取得を含む。
package psn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/hitoshi/trophyman/internal/model"
)

var (
	// ErrAccountNotFound は指定オンラインIDのアカウントが存在しないことを示す。
	ErrAccountNotFound = errors.New("psn: アカウントが見つかりません")
	// ErrRateLimited は外部APIのレート制限に達したことを示す。
	// 次回のスケジュールサイクルで再試行される。
	ErrRateLimited = errors.New("psn: レート制限に達しました")
)

// Client はPSNトロフィーAPIのクライアント。
// 全リクエストはレートリミッターで間隔制御され、サーキットブレーカーで保護される。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string // テスト用にエンドポイントを差し替え可能
	accessToken string
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[[]byte]
}

// Config はClientの設定を保持する。
type Config struct {
	BaseURL     string
	AccessToken string
	RatePerSec  float64 // 外部APIへのリクエストレート（req/sec）
}

// NewClient はClientの新しいインスタンスを生成する。
// サーキットブレーカーは直近の失敗率が60%以上（最低10リクエスト）で開き、
// 2分後に半開状態へ遷移する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	c := &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     config.BaseURL,
		accessToken: config.AccessToken,
		limiter:     rate.NewLimiter(rate.Limit(config.RatePerSec), 1),
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "psn-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("PSN APIサーキットブレーカーの状態が変化しました",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// アカウント未存在は上流の障害ではないため失敗として数えない
			return err == nil || errors.Is(err, ErrAccountNotFound)
		},
	})

	return c
}

// ResolveAccount はオンラインIDからPSNアカウントIDを解決する。
// アカウントが存在しない場合はErrAccountNotFoundを返す。
func (c *Client) ResolveAccount(ctx context.Context, onlineID string) (string, error) {
	body, err := c.getJSON(ctx, fmt.Sprintf("/v1/users/%s/profile", url.PathEscape(onlineID)))
	if err != nil {
		return "", err
	}

	var result struct {
		AccountID string `json:"accountId"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("プロフィールレスポンスのパースに失敗しました: %w", err)
	}
	if result.AccountID == "" {
		return "", ErrAccountNotFound
	}

	return result.AccountID, nil
}

// ListPlayedGames はアカウントのプレイ済みゲームキー（npCommunicationId）の一覧を返す。
func (c *Client) ListPlayedGames(ctx context.Context, accountID string) ([]string, error) {
	body, err := c.getJSON(ctx, fmt.Sprintf("/v1/users/%s/trophyTitles", url.PathEscape(accountID)))
	if err != nil {
		return nil, err
	}

	var result struct {
		TrophyTitles []struct {
			NpCommunicationID string `json:"npCommunicationId"`
		} `json:"trophyTitles"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ゲーム一覧レスポンスのパースに失敗しました: %w", err)
	}

	games := make([]string, 0, len(result.TrophyTitles))
	for _, title := range result.TrophyTitles {
		if title.NpCommunicationID != "" {
			games = append(games, title.NpCommunicationID)
		}
	}

	return games, nil
}

// ListTrophies は指定ゲームの獲得済みトロフィー一覧を返す。
// 未獲得のトロフィーは結果に含まれない。
func (c *Client) ListTrophies(ctx context.Context, accountID, gameKey string) ([]model.FetchedTrophy, error) {
	path := fmt.Sprintf("/v1/users/%s/npCommunicationIds/%s/trophyGroups/all/trophies",
		url.PathEscape(accountID), url.PathEscape(gameKey))
	body, err := c.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}

	var result struct {
		Trophies []struct {
			TrophyID       int    `json:"trophyId"`
			TrophyType     string `json:"trophyType"`
			TrophyName     string `json:"trophyName"`
			Earned         bool   `json:"earned"`
			EarnedDateTime string `json:"earnedDateTime"`
		} `json:"trophies"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("トロフィー一覧レスポンスのパースに失敗しました: %w", err)
	}

	var trophies []model.FetchedTrophy
	for _, trophy := range result.Trophies {
		if !trophy.Earned {
			continue
		}

		earnedAt, err := time.Parse(time.RFC3339, trophy.EarnedDateTime)
		if err != nil {
			// 獲得日時が不正なトロフィーはスキップして続行する
			c.logger.Warn("トロフィーの獲得日時のパースに失敗しました",
				slog.String("game_key", gameKey),
				slog.Int("trophy_id", trophy.TrophyID),
				slog.String("earned_date_time", trophy.EarnedDateTime),
			)
			continue
		}

		trophies = append(trophies, model.FetchedTrophy{
			GameKey:   gameKey,
			TrophyKey: fmt.Sprintf("%s#%d", gameKey, trophy.TrophyID),
			Tier:      model.TrophyTier(trophy.TrophyType),
			Name:      trophy.TrophyName,
			EarnedAt:  earnedAt,
		})
	}

	return trophies, nil
}

// getJSON はレート制御とサーキットブレーカーを通してGETリクエストを実行し、
// レスポンスボディを返す。
func (c *Client) getJSON(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レート制御の待機に失敗しました: %w", err)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doRequest(ctx, path)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("PSN APIサーキットブレーカーが開いています",
				slog.String("path", path),
			)
			return nil, fmt.Errorf("PSN APIは一時的に遮断されています: %w", err)
		}
		return nil, err
	}

	return body, nil
}

// doRequest は1回のHTTPリクエストを実行する。
func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept-Language", "ja-JP")
	req.Header.Set("User-Agent", "Trophyman/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("PSN APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through
	case http.StatusNotFound:
		return nil, ErrAccountNotFound
	case http.StatusTooManyRequests:
		c.logger.Warn("PSN APIのレート制限に達しました",
			slog.String("path", path),
		)
		return nil, ErrRateLimited
	default:
		c.logger.Error("PSN APIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("PSN APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	return body, nil
}
