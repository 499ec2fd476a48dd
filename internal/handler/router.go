package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/trophyman/internal/metrics"
	"github.com/hitoshi/trophyman/internal/middleware"
)

// DBPinger はヘルスチェックで使用するデータベース疎通確認のインターフェース。
// *sql.DBが実装する。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	APIToken    string
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
	Metrics     metrics.MetricsCollector

	// サービス
	IdentityService IdentityServiceInterface
	CheckTrigger    CheckTrigger

	// ヘルスチェック
	DB DBPinger

	// Prometheusメトリクスのエクスポート（nilの場合は公開しない）
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	SecurityHeaders → Recovery → Logging → TokenAuth → RateLimit(General)
//
// ヘルスチェック（/health）は認証とレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))

	identityHandler := NewIdentityHandler(deps.IdentityService, deps.CheckTrigger)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.DB))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: TokenAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewTokenAuthMiddleware(deps.APIToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// アイデンティティ管理
		r.Route("/api/identities", func(r chi.Router) {
			// POST /api/identities - 紐付け登録（登録専用レート制限を追加）
			r.With(deps.RateLimiter.LinkRegistrationMiddleware()).Post("/", identityHandler.LinkIdentity)

			r.Get("/", identityHandler.ListIdentities)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", identityHandler.GetIdentity)
				r.Delete("/", identityHandler.UnlinkIdentity)

				// GET /api/identities/{id}/trophies - 直近のトロフィー一覧
				r.Get("/trophies", identityHandler.ListTrophies)

				// POST /api/identities/{id}/check - オンデマンドチェック
				r.Post("/check", identityHandler.TriggerCheck)
			})
		})

		// 集計情報
		r.Get("/api/status", identityHandler.GetStatus)
	})

	return r
}

// healthHandler はデータベース疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(db DBPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "unhealthy",
					"reason": "database unreachable",
				})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
