// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// NewTokenAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証する
// ミドルウェアを返す。Discordボットなどの連携クライアントからの
// サーバー間リクエストを想定する。
// トークン不一致のリクエストには401 Unauthorizedを返す。
func NewTokenAuthMiddleware(apiToken string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// タイミング攻撃を避けるため定数時間比較を使用する
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiToken)) != 1 {
				slog.Warn("無効なAPIトークンによるリクエストを拒否しました",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
