// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/trophyman/internal/identity"
	"github.com/hitoshi/trophyman/internal/model"
)

// defaultTrophyListLimit はトロフィー一覧のデフォルト取得件数。
const defaultTrophyListLimit = 20

// maxTrophyListLimit はトロフィー一覧の最大取得件数。
const maxTrophyListLimit = 100

// IdentityServiceInterface はアイデンティティハンドラーが必要とするサービスインターフェース。
type IdentityServiceInterface interface {
	// Link はDiscordユーザーとPSNオンラインIDを紐付ける。
	Link(ctx context.Context, discordUserID, psnOnlineID string) (*model.Identity, error)
	// Get はアイデンティティと保存済みトロフィー数を取得する。
	Get(ctx context.Context, id string) (*model.Identity, int, error)
	// List は全アイデンティティを取得する。
	List(ctx context.Context) ([]*model.Identity, error)
	// ListRecentTrophies は直近のトロフィーを取得する。
	ListRecentTrophies(ctx context.Context, id string, limit int) ([]model.Trophy, error)
	// Unlink は紐付けを解除する。
	Unlink(ctx context.Context, id string) error
	// GetStatus は集計情報を返す。
	GetStatus(ctx context.Context) (*identity.Status, error)
}

// CheckTrigger はオンデマンドチェックの実行インターフェース。
type CheckTrigger interface {
	// CheckOneByID は指定アイデンティティのチェックを即時実行する。
	CheckOneByID(ctx context.Context, identityID string) (model.CheckResult, error)
}

// IdentityHandler はアイデンティティ管理のHTTPハンドラー。
type IdentityHandler struct {
	service IdentityServiceInterface
	checker CheckTrigger
}

// NewIdentityHandler はIdentityHandlerを生成する。
func NewIdentityHandler(service IdentityServiceInterface, checker CheckTrigger) *IdentityHandler {
	return &IdentityHandler{
		service: service,
		checker: checker,
	}
}

// linkIdentityRequest は紐付けリクエストのボディ。
type linkIdentityRequest struct {
	DiscordUserID string `json:"discord_user_id"`
	PSNOnlineID   string `json:"psn_online_id"`
}

// identityResponse はアイデンティティ情報のAPIレスポンス。
type identityResponse struct {
	ID            string  `json:"id"`
	DiscordUserID string  `json:"discord_user_id"`
	PSNOnlineID   string  `json:"psn_online_id"`
	Resolved      bool    `json:"resolved"`
	NotifyEnabled bool    `json:"notify_enabled"`
	LastCheckedAt *string `json:"last_checked_at"`
	TrophyCount   int     `json:"trophy_count"`
}

// trophyResponse はトロフィー情報のAPIレスポンス。
type trophyResponse struct {
	GameKey   string `json:"game_key"`
	TrophyKey string `json:"trophy_key"`
	Tier      string `json:"tier"`
	Name      string `json:"name"`
	EarnedAt  string `json:"earned_at"`
}

// checkResultResponse はオンデマンドチェックのAPIレスポンス。
type checkResultResponse struct {
	IdentityID  string           `json:"identity_id"`
	Outcome     string           `json:"outcome"`
	NewTrophies []trophyResponse `json:"new_trophies"`
}

// statusResponse は集計情報のAPIレスポンス。
type statusResponse struct {
	IdentityCount int `json:"identity_count"`
	TrophyCount   int `json:"trophy_count"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// LinkIdentity は紐付け登録を処理する。
// POST /api/identities
func (h *IdentityHandler) LinkIdentity(w http.ResponseWriter, r *http.Request) {
	var req linkIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	created, err := h.service.Link(r.Context(), req.DiscordUserID, req.PSNOnlineID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toIdentityResponse(created, 0))
}

// ListIdentities は全アイデンティティの一覧を取得する。
// GET /api/identities
func (h *IdentityHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]identityResponse, 0, len(identities))
	for _, ident := range identities {
		responses = append(responses, toIdentityResponse(ident, 0))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]identityResponse{"identities": responses})
}

// GetIdentity はアイデンティティ詳細を取得する。
// GET /api/identities/:id
func (h *IdentityHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	found, count, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toIdentityResponse(found, count))
}

// ListTrophies は直近のトロフィー一覧を取得する。
// GET /api/identities/:id/trophies?limit=20
func (h *IdentityHandler) ListTrophies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := defaultTrophyListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxTrophyListLimit {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_LIMIT",
				Message:  "limitパラメータが不正です。",
				Category: "validation",
				Action:   "1〜100の整数を指定してください。",
			})
			return
		}
		limit = parsed
	}

	trophies, err := h.service.ListRecentTrophies(r.Context(), id, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]trophyResponse, 0, len(trophies))
	for _, trophy := range trophies {
		responses = append(responses, toTrophyResponse(trophy))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]trophyResponse{"trophies": responses})
}

// UnlinkIdentity は紐付け解除を処理する。
// DELETE /api/identities/:id
func (h *IdentityHandler) UnlinkIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Unlink(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TriggerCheck はオンデマンドのトロフィーチェックを実行する。
// 実行中チェックとの排他は維持され、その場合はskipped_in_progressが返る。
// POST /api/identities/:id/check
func (h *IdentityHandler) TriggerCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.checker.CheckOneByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := checkResultResponse{
		IdentityID:  result.IdentityID,
		Outcome:     string(result.Outcome),
		NewTrophies: make([]trophyResponse, 0, len(result.NewTrophies)),
	}
	for _, trophy := range result.NewTrophies {
		resp.NewTrophies = append(resp.NewTrophies, toTrophyResponse(trophy))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetStatus は集計情報を取得する。
// GET /api/status
func (h *IdentityHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetStatus(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		IdentityCount: status.IdentityCount,
		TrophyCount:   status.TrophyCount,
	})
}

// toIdentityResponse はドメインモデルをAPIレスポンスに変換する。
func toIdentityResponse(i *model.Identity, trophyCount int) identityResponse {
	resp := identityResponse{
		ID:            i.ID,
		DiscordUserID: i.DiscordUserID,
		PSNOnlineID:   i.PSNOnlineID,
		Resolved:      i.IsResolved(),
		NotifyEnabled: i.NotifyEnabled,
		TrophyCount:   trophyCount,
	}
	if i.LastCheckedAt != nil {
		formatted := i.LastCheckedAt.UTC().Format(time.RFC3339)
		resp.LastCheckedAt = &formatted
	}
	return resp
}

// toTrophyResponse はトロフィーをAPIレスポンスに変換する。
func toTrophyResponse(t model.Trophy) trophyResponse {
	return trophyResponse{
		GameKey:   t.GameKey,
		TrophyKey: t.TrophyKey,
		Tier:      string(t.Tier),
		Name:      t.Name,
		EarnedAt:  t.EarnedAt.UTC().Format(time.RFC3339),
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAlreadyLinked:
		return http.StatusConflict
	case model.ErrCodeIdentityNotFound:
		return http.StatusNotFound
	case model.ErrCodeNotLinked:
		return http.StatusUnprocessableEntity
	case model.ErrCodeInvalidOnlineID, "INVALID_DISCORD_USER_ID", "INVALID_REQUEST", "INVALID_LIMIT":
		return http.StatusBadRequest
	case model.ErrCodeExternalUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodePersistenceFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
