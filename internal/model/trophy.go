// Package model はドメインモデルを定義する。
package model

import "time"

// TrophyTier はトロフィーのランクを表す。
type TrophyTier string

const (
	// TierBronze はブロンズトロフィー。
	TierBronze TrophyTier = "bronze"
	// TierSilver はシルバートロフィー。
	TierSilver TrophyTier = "silver"
	// TierGold はゴールドトロフィー。
	TierGold TrophyTier = "gold"
	// TierPlatinum はプラチナトロフィー。
	TierPlatinum TrophyTier = "platinum"
)

// TierRank はトロフィーランクの順序値を返す（bronze < silver < gold < platinum）。
// 未知のランクは0を返す。
func TierRank(t TrophyTier) int {
	switch t {
	case TierBronze:
		return 1
	case TierSilver:
		return 2
	case TierGold:
		return 3
	case TierPlatinum:
		return 4
	default:
		return 0
	}
}

// Trophy は永続化された獲得トロフィーを表す。
// (identity_id, trophy_key) はユニーク制約を持ち、作成後は不変。
// アイデンティティの削除時にCASCADEで削除される。
type Trophy struct {
	ID         string
	IdentityID string
	GameKey    string // 外部サービスのゲーム識別子（npCommunicationId）
	TrophyKey  string // 外部サービスのトロフィー識別子（"gameKey#trophyId"）
	Tier       TrophyTier
	Name       string
	EarnedAt   time.Time
	CreatedAt  time.Time
}

// FetchedTrophy は外部APIから取得した未保存のトロフィーデータを表す。
// 差分計算エンジンへの入力として使用される。
type FetchedTrophy struct {
	GameKey   string
	TrophyKey string
	Tier      TrophyTier
	Name      string
	EarnedAt  time.Time
}

// CheckOutcome は1回のトロフィーチェックの結果種別を表す。
type CheckOutcome string

const (
	// OutcomeSuccess はチェック成功（新規トロフィー0件を含む）。
	OutcomeSuccess CheckOutcome = "success"
	// OutcomeExternalError は外部サービスのエラーによる失敗。次回サイクルで再試行される。
	OutcomeExternalError CheckOutcome = "external_error"
	// OutcomeNoAccount はPSNアカウントが解決できなかったことを示す。
	OutcomeNoAccount CheckOutcome = "no_account"
	// OutcomeSkippedInProgress は同一アイデンティティのチェックが既に実行中のためスキップされたことを示す。
	// エラーではなく制御フローのシグナル。
	OutcomeSkippedInProgress CheckOutcome = "skipped_in_progress"
)

// CheckResult は1回のトロフィーチェックの結果を表す（永続化されない）。
// NewTrophiesは獲得日時の昇順でソートされる。
type CheckResult struct {
	IdentityID  string
	Outcome     CheckOutcome
	NewTrophies []Trophy
}
