// Package model はドメインモデルを定義する。
package model

import "time"

// Identity はDiscordユーザーとPSNプロフィールの紐付けを表す。
// psn_account_idは初回の解決成功まで空文字列のままとなる。
type Identity struct {
	ID            string
	DiscordUserID string
	PSNOnlineID   string
	PSNAccountID  string // 未解決の場合は空文字列
	NotifyEnabled bool
	LastCheckedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsResolved はPSNアカウントIDが解決済みかどうかを返す。
func (i *Identity) IsResolved() bool {
	return i.PSNAccountID != ""
}
