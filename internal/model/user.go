// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// emailはIdPとの紐付けキーとして一意であることを前提とする。
type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session はユーザーのログインセッションを表す。
// IDはブラウザに渡すベアラー値そのものであり、ExpiresAtを過ぎたセッションは無効。
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsValidAt は指定時刻においてセッションが有効かどうかを返す。
// 有効なのは now が ExpiresAt より厳密に前である場合のみ。
func (s *Session) IsValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// RemainingAt は指定時刻からの残り有効期間を返す。期限切れの場合は0。
func (s *Session) RemainingAt(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
