package model

import "time"

// Document はユーザーが所有するドキュメントを表す。
type Document struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
