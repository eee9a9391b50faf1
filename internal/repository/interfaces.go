// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/docpad/internal/model"
)

// ErrDuplicateEmail はemailの一意制約違反を表す。
// 同一ユーザーの同時ログインで両方がユーザー作成に進んだ場合に返る。
var ErrDuplicateEmail = errors.New("user with the same email already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// emailが既に存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、documentsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 期限の判定は呼び出し側で行う。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// FindByUserID は指定ユーザーの最新のセッションを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpiredBefore はexpires_atがnow以前のセッションを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error)
}

// DocumentRepository はドキュメントデータの永続化インターフェース。
// すべての操作は所有ユーザーIDでスコープされる。
type DocumentRepository interface {
	// FindByID は指定ユーザーが所有するドキュメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Document, error)

	// ListByUserID はユーザーのドキュメント一覧をupdated_at降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Document, error)

	// Create はドキュメントを作成する。
	Create(ctx context.Context, doc *model.Document) error

	// Update はタイトルと本文を更新する。対象が存在しない場合はfalseを返す。
	Update(ctx context.Context, doc *model.Document) (bool, error)

	// Delete はドキュメントを削除する。対象が存在しない場合はfalseを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)

	// DeleteByUserID はユーザーの全ドキュメントを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
