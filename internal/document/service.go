// Package document はドキュメント管理のドメインロジックを提供する。
// すべての操作はログイン中のユーザーが所有するドキュメントに限定される。
package document

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/docpad/internal/model"
	"github.com/hitoshi/docpad/internal/repository"
)

const (
	// MaxTitleLength はタイトルの最大文字数（documents.titleの列長）。
	MaxTitleLength = 255
	// MaxContentBytes は本文の最大バイト数。
	MaxContentBytes = 1 << 20
)

// Input はドキュメントの作成・更新の入力。
type Input struct {
	Title   string
	Content string
}

// Service はドキュメント管理のサービス層。
// 本文はMarkdownのままバイト単位で保存し、表示時の変換はクライアントが行う。
type Service struct {
	repo repository.DocumentRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.DocumentRepository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// List はユーザーのドキュメント一覧を更新日時の降順で返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Document, error) {
	docs, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ドキュメント一覧の取得に失敗しました: %w", err)
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	return docs, nil
}

// Get はドキュメントを取得する。他ユーザーのドキュメントは存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.Document, error) {
	if !isUUID(id) {
		return nil, model.NewDocumentNotFoundError(id)
	}

	doc, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの取得に失敗しました: %w", err)
	}
	if doc == nil {
		return nil, model.NewDocumentNotFoundError(id)
	}
	return doc, nil
}

// Create はドキュメントを作成する。
func (s *Service) Create(ctx context.Context, userID string, in Input) (*model.Document, error) {
	title, content, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	doc := &model.Document{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("ドキュメントの作成に失敗しました: %w", err)
	}
	return doc, nil
}

// Update はドキュメントのタイトルと本文を更新する。
func (s *Service) Update(ctx context.Context, userID, id string, in Input) (*model.Document, error) {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	title, content, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	doc.Title = title
	doc.Content = content
	doc.UpdatedAt = s.now()

	updated, err := s.repo.Update(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの更新に失敗しました: %w", err)
	}
	// 取得から更新までの間に削除された
	if !updated {
		return nil, model.NewDocumentNotFoundError(id)
	}
	return doc, nil
}

// Delete はドキュメントを削除する。
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if !isUUID(id) {
		return model.NewDocumentNotFoundError(id)
	}

	deleted, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewDocumentNotFoundError(id)
	}
	return nil
}

// normalize はタイトルの前後の空白を除き、長さを検証する。本文は変更しない。
func (s *Service) normalize(in Input) (string, string, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return "", "", model.NewInvalidDocumentError("タイトルが空です")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", "", model.NewInvalidDocumentError(fmt.Sprintf("タイトルは%d文字以内です", MaxTitleLength))
	}
	if len(in.Content) > MaxContentBytes {
		return "", "", model.NewInvalidDocumentError("本文が大きすぎます")
	}
	return title, in.Content, nil
}

// isUUID は標準形式（36文字）のUUIDかを判定する。
func isUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
