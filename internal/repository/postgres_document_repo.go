package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/docpad/internal/model"
)

// PostgresDocumentRepo はPostgreSQLを使用したドキュメントリポジトリ。
type PostgresDocumentRepo struct {
	db *sql.DB
}

// NewPostgresDocumentRepo はPostgresDocumentRepoを生成する。
func NewPostgresDocumentRepo(db *sql.DB) *PostgresDocumentRepo {
	return &PostgresDocumentRepo{db: db}
}

// FindByID は指定ユーザーが所有するドキュメントを取得する。見つからない場合はnilを返す。
func (r *PostgresDocumentRepo) FindByID(ctx context.Context, userID, id string) (*model.Document, error) {
	doc := &model.Document{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, content, created_at, updated_at
		 FROM documents
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	return doc, nil
}

// ListByUserID はユーザーのドキュメント一覧をupdated_at降順で返す。
func (r *PostgresDocumentRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, content, created_at, updated_at
		 FROM documents
		 WHERE user_id = $1
		 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc := &model.Document{}
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// Create はドキュメントを作成する。
func (r *PostgresDocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, title, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.UserID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// Update はタイトルと本文を更新する。対象が存在しない場合はfalseを返す。
func (r *PostgresDocumentRepo) Update(ctx context.Context, doc *model.Document) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE documents
		 SET title = $1, content = $2, updated_at = $3
		 WHERE id = $4 AND user_id = $5`,
		doc.Title, doc.Content, doc.UpdatedAt, doc.ID, doc.UserID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update document: %w", err)
	}
	return affectedOne(result)
}

// Delete はドキュメントを削除する。対象が存在しない場合はfalseを返す。
func (r *PostgresDocumentRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	return affectedOne(result)
}

// DeleteByUserID はユーザーの全ドキュメントを削除する。
func (r *PostgresDocumentRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user documents: %w", err)
	}
	return nil
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ DocumentRepository = (*PostgresDocumentRepo)(nil)
