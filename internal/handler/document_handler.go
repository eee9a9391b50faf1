package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/docpad/internal/document"
	"github.com/hitoshi/docpad/internal/middleware"
	"github.com/hitoshi/docpad/internal/model"
)

// maxDocumentRequestBytes はドキュメントリクエストボディの上限。本文の上限にJSONの余白を足す。
const maxDocumentRequestBytes = document.MaxContentBytes + 64*1024

// DocumentServiceInterface はドキュメントハンドラーが必要とするサービスインターフェース。
// すべての操作はユーザーIDでスコープされる。
type DocumentServiceInterface interface {
	List(ctx context.Context, userID string) ([]*model.Document, error)
	Get(ctx context.Context, userID, id string) (*model.Document, error)
	Create(ctx context.Context, userID string, in document.Input) (*model.Document, error)
	Update(ctx context.Context, userID, id string, in document.Input) (*model.Document, error)
	Delete(ctx context.Context, userID, id string) error
}

// DocumentHandler はドキュメント管理のHTTPハンドラー。
type DocumentHandler struct {
	service DocumentServiceInterface
}

// NewDocumentHandler はDocumentHandlerを生成する。
func NewDocumentHandler(service DocumentServiceInterface) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// documentRequest はドキュメント作成・更新リクエストのボディ。
type documentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// documentResponse はドキュメントのAPIレスポンス。
type documentResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDocumentResponse(doc *model.Document) documentResponse {
	return documentResponse{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

// List はドキュメント一覧を返す。
// GET /documents
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	docs, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toDocumentResponse(doc))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はドキュメントを1件返す。
// GET /documents/{id}
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	doc, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// Create はドキュメントを作成する。
// POST /documents
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	in, ok := decodeDocumentRequest(w, r)
	if !ok {
		return
	}

	doc, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

// Update はドキュメントのタイトルと本文を更新する。
// PUT /documents/{id}
func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	in, ok := decodeDocumentRequest(w, r)
	if !ok {
		return
	}

	doc, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// Delete はドキュメントを削除する。
// DELETE /documents/{id}
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireUserID はコンテキストからユーザーIDを取り出す。なければ401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

func decodeDocumentRequest(w http.ResponseWriter, r *http.Request) (document.Input, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentRequestBytes)

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("JSONを解釈できません"))
		return document.Input{}, false
	}
	return document.Input{Title: req.Title, Content: req.Content}, true
}
