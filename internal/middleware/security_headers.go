package middleware

import "net/http"

// apiContentSecurityPolicy はdocpadの全レスポンスに付けるCSP。
// レスポンスはJSONと302リダイレクトだけで、ブラウザが描画・実行するものは無い。
// リダイレクト先（Googleの認可画面やランディングページ）への遷移はCSPの対象外なので、
// /login と /callback もこのポリシーのまま動作する。
const apiContentSecurityPolicy = "default-src 'none'; base-uri 'none'; form-action 'none'; frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
//
// /callback のURLは認可コードとstateを含むので、リダイレクト先へRefererとして渡さない（no-referrer）。
// セッションCookieの発行や利用者のドキュメントを含むレスポンスは共有キャッシュに残さない（no-store）。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
