package auth

import (
	"errors"
	"fmt"
)

// ErrorKind は認証処理の失敗種別。ハンドラーはこの種別でHTTPステータスを決める。
type ErrorKind int

const (
	// KindConfiguration はIDプロバイダー設定の欠落・不正。
	KindConfiguration ErrorKind = iota + 1
	// KindCSRFMismatch はstateパラメータと保存済みCSRFトークンの不一致。
	KindCSRFMismatch
	// KindMissingEphemeralState はCSRFトークンまたはPKCE verifierの欠落（失効を含む）。
	KindMissingEphemeralState
	// KindAuthorizationDenied はプロバイダーが認可コードを返さなかった（ユーザーの拒否など）。
	KindAuthorizationDenied
	// KindProviderExchange はトークン交換またはユーザー情報取得の失敗。
	KindProviderExchange
	// KindPersistence はユーザー・セッションの永続化の失敗。
	KindPersistence
	// KindUnauthenticated は有効なセッションがない。
	KindUnauthenticated
)

var kindNames = map[ErrorKind]string{
	KindConfiguration:         "configuration_error",
	KindCSRFMismatch:          "csrf_mismatch",
	KindMissingEphemeralState: "missing_ephemeral_state",
	KindAuthorizationDenied:   "authorization_denied",
	KindProviderExchange:      "provider_exchange_failure",
	KindPersistence:           "persistence_failure",
	KindUnauthenticated:       "unauthenticated",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// 種別ごとのセンチネル。errors.Is(err, ErrUnauthenticated) のように使う。
var (
	ErrConfiguration         = &Error{Kind: KindConfiguration}
	ErrCSRFMismatch          = &Error{Kind: KindCSRFMismatch}
	ErrMissingEphemeralState = &Error{Kind: KindMissingEphemeralState}
	ErrAuthorizationDenied   = &Error{Kind: KindAuthorizationDenied}
	ErrProviderExchange      = &Error{Kind: KindProviderExchange}
	ErrPersistence           = &Error{Kind: KindPersistence}
	ErrUnauthenticated       = &Error{Kind: KindUnauthenticated}
)

// Error は認証処理のエラー。Stateはコールバックのどの状態で失敗したかを示す
// （コールバック以外の処理ではゼロ値のまま）。
type Error struct {
	Kind  ErrorKind
	State CallbackState
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は同じKindの*Errorに一致する。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf はerrに含まれる*ErrorのKindを返す。*Errorでなければ0を返す。
func KindOf(err error) ErrorKind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return 0
}

func newError(kind ErrorKind, state CallbackState, err error) *Error {
	return &Error{Kind: kind, State: state, Err: err}
}
