package usecase

import (
	"errors"
	"fmt"

	repo "app/internal/repository"
)

// HTTP層へ返すエラー（statusとmessageだけ持つ）
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// =====================
// 予約エンジンの型付きエラー
// =====================

// 在庫不足。足りなかった商品IDを全部持つ。
type InsufficientStockError struct {
	ProductIDs []int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: products %v", e.ProductIDs)
}

func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var ie *InsufficientStockError
	ok := errors.As(err, &ie)
	return ie, ok
}

var (
	// 終端状態と矛盾する操作（finalize後のrollback等）。呼び出し側の順序バグ。
	ErrStateConflict = errors.New("reservation state conflict")

	// 予約前のfinalize。呼び出し側の順序バグ。
	ErrPreconditionFailed = errors.New("reservation precondition failed")
)

// トランザクションの衝突など。冪等なのでそのままリトライしてよい。
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, repo.ErrTransient)
}
