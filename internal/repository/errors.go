package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

var (
	// ErrUnavailable はデータストアに到達できないことを示す。
	ErrUnavailable = errors.New("storage unavailable")

	// ErrDuplicateKey は一意制約違反を示す。
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidValue は値が列の型やCHECK制約に合わないことを示す。
	ErrInvalidValue = errors.New("invalid column value")
)

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

// classify はドライバのエラーをリポジトリのセンチネルエラーに分類する。
// 接続系の失敗はErrUnavailable、一意制約違反はErrDuplicateKey、値の不正はErrInvalidValueでラップする。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("%s: %w: %v", op, ErrDuplicateKey, err)
		}
		// Class 22: data_exception（数値の桁あふれなど）
		if pqErr.Code == pqCheckViolation || pqErr.Code.Class() == "22" {
			return fmt.Errorf("%s: %w: %v", op, ErrInvalidValue, err)
		}
		// Class 08: connection_exception, Class 57: operator_intervention
		if class := pqErr.Code.Class(); class == "08" || class == "57" {
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
