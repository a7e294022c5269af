package ledger

import "errors"

// Sentinel errors surfaced through Result.Err.
var (
	ErrUserNotFound       = errors.New("ledger: user not found")
	ErrInsufficientTokens = errors.New("ledger: insufficient tokens")
	ErrNegativeBalance    = errors.New("ledger: balance would become negative")
	ErrInvalidAmount      = errors.New("ledger: invalid amount")
	ErrInvalidKey         = errors.New("ledger: idempotency key is required")
)

// Code is the machine-readable outcome of a ledger operation.
type Code string

const (
	CodeOK                 Code = ""
	CodeUserNotFound       Code = "user_not_found"
	CodeInsufficientTokens Code = "insufficient_tokens"
	CodeNegativeBalance    Code = "negative_balance"
	CodeInvalidAmount      Code = "invalid_amount"
	CodeInternal           Code = "internal_error"
)

func codeFor(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, ErrInsufficientTokens):
		return CodeInsufficientTokens
	case errors.Is(err, ErrNegativeBalance):
		return CodeNegativeBalance
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidKey):
		return CodeInvalidAmount
	default:
		return CodeInternal
	}
}

func isDomainError(err error) bool {
	c := codeFor(err)
	return c != CodeOK && c != CodeInternal
}
