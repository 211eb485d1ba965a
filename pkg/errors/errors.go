package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError carrying the same code, so callers can compare
// against a bare sentinel such as &AppError{Code: ErrAlreadySettled}.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	return stderrors.Is(err, &AppError{Code: code})
}

var (
	ErrConfigLoad      = "CONFIG_LOAD_ERROR"
	ErrDatabaseConnect = "DATABASE_CONNECT_ERROR"
	ErrRPConnect       = "RPC_CONNECT_ERROR"
	ErrNotFound        = "NOT_FOUND"
	ErrInvalidAmount   = "INVALID_AMOUNT"

	ErrSettlementConfig           = "SETTLEMENT_CONFIG_ERROR"
	ErrAlreadySettled             = "ALREADY_SETTLED"
	ErrSettlementBusy             = "SETTLEMENT_IN_PROGRESS"
	ErrInsufficientCustodialFunds = "INSUFFICIENT_CUSTODIAL_FUNDS"
	ErrFunding                    = "FUNDING_ERROR"
	ErrChainRead                  = "CHAIN_READ_ERROR"
	ErrChainWrite                 = "CHAIN_WRITE_ERROR"
	ErrDecryption                 = "DECRYPTION_ERROR"
	ErrPayout                     = "PAYOUT_ERROR"
	ErrLedgerWrite                = "LEDGER_WRITE_ERROR"
)

// IsFatal reports whether err belongs to a class that aborts a settlement
// run before any chain-mutating call is made.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrSettlementConfig, ErrAlreadySettled, ErrSettlementBusy,
		ErrInsufficientCustodialFunds, ErrFunding, ErrChainRead, ErrDecryption, ErrNotFound:
		return true
	}
	return false
}
