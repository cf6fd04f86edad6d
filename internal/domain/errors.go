package domain

import "errors" // Error inspection

// Error is a domain rule violation with a stable machine-readable code
type Error struct {
	Code    string // Stable code returned to clients
	Message string // Human readable message
}

func (e *Error) Error() string {
	return e.Message
}

// Domain errors. Compare with errors.Is.
var (
	ErrInsufficientFunds  = &Error{Code: "INSUFFICIENT_FUNDS", Message: "insufficient funds"}
	ErrWalletNotFound     = &Error{Code: "WALLET_NOT_FOUND", Message: "wallet not found"}
	ErrInvalidAmount      = &Error{Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	ErrInvalidTransition  = &Error{Code: "INVALID_TRANSITION", Message: "invalid delivery status transition"}
	ErrInvalidCode        = &Error{Code: "INVALID_CODE", Message: "proof code not found"}
	ErrCouponVoid         = &Error{Code: "COUPON_VOID", Message: "proof code is void"}
	ErrAccessDenied       = &Error{Code: "ACCESS_DENIED", Message: "access denied"}
	ErrNotFound           = &Error{Code: "NOT_FOUND", Message: "not found"}
	ErrDuplicateReference = &Error{Code: "DUPLICATE_REFERENCE", Message: "ledger reference already used"}
)

// CodeInternal is reported for failures that are not domain rule violations
const CodeInternal = "INTERNAL_ERROR"

// CodeOf extracts the stable code of a domain error, or CodeInternal
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
