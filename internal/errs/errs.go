// Package errs defines the typed error taxonomy shared by the quote,
// execution, settlement, and pool-setup engines. Callers (an HTTP handler,
// a CLI, a test) switch on Code rather than parsing error strings.
package errs

import "fmt"

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeMarketNotFound      Code = "MARKET_NOT_FOUND"
	CodeMarketNotActive     Code = "MARKET_NOT_ACTIVE"
	CodeMarketClosed        Code = "MARKET_CLOSED"
	CodeEventNotActive      Code = "EVENT_NOT_ACTIVE"
	CodeOptionNotFound      Code = "OPTION_NOT_FOUND"
	CodeOptionNotActive     Code = "OPTION_NOT_ACTIVE"
	CodePoolNotFound        Code = "POOL_NOT_FOUND"
	CodePoolInvalid         Code = "POOL_INVALID"
	CodePoolMappingError    Code = "POOL_MAPPING_ERROR"
	CodePoolMismatch        Code = "POOL_MISMATCH"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeNoPosition          Code = "NO_POSITION"
	CodeInsufficientShares  Code = "INSUFFICIENT_SHARES"
	CodeAmountTooLow        Code = "AMOUNT_TOO_LOW"
	CodeSlippageProtection  Code = "SLIPPAGE_PROTECTION"
	CodeQuoteMathError      Code = "QUOTE_MATH_ERROR"
	CodeInvalidParam        Code = "INVALID_PARAM"
	CodeWalletNotFound      Code = "WALLET_NOT_FOUND"

	CodeSettlementError    Code = "SETTLEMENT_ERROR"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeNotResolved        Code = "NOT_RESOLVED"
	CodeNoResolvedOption   Code = "NO_RESOLVED_OPTION"
	CodeInvalidStatus      Code = "INVALID_STATUS"
)

// Status is a coarse-grained hint for mapping a Code onto a transport-level
// status (HTTP, gRPC, whatever the caller front-ends this with).
type Status int

const (
	StatusBadRequest Status = iota
	StatusNotFound
	StatusConflict
	StatusUnprocessable
	StatusInternal
)

// Error is the concrete error type returned by every exported engine
// function in this module. It carries a stable Code plus a human-readable
// Message, and wraps an optional underlying cause.
type Error struct {
	Code    Code
	Status  Status
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(code Code, status Status, format string, args ...any) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(code Code, status Status, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func MarketNotFound(id string) *Error {
	return newErr(CodeMarketNotFound, StatusNotFound, "market %s not found", id)
}

func MarketNotActive(id string, status any) *Error {
	return newErr(CodeMarketNotActive, StatusConflict, "market %s is not active (status=%v)", id, status)
}

func MarketClosed(id string) *Error {
	return newErr(CodeMarketClosed, StatusConflict, "market %s is closed to trading", id)
}

func EventNotActive(id string, status any) *Error {
	return newErr(CodeEventNotActive, StatusConflict, "event %s is not active (status=%v)", id, status)
}

func OptionNotFound(id string) *Error {
	return newErr(CodeOptionNotFound, StatusNotFound, "option %s not found", id)
}

func OptionNotActive(id string) *Error {
	return newErr(CodeOptionNotActive, StatusConflict, "option %s is not active", id)
}

func PoolNotFound(id string) *Error {
	return newErr(CodePoolNotFound, StatusNotFound, "no amm pool found for %s", id)
}

func PoolInvalid(reason string) *Error {
	return newErr(CodePoolInvalid, StatusUnprocessable, "pool is invalid: %s", reason)
}

func PoolMappingError(reason string) *Error {
	return newErr(CodePoolMappingError, StatusUnprocessable, "pool option mapping error: %s", reason)
}

func PoolMismatch(optionID, poolID string) *Error {
	return newErr(CodePoolMismatch, StatusConflict, "option %s does not belong to pool %s", optionID, poolID)
}

func InsufficientBalance(have, need string) *Error {
	return newErr(CodeInsufficientBalance, StatusUnprocessable, "insufficient balance: have %s, need %s", have, need)
}

func NoPosition(walletID, optionID string) *Error {
	return newErr(CodeNoPosition, StatusUnprocessable, "wallet %s has no position in option %s", walletID, optionID)
}

func InsufficientShares(have, need string) *Error {
	return newErr(CodeInsufficientShares, StatusUnprocessable, "insufficient shares: have %s, need %s", have, need)
}

func AmountTooLow(amount string) *Error {
	return newErr(CodeAmountTooLow, StatusBadRequest, "amount %s is too low to trade", amount)
}

func SlippageProtection(reason string) *Error {
	return newErr(CodeSlippageProtection, StatusConflict, "slippage protection triggered: %s", reason)
}

func QuoteMathError(cause error) *Error {
	return wrapErr(CodeQuoteMathError, StatusInternal, cause, "quote math failed")
}

func InvalidParam(field, reason string) *Error {
	return newErr(CodeInvalidParam, StatusBadRequest, "invalid %s: %s", field, reason)
}

func WalletNotFound(id string) *Error {
	return newErr(CodeWalletNotFound, StatusNotFound, "wallet %s not found", id)
}

func SettlementError(cause error) *Error {
	return wrapErr(CodeSettlementError, StatusInternal, cause, "settlement failed")
}

func InsufficientFunds(shortfall string) *Error {
	return newErr(CodeInsufficientFunds, StatusUnprocessable, "pool has insufficient funds to settle, shortfall=%s", shortfall)
}

func NotResolved(marketID string) *Error {
	return newErr(CodeNotResolved, StatusConflict, "market %s has not been resolved", marketID)
}

func NoResolvedOption(marketID string) *Error {
	return newErr(CodeNoResolvedOption, StatusUnprocessable, "market %s has no resolved option set", marketID)
}

func InvalidStatus(entity, status string) *Error {
	return newErr(CodeInvalidStatus, StatusConflict, "%s has invalid status %s for this operation", entity, status)
}
