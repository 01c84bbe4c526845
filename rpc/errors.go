package rpc

import (
	"errors"

	"givepool/native/settlement"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeDuplicateMessage      = -32010
	codeInvalidFingerprint    = -32030
	codeCallerNotBridge       = -32031
	codeInvalidSplit          = -32032
	codeInsufficientPrincipal = -32033
	codeReentrantCall         = -32034
	codeLegacyDisabled        = -32035
)

// engineErrorCode maps the engine's error taxonomy onto stable JSON-RPC codes
// so bridge operators can branch on codes instead of message strings.
func engineErrorCode(err error) int {
	switch {
	case errors.Is(err, settlement.ErrMessageAlreadyProcessed):
		return codeDuplicateMessage
	case errors.Is(err, settlement.ErrInvalidMessageHash):
		return codeInvalidFingerprint
	case errors.Is(err, settlement.ErrNotAuthorizedCaller):
		return codeCallerNotBridge
	case errors.Is(err, settlement.ErrInvalidSplitConfiguration):
		return codeInvalidSplit
	case errors.Is(err, settlement.ErrInsufficientPrincipal):
		return codeInsufficientPrincipal
	case errors.Is(err, settlement.ErrReentrant):
		return codeReentrantCall
	case errors.Is(err, settlement.ErrLegacyPathDisabled):
		return codeLegacyDisabled
	default:
		return codeServerError
	}
}
