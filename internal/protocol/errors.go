package protocol

// ERROR codes sent to observers.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST" // frame failed schema validation
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrBadRequest      = "E_BAD_REQUEST" // well-formed but not accepted from a client
	ErrInvalidTarget   = "E_INVALID_TARGET"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrWorldBusy       = "E_WORLD_BUSY"
	ErrInternal        = "E_INTERNAL"
)

// retryable marks codes where the same PAINT may succeed later.
var codes = map[string]struct{ retryable bool }{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrInvalidTarget:   {},
	ErrRateLimit:       {retryable: true},
	ErrWorldBusy:       {retryable: true},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	_, ok := codes[code]
	return ok
}

// Retryable reports whether a client should back off and resend rather than drop the request.
func Retryable(code string) bool {
	return codes[code].retryable
}

// NewError builds an ERROR message. Unknown codes are reported as E_INTERNAL.
func NewError(code, msg string) ErrorMsg {
	if !IsKnownCode(code) {
		code, msg = ErrInternal, code+": "+msg
	}
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
