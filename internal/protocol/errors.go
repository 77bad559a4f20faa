package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Primitive layer (world server replies).
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoResource    = "E_NO_RESOURCE"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrBlocked       = "E_BLOCKED"
	ErrStale         = "E_STALE"
	ErrInternal      = "E_INTERNAL"

	// Navigation.
	ErrNoPath    = "E_NO_PATH"
	ErrTimeout   = "E_TIMEOUT"
	ErrCancelled = "E_CANCELLED"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNoResource:      {},
	ErrInvalidTarget:   {},
	ErrBlocked:         {},
	ErrStale:           {},
	ErrInternal:        {},
	ErrNoPath:          {},
	ErrTimeout:         {},
	ErrCancelled:       {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// IsNavigationCode reports whether a RESULT code means the agent could not be
// brought to its goal (as opposed to a rejected primitive).
func IsNavigationCode(code string) bool {
	switch code {
	case ErrNoPath, ErrTimeout, ErrCancelled:
		return true
	default:
		return false
	}
}
