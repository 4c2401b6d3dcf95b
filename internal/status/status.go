// Package status defines the five-digit code stamped on every stored
// message. The ten-thousands digit partitions the taxonomy (normal,
// reclassified, remote error, local error) and the last digit encodes
// the speaking role.
package status

// Role table indexed by code mod 10.
var roles = [...]string{"unknown", "system", "user", "assistant"}

const (
	RoleUnknown   = "unknown"
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	Normal          = 10000
	NormalSystem    = 10001
	NormalUser      = 10002
	NormalAssistant = 10003

	// PartialStream marks an assistant reply cut off by the stream read
	// deadline. It stays below CeilingContext on purpose: the partial
	// text remains part of future context.
	PartialStream = 11000

	Processed = 30000

	// RecallOffset reclassifies a message as recalled; IgnoreOffset as
	// ignored due to a failed exchange. Both move the code out of the
	// context-eligible range while preserving the role digit.
	RecallOffset = 20000
	IgnoreOffset = 20100

	// RemoteError is the base for non-200 responses: RemoteError + the
	// HTTP status code. RemoteInvalid covers a 200 whose body cannot be
	// interpreted. LocalError covers everything that failed before or
	// beside the wire.
	RemoteError   = 50000
	RemoteInvalid = 52200
	LocalError    = 60000
)

const (
	// CeilingContext bounds codes eligible as conversation context.
	CeilingContext = 20000
	// CeilingExport admits every row, error diagnostics included.
	CeilingExport = 100000
)

// Role derives the speaking role from a status code. Codes whose last
// digit falls outside the role table map to "unknown".
func Role(code int) string {
	i := code % 10
	if i < 0 || i >= len(roles) {
		return RoleUnknown
	}
	return roles[i]
}

// ForRole returns base + the role's digit, e.g. ForRole(Normal, "user")
// == NormalUser. Unknown roles add nothing.
func ForRole(base int, role string) int {
	for i, r := range roles {
		if r == role {
			return base + i
		}
	}
	return base
}

// HTTPError maps a non-200 HTTP status to its stored code.
func HTTPError(httpCode int) int {
	return RemoteError + httpCode
}

// ContextEligible reports whether a row with this code is sent to the
// model as context.
func ContextEligible(code int) bool {
	return code < CeilingContext
}

// Recall reclassifies a code as recalled by its owner.
func Recall(code int) int {
	return code + RecallOffset
}

// Ignore reclassifies a code as ignored after a failed exchange.
func Ignore(code int) int {
	return code + IgnoreOffset
}
