package bedrock

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SanitizeToolName maps a gadget name to a Bedrock-compatible tool name.
//
// Bedrock imposes stricter tool name constraints than the other providers:
// the name surfaced to the model (and echoed back in tool_use blocks) must
// match the name registered in the tool configuration exactly.
//
// Contract:
//   - The mapping is deterministic.
//   - '.' is replaced with '_' so dotted namespaces stay distinguishable.
//   - The result contains only [a-zA-Z0-9_-]+; any other rune becomes '_'.
//   - The result is at most 64 bytes. Names that would exceed the limit are
//     truncated with a stable hash suffix appended to preserve uniqueness.
func SanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8

	allowed := true
	for _, r := range in {
		if r == '.' {
			r = '_'
		}
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		case r == '-':
		default:
			allowed = false
		}
		if !allowed {
			break
		}
	}

	var sanitized string
	if allowed {
		sanitized = strings.ReplaceAll(in, ".", "_")
	} else {
		out := make([]rune, 0, len(in))
		for _, r := range in {
			if r == '.' {
				r = '_'
			}
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
				out = append(out, r)
			default:
				out = append(out, '_')
			}
		}
		sanitized = string(out)
	}

	if len(sanitized) <= maxLen {
		return sanitized
	}

	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	if prefixLen < 1 {
		prefixLen = 1
	}
	return sanitized[:prefixLen] + "_" + suffix
}

// normalizeToolName strips provider-added prefixes Bedrock sometimes echoes
// back on tool_use blocks (observed with the $FUNCTIONS. namespace some
// model families use) before the name is looked up in the reverse map.
func normalizeToolName(name string) string {
	if strings.HasPrefix(name, "$FUNCTIONS.") {
		return strings.TrimPrefix(name, "$FUNCTIONS.")
	}
	return name
}
