package completer

import "strings"

// Strategy selects how aggressively the Syntactic phase fills in missing
// tokens and values (spec §4.2.2, "Strategy semantics").
type Strategy int

const (
	// Smart is the default: closest syntactically legal completion and
	// best-effort token completion (e.g. "tru" -> "true"). Zero value, so
	// a zero-value Options defaults to Smart.
	Smart Strategy = iota
	// Conservative injects null / removes dangling fragments; unknown
	// tokens are replaced with null. Trust-critical inputs.
	Conservative
	// Aggressive synthesizes typed defaults and expands unknown tokens
	// more liberally. Data recovery.
	Aggressive
)

func (s Strategy) String() string {
	switch s {
	case Conservative:
		return "conservative"
	case Smart:
		return "smart"
	case Aggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// nextMoreConservative returns the next strategy to retry with after a
// round-trip failure (spec §4.2.2: "the completer retries with the next
// more-conservative strategy"), and whether one exists.
func (s Strategy) nextMoreConservative() (Strategy, bool) {
	switch s {
	case Aggressive:
		return Smart, true
	case Smart:
		return Conservative, true
	default:
		return Conservative, false
	}
}

// ParseStrategy maps a case-insensitive name to a Strategy, defaulting to
// Smart for an unrecognized or empty name.
func ParseStrategy(name string) Strategy {
	switch strings.ToLower(name) {
	case "conservative":
		return Conservative
	case "aggressive":
		return Aggressive
	default:
		return Smart
	}
}
