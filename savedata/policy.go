package savedata

import "fmt"

// Mode is what the caller asked a pass to do.
type Mode int

const (
	// ModeAuto migrates on first run and syncs afterwards.
	ModeAuto Mode = iota
	// ModeMigrate copies legacy entries once, only into an empty versioned store.
	ModeMigrate
	// ModeSync fills the gaps of each side from the other.
	ModeSync
)

// String returns the mode name accepted by ParseMode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeMigrate:
		return "migrate"
	case ModeSync:
		return "sync"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a mode name to its Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "auto", "":
		return ModeAuto, nil
	case "migrate":
		return ModeMigrate, nil
	case "sync":
		return ModeSync, nil
	}
	return ModeAuto, fmt.Errorf("unknown mode %q (want auto, migrate or sync)", s)
}

// Policy is what a pass will actually do.
type Policy int

const (
	// PolicyNoop leaves both stores alone.
	PolicyNoop Policy = iota
	// PolicyMigrate copies every legacy entry into the versioned store.
	PolicyMigrate
	// PolicySync fills the gaps of each store from the other.
	PolicySync
)

// String returns the policy name used in logs, metrics and JSON.
func (p Policy) String() string {
	switch p {
	case PolicyNoop:
		return "noop"
	case PolicyMigrate:
		return "migrate"
	case PolicySync:
		return "sync"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// MarshalText lets policies appear by name in JSON and YAML.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a policy name.
func (p *Policy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "noop":
		*p = PolicyNoop
	case "migrate":
		*p = PolicyMigrate
	case "sync":
		*p = PolicySync
	default:
		return fmt.Errorf("unknown policy %q", text)
	}
	return nil
}

// DecidePolicy picks the policy for a pass. A migration never runs over
// existing versioned data.
func DecidePolicy(mode Mode, hasVersionedData bool) Policy {
	switch mode {
	case ModeMigrate:
		if hasVersionedData {
			return PolicyNoop
		}
		return PolicyMigrate
	case ModeSync:
		return PolicySync
	default:
		if hasVersionedData {
			return PolicySync
		}
		return PolicyMigrate
	}
}
