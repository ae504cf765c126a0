package resolve

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var ErrUnknownUser = errors.New("no such user")

// PatternEntry maps one port regex to the users whose forwarded ports
// it identifies.
type PatternEntry struct {
	Pattern string
	Users   []string
}

// JumpSpec describes an extra hop: ports are resolved with the Over
// user's pattern, the session authenticates as Destination.
type JumpSpec struct {
	Over        string
	Destination string
}

// NotFoundError reports that a user's forwarded port is not currently
// up on the intermediary. An expected condition, not a fault.
type NotFoundError struct {
	User string
	Over string
}

func (e *NotFoundError) Error() string {
	if e.Over != "" {
		return fmt.Sprintf("port for user %s over %s not found", e.User, e.Over)
	}
	return fmt.Sprintf("port for user %s not found", e.User)
}

// Map is the inverted user-to-pattern view of the configuration,
// validated and compiled once at construction.
type Map struct {
	patterns map[string]*regexp.Regexp
	sources  map[string]string
	jumps    map[string]JumpSpec
	combined *regexp.Regexp
}

func NewMap(entries []PatternEntry, jumps map[string]JumpSpec) (*Map, error) {
	m := &Map{
		patterns: make(map[string]*regexp.Regexp),
		sources:  make(map[string]string),
		jumps:    make(map[string]JumpSpec, len(jumps)),
	}

	alternates := make([]string, 0, len(entries))
	for _, entry := range entries {
		pattern := strings.TrimSpace(entry.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("empty port pattern")
		}
		// Anchored so a pattern must account for the whole port, and
		// so alternations match their longest branch rather than the
		// leftmost one.
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("compile port pattern %q: %w", pattern, err)
		}
		if len(entry.Users) == 0 {
			return nil, fmt.Errorf("port pattern %q lists no users", pattern)
		}
		for _, user := range entry.Users {
			user = strings.TrimSpace(user)
			if user == "" {
				return nil, fmt.Errorf("port pattern %q lists an empty user name", pattern)
			}
			if existing, ok := m.sources[user]; ok {
				return nil, fmt.Errorf("user %q listed under both %q and %q", user, existing, pattern)
			}
			m.patterns[user] = re
			m.sources[user] = pattern
		}
		alternates = append(alternates, pattern)
	}

	for user, jump := range jumps {
		user = strings.TrimSpace(user)
		if user == "" {
			return nil, fmt.Errorf("extra jump with empty user name")
		}
		if _, ok := m.patterns[user]; ok {
			return nil, fmt.Errorf("extra jump user %q collides with a pattern user", user)
		}
		if _, ok := m.patterns[jump.Over]; !ok {
			return nil, fmt.Errorf("extra jump %q jumps over unknown user %q", user, jump.Over)
		}
		if strings.TrimSpace(jump.Destination) == "" {
			return nil, fmt.Errorf("extra jump %q has no destination", user)
		}
		m.jumps[user] = jump
	}

	if len(alternates) > 0 {
		combined, err := regexp.Compile("(" + strings.Join(alternates, "|") + ")")
		if err != nil {
			return nil, fmt.Errorf("compile combined port pattern: %w", err)
		}
		m.combined = combined
	}

	return m, nil
}

// Combined returns the alternation of every configured pattern, or nil
// when no patterns are configured.
func (m *Map) Combined() *regexp.Regexp {
	return m.combined
}

// Users returns every known user, pattern users and extra-jump users
// alike, sorted.
func (m *Map) Users() []string {
	users := make([]string, 0, len(m.patterns)+len(m.jumps))
	for user := range m.patterns {
		users = append(users, user)
	}
	for user := range m.jumps {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// Pattern returns the source pattern that identifies user's ports.
func (m *Map) Pattern(user string) (string, bool) {
	source, ok := m.sources[user]
	return source, ok
}

// Jump returns the extra-jump spec for user, if one is configured.
func (m *Map) Jump(user string) (JumpSpec, bool) {
	jump, ok := m.jumps[user]
	return jump, ok
}

// Resolution carries everything needed to filter ports and build a
// command for one requested user.
type Resolution struct {
	User    string
	Login   string
	Over    string
	pattern *regexp.Regexp
}

func (m *Map) Resolve(user string) (Resolution, error) {
	if jump, ok := m.jumps[user]; ok {
		return Resolution{
			User:    user,
			Login:   jump.Destination,
			Over:    jump.Over,
			pattern: m.patterns[jump.Over],
		}, nil
	}
	if re, ok := m.patterns[user]; ok {
		return Resolution{User: user, Login: user, pattern: re}, nil
	}
	return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownUser, user)
}

// Filter keeps the scanned ports that the resolution's pattern matches
// in full.
func (r Resolution) Filter(ports []string) []string {
	if r.pattern == nil {
		return nil
	}
	out := make([]string, 0, len(ports))
	for _, port := range ports {
		if r.pattern.MatchString(port) {
			out = append(out, port)
		}
	}
	return out
}
