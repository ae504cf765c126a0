package tunnel

import (
	"fmt"
	"strconv"
	"strings"
)

// Remote is the intermediary every constructed command jumps through.
type Remote struct {
	Host string
	Port int
}

// ParseRemote parses "host" or "host:port". The SSH port defaults to 22.
func ParseRemote(raw string) (Remote, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Remote{}, fmt.Errorf("remote is required")
	}

	host, portPart, found := strings.Cut(raw, ":")
	if !found {
		return Remote{Host: host, Port: 22}, nil
	}
	if strings.TrimSpace(host) == "" {
		return Remote{}, fmt.Errorf("invalid remote %q", raw)
	}
	port, err := strconv.Atoi(portPart)
	if err != nil || port < 1 || port > 65535 {
		return Remote{}, fmt.Errorf("invalid remote port %q", portPart)
	}
	return Remote{Host: host, Port: port}, nil
}

// JumpAddr renders the remote for -J and scan targets, omitting the
// default port.
func (r Remote) JumpAddr() string {
	if r.Port != 0 && r.Port != 22 {
		return r.Host + ":" + strconv.Itoa(r.Port)
	}
	return r.Host
}

// Endpoint is one resolved tunnel target: which forwarded port on the
// intermediary, who to log in as, and whether an extra hop applies.
type Endpoint struct {
	Remote Remote
	// User is the requested user name. With an extra jump it doubles
	// as the final-hop host alias.
	User string
	// Login is the authenticated identity: the extra jump's
	// destination, otherwise User itself.
	Login string
	// Port is the forwarded port resolved on the intermediary.
	Port string
	// Over names the user whose pattern resolved the port when an
	// extra jump applies; empty otherwise.
	Over string
}

func (e Endpoint) extraJump() bool {
	return e.Over != ""
}

// Command is one fully constructed ssh or rsync invocation.
type Command struct {
	Binary string
	Args   []string
}

// String renders the exact command line, quoting arguments that carry
// whitespace (the rsync -e transport).
func (c *Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Binary)
	for _, arg := range c.Args {
		if strings.ContainsAny(arg, " \t") {
			arg = `"` + arg + `"`
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}
