package tunnel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrExtraJumpUnsupported rejects copy modes through an extra hop;
// rsync has no second -J leg to hang the transfer on.
var ErrExtraJumpUnsupported = errors.New("extra jump is not supported for copy modes")

type Builder struct {
	SSHBinary   string
	RsyncBinary string
}

func (b *Builder) ssh() string {
	if b.SSHBinary != "" {
		return b.SSHBinary
	}
	return "ssh"
}

func (b *Builder) rsync() string {
	if b.RsyncBinary != "" {
		return b.RsyncBinary
	}
	return "rsync"
}

// Connect builds the interactive session command. Without an extra
// jump the target is the forwarded port on the intermediary's
// localhost; with one, the forwarded port becomes a second -J leg and
// the user name addresses the final hop.
func (b *Builder) Connect(e Endpoint) (*Command, error) {
	return b.session(e, nil)
}

// Forward is Connect plus a local forward. The login shell stays open
// so the forward survives until the operator exits.
func (b *Builder) Forward(e Endpoint, localPort, remotePort int) (*Command, error) {
	if err := validatePort(localPort); err != nil {
		return nil, err
	}
	if err := validatePort(remotePort); err != nil {
		return nil, err
	}
	spec := fmt.Sprintf("%d:localhost:%d", localPort, remotePort)
	return b.session(e, []string{"-L", spec})
}

// Proxy opens a dynamic SOCKS listener on every local interface, with
// no remote command.
func (b *Builder) Proxy(e Endpoint, localPort int) (*Command, error) {
	if err := validatePort(localPort); err != nil {
		return nil, err
	}
	spec := "0.0.0.0:" + strconv.Itoa(localPort)
	return b.session(e, []string{"-D", spec, "-N"})
}

// CopyTo pushes src to dest on the tunneled host.
func (b *Builder) CopyTo(e Endpoint, src, dest string, excludes []string) (*Command, error) {
	return b.copy(e, src, dest, excludes, false)
}

// CopyFrom pulls src from the tunneled host into dest.
func (b *Builder) CopyFrom(e Endpoint, src, dest string, excludes []string) (*Command, error) {
	return b.copy(e, src, dest, excludes, true)
}

func (b *Builder) session(e Endpoint, extras []string) (*Command, error) {
	if err := validateEndpoint(e); err != nil {
		return nil, err
	}

	var args []string
	if e.extraJump() {
		chain := e.Remote.JumpAddr() + "," + e.Login + "@localhost:" + e.Port
		args = append(args, "-J", chain)
		args = append(args, extras...)
		args = append(args, e.Login+"@"+e.User)
	} else {
		args = append(args, "-p", e.Port, "-J", e.Remote.JumpAddr())
		args = append(args, extras...)
		args = append(args, e.Login+"@localhost")
	}

	return &Command{Binary: b.ssh(), Args: args}, nil
}

func (b *Builder) copy(e Endpoint, src, dest string, excludes []string, pull bool) (*Command, error) {
	if err := validateEndpoint(e); err != nil {
		return nil, err
	}
	if e.extraJump() {
		return nil, ErrExtraJumpUnsupported
	}
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("copy: src is required")
	}
	if strings.TrimSpace(dest) == "" {
		return nil, fmt.Errorf("copy: dest is required")
	}

	args := []string{"-avzhP"}
	for _, exclude := range excludes {
		args = append(args, "--exclude="+exclude)
	}
	transport := fmt.Sprintf("%s -J %s -p %s", b.ssh(), e.Remote.JumpAddr(), e.Port)
	args = append(args, "-e", transport)

	if pull {
		args = append(args, e.Login+"@localhost:"+src, dest)
	} else {
		args = append(args, src, e.Login+"@localhost:"+dest)
	}

	return &Command{Binary: b.rsync(), Args: args}, nil
}

func validateEndpoint(e Endpoint) error {
	if strings.TrimSpace(e.Remote.Host) == "" {
		return fmt.Errorf("build command: remote host is required")
	}
	if strings.TrimSpace(e.Login) == "" {
		return fmt.Errorf("build command: login user is required")
	}
	if _, err := strconv.Atoi(e.Port); err != nil {
		return fmt.Errorf("build command: invalid port %q", e.Port)
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port out of range: %d", port)
	}
	return nil
}
