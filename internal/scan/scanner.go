package scan

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"

	"github.com/akshaybadola/simple-ssh-tunnel/internal/tunnel"
)

// Runner executes the scan subprocess and returns its stdout.
type Runner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// Scanner lists the listening TCP ports on the intermediary that match
// the combined pattern. One blocking SSH call, no caching.
type Scanner struct {
	SSHBinary string
	Runner    Runner
	Logger    *slog.Logger
}

// ListPorts connects to the remote, runs the socket-status listing and
// returns the distinct pattern matches in lexicographic order. A nil
// combined pattern yields no ports.
func (s *Scanner) ListPorts(ctx context.Context, remote tunnel.Remote, combined *regexp.Regexp) ([]string, error) {
	if combined == nil {
		return nil, nil
	}

	binary := s.SSHBinary
	if binary == "" {
		binary = "ssh"
	}
	runner := s.Runner
	if runner == nil {
		runner = defaultRunner
	}

	args := []string{"-p", strconv.Itoa(remote.Port), remote.Host, "ss", "-tln"}
	if s.Logger != nil {
		s.Logger.Debug("scanning ports", "remote", remote.JumpAddr(), "pattern", combined.String())
	}

	output, err := runner(ctx, binary, args...)
	if err != nil {
		return nil, fmt.Errorf("scan ports on %s: %w", remote.JumpAddr(), err)
	}

	seen := map[string]struct{}{}
	for _, match := range combined.FindAllString(string(output), -1) {
		seen[match] = struct{}{}
	}
	ports := make([]string, 0, len(seen))
	for port := range seen {
		ports = append(ports, port)
	}
	sort.Strings(ports)

	if s.Logger != nil {
		s.Logger.Debug("scan complete", "ports", len(ports))
	}
	return ports, nil
}

// defaultRunner captures stdout and lets the child's stderr through to
// the terminal; an SSH failure diagnoses itself.
func defaultRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}
