package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"

	"github.com/akshaybadola/simple-ssh-tunnel/internal/config"
	logpkg "github.com/akshaybadola/simple-ssh-tunnel/internal/log"
	"github.com/akshaybadola/simple-ssh-tunnel/internal/resolve"
	"github.com/akshaybadola/simple-ssh-tunnel/internal/scan"
	"github.com/akshaybadola/simple-ssh-tunnel/internal/tunnel"
)

type commandRunner interface {
	Run(ctx context.Context, command *tunnel.Command) (int, error)
}

type scanFunc func(ctx context.Context, remote tunnel.Remote, combined *regexp.Regexp) ([]string, error)

// runtimeDeps lets tests swap the subprocess-facing pieces while the
// pipeline stays intact.
type runtimeDeps struct {
	out      io.Writer
	logger   *slog.Logger
	scan     scanFunc
	selector resolve.Selector
	executor commandRunner
}

func run(ctx context.Context, deps runtimeDeps, opts options) error {
	if deps.out == nil {
		deps.out = os.Stdout
	}

	act, err := parseAction(opts)
	if err != nil {
		return err
	}

	cfg, report, err := config.Load(config.LoadOptions{
		ConfigPath: opts.configPath,
		Flags: config.FlagOverrides{
			Remote:       opts.remote,
			PortRegexMap: opts.portRegexMap,
			ExtraJumps:   opts.extraJumps,
		},
	})
	if err != nil {
		return asExitError(ExitCodeFailure, err)
	}
	if report.FileMissing {
		fmt.Fprintf(deps.out, "no config file at %s, using flags only\n", report.Path)
	}

	logger := deps.logger
	if logger == nil {
		built, closer, err := logpkg.Setup(logpkg.Config{
			Level:     cfg.Logging.Level,
			File:      cfg.Logging.File,
			MaxSizeMB: cfg.Logging.MaxSizeMB,
			MaxFiles:  cfg.Logging.MaxFiles,
		})
		if err != nil {
			return asExitError(ExitCodeFailure, err)
		}
		defer func() { _ = closer() }()
		logger = built
	}

	userMap, err := resolve.NewMap(cfg.Patterns, cfg.ExtraJumps)
	if err != nil {
		return asExitError(ExitCodeFailure, err)
	}

	if opts.listUsers {
		printUsers(deps.out, userMap)
		return nil
	}

	remote, err := tunnel.ParseRemote(cfg.Remote)
	if err != nil {
		return usageErrorf("%v", err)
	}

	if act.kind == actionNone {
		ports := scanPorts(ctx, deps, logger, remote, userMap)
		printListing(deps.out, userMap, ports)
		return nil
	}

	res, err := userMap.Resolve(act.user)
	if err != nil {
		if errors.Is(err, resolve.ErrUnknownUser) {
			fmt.Fprintf(deps.out, "%v\n", err)
			return nil
		}
		return asExitError(ExitCodeFailure, err)
	}

	// Copy through an extra hop is refused before any subprocess runs.
	if (act.kind == actionCopyTo || act.kind == actionCopyFrom) && res.Over != "" {
		return usageErrorf("%v", tunnel.ErrExtraJumpUnsupported)
	}

	ports := scanPorts(ctx, deps, logger, remote, userMap)
	selector := deps.selector
	if selector == nil {
		selector = &resolve.PromptSelector{Out: os.Stderr}
	}
	port, err := resolve.ChoosePort(selector, res, res.Filter(ports))
	if err != nil {
		var notFound *resolve.NotFoundError
		if errors.As(err, &notFound) {
			fmt.Fprintf(deps.out, "%v\n", notFound)
			return nil
		}
		return asExitError(ExitCodeFailure, err)
	}
	logger.Debug("resolved port", "user", act.user, "port", port)

	endpoint := tunnel.Endpoint{
		Remote: remote,
		User:   act.user,
		Login:  res.Login,
		Port:   port,
		Over:   res.Over,
	}
	command, err := buildCommand(act, endpoint)
	if err != nil {
		return asExitError(ExitCodeFailure, err)
	}
	logger.Debug("constructed command", "command", command.String())

	if opts.printOnly {
		fmt.Fprintln(deps.out, command.String())
		return nil
	}

	executor := deps.executor
	if executor == nil {
		executor = tunnel.NewExecutor()
	}
	exitCode, err := executor.Run(ctx, command)
	if err != nil {
		return asExitError(ExitCodeFailure, err)
	}
	if exitCode != 0 {
		fmt.Fprintf(deps.out, "command exited with status %d\n", exitCode)
		return &ExitError{Code: exitCode}
	}
	return nil
}

func buildCommand(act action, endpoint tunnel.Endpoint) (*tunnel.Command, error) {
	builder := &tunnel.Builder{}
	switch act.kind {
	case actionConnect:
		return builder.Connect(endpoint)
	case actionForward:
		return builder.Forward(endpoint, act.localPort, act.remotePort)
	case actionProxy:
		return builder.Proxy(endpoint, act.localPort)
	case actionCopyTo:
		return builder.CopyTo(endpoint, act.src, act.dest, act.excludes)
	case actionCopyFrom:
		return builder.CopyFrom(endpoint, act.src, act.dest, act.excludes)
	default:
		return nil, fmt.Errorf("no action")
	}
}

// scanPorts treats a failed scan the same as one that matched nothing:
// the forwarded ports are simply not there right now.
func scanPorts(ctx context.Context, deps runtimeDeps, logger *slog.Logger, remote tunnel.Remote, userMap *resolve.Map) []string {
	scanFn := deps.scan
	if scanFn == nil {
		scanner := &scan.Scanner{Logger: logger}
		scanFn = scanner.ListPorts
	}
	ports, err := scanFn(ctx, remote, userMap.Combined())
	if err != nil {
		fmt.Fprintf(deps.out, "port scan failed: %v\n", err)
		return nil
	}
	return ports
}

func printListing(out io.Writer, userMap *resolve.Map, ports []string) {
	userColor := color.New(color.FgCyan, color.Bold)
	for _, user := range userMap.Users() {
		res, err := userMap.Resolve(user)
		if err != nil {
			continue
		}
		label := user
		if res.Over != "" {
			label = fmt.Sprintf("%s (over %s)", user, res.Over)
		}
		matches := res.Filter(ports)
		if len(matches) == 0 {
			fmt.Fprintf(out, "%s: (none)\n", userColor.Sprint(label))
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", userColor.Sprint(label), strings.Join(matches, " "))
	}
}

func printUsers(out io.Writer, userMap *resolve.Map) {
	userColor := color.New(color.FgCyan, color.Bold)
	for _, user := range userMap.Users() {
		if jump, ok := userMap.Jump(user); ok {
			fmt.Fprintf(out, "%s: over=%s destination=%s\n", userColor.Sprint(user), jump.Over, jump.Destination)
			continue
		}
		if pattern, ok := userMap.Pattern(user); ok {
			fmt.Fprintf(out, "%s: pattern=%s\n", userColor.Sprint(user), pattern)
		}
	}
}
