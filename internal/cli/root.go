package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type options struct {
	configPath   string
	remote       string
	connect      string
	forward      string
	copyTo       string
	copyFrom     string
	proxyTo      string
	src          string
	dest         string
	excludes     []string
	printOnly    bool
	portRegexMap string
	extraJumps   string
	listUsers    bool
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	return newRootCommand(runtimeDeps{out: out}, build)
}

func newRootCommand(deps runtimeDeps, build BuildInfo) *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "sst",
		Short: "Tunnel to port-forwarded hosts through an intermediary",
		Long: "sst wraps ssh and rsync to reach systems behind NAT that forward\n" +
			"a local port to an intermediary host. Ports are matched to users\n" +
			"via regex patterns against a live scan of the intermediary.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("unexpected arguments: %s", strings.Join(args, " "))
			}
			return run(cmd.Context(), deps, opts)
		},
	}
	cmd.SetOut(deps.out)
	cmd.SetErr(deps.out)

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file path")
	flags.StringVarP(&opts.remote, "remote", "r", "", "Intermediary host, host or host:port")
	flags.StringVar(&opts.connect, "connect", "", "Connect interactively as USER")
	flags.StringVar(&opts.forward, "forward", "", "Forward spec USER,LOCAL_PORT,REMOTE_PORT")
	flags.StringVar(&opts.copyTo, "copy-to", "", "Copy --src to --dest on USER's host")
	flags.StringVar(&opts.copyFrom, "copy-from", "", "Copy --src from USER's host to --dest")
	flags.StringVar(&opts.proxyTo, "proxy-to", "", "SOCKS proxy spec USER,LOCAL_PORT")
	flags.StringVar(&opts.src, "src", "", "Copy source path")
	flags.StringVar(&opts.dest, "dest", "", "Copy destination path")
	flags.StringSliceVar(&opts.excludes, "exclude", nil, "Copy exclusion pattern (repeatable)")
	flags.BoolVarP(&opts.printOnly, "print-only", "n", false, "Print the command instead of running it")
	flags.StringVar(&opts.portRegexMap, "port-regex-map", "", "Port regex map override, JSON")
	flags.StringVar(&opts.extraJumps, "extra-jumps", "", "Extra jumps override, JSON")
	flags.BoolVar(&opts.listUsers, "list-users", false, "List configured users without scanning")

	cmd.AddCommand(newVersionCommand(deps.out, build))
	cmd.InitDefaultCompletionCmd()
	return cmd
}

func newVersionCommand(out io.Writer, build BuildInfo) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(build)
			}

			_, err := fmt.Fprintf(out, "version=%s commit=%s build_time=%s\n", build.Version, build.Commit, build.BuildTime)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version as JSON")
	return cmd
}

type actionKind int

const (
	actionNone actionKind = iota
	actionConnect
	actionForward
	actionCopyTo
	actionCopyFrom
	actionProxy
)

type action struct {
	kind       actionKind
	user       string
	localPort  int
	remotePort int
	src        string
	dest       string
	excludes   []string
}

// parseAction enforces the one-action-per-invocation rule and decodes
// the compound forward/proxy specs before any port is resolved.
func parseAction(opts options) (action, error) {
	set := 0
	for _, value := range []string{opts.connect, opts.forward, opts.copyTo, opts.copyFrom, opts.proxyTo} {
		if strings.TrimSpace(value) != "" {
			set++
		}
	}
	if set > 1 {
		return action{}, usageErrorf("exactly one of --connect, --forward, --copy-to, --copy-from, --proxy-to may be given")
	}
	if opts.listUsers && set > 0 {
		return action{}, usageErrorf("--list-users cannot be combined with an action flag")
	}

	switch {
	case strings.TrimSpace(opts.connect) != "":
		return action{kind: actionConnect, user: strings.TrimSpace(opts.connect)}, nil

	case strings.TrimSpace(opts.forward) != "":
		parts := strings.Split(opts.forward, ",")
		if len(parts) != 3 {
			return action{}, usageErrorf("--forward wants USER,LOCAL_PORT,REMOTE_PORT, got %q", opts.forward)
		}
		localPort, err := parsePortField(parts[1])
		if err != nil {
			return action{}, usageErrorf("--forward local port: %v", err)
		}
		remotePort, err := parsePortField(parts[2])
		if err != nil {
			return action{}, usageErrorf("--forward remote port: %v", err)
		}
		return action{
			kind:       actionForward,
			user:       strings.TrimSpace(parts[0]),
			localPort:  localPort,
			remotePort: remotePort,
		}, nil

	case strings.TrimSpace(opts.copyTo) != "", strings.TrimSpace(opts.copyFrom) != "":
		kind := actionCopyTo
		user := strings.TrimSpace(opts.copyTo)
		if user == "" {
			kind = actionCopyFrom
			user = strings.TrimSpace(opts.copyFrom)
		}
		if strings.TrimSpace(opts.src) == "" {
			return action{}, usageErrorf("copy modes require --src")
		}
		if strings.TrimSpace(opts.dest) == "" {
			return action{}, usageErrorf("copy modes require --dest")
		}
		return action{
			kind:     kind,
			user:     user,
			src:      opts.src,
			dest:     opts.dest,
			excludes: opts.excludes,
		}, nil

	case strings.TrimSpace(opts.proxyTo) != "":
		parts := strings.Split(opts.proxyTo, ",")
		if len(parts) != 2 {
			return action{}, usageErrorf("--proxy-to wants USER,LOCAL_PORT, got %q", opts.proxyTo)
		}
		localPort, err := parsePortField(parts[1])
		if err != nil {
			return action{}, usageErrorf("--proxy-to local port: %v", err)
		}
		return action{
			kind:      actionProxy,
			user:      strings.TrimSpace(parts[0]),
			localPort: localPort,
		}, nil
	}

	return action{kind: actionNone}, nil
}

func parsePortField(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("out of range: %d", port)
	}
	return port, nil
}
