package scan

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akshaybadola/simple-ssh-tunnel/internal/tunnel"
)

const ssOutput = `State  Recv-Q Send-Q Local Address:Port  Peer Address:Port
LISTEN 0      128    127.0.0.1:11221     0.0.0.0:*
LISTEN 0      128    127.0.0.1:11220     0.0.0.0:*
LISTEN 0      128    0.0.0.0:22          0.0.0.0:*
LISTEN 0      128    127.0.0.1:22330     0.0.0.0:*
LISTEN 0      128    127.0.0.1:11220     0.0.0.0:*
`

func TestListPortsExtractsDistinctSortedMatches(t *testing.T) {
	t.Parallel()

	var gotBinary string
	var gotArgs []string
	scanner := &Scanner{
		Runner: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			gotBinary = binary
			gotArgs = args
			return []byte(ssOutput), nil
		},
	}

	combined := regexp.MustCompile(`(1122[0-9]|2233[0-9])`)
	ports, err := scanner.ListPorts(context.Background(), tunnel.Remote{Host: "gw", Port: 22}, combined)
	require.NoError(t, err)
	require.Equal(t, []string{"11220", "11221", "22330"}, ports)
	require.Equal(t, "ssh", gotBinary)
	require.Equal(t, []string{"-p", "22", "gw", "ss", "-tln"}, gotArgs)
}

func TestListPortsIgnoresNonMatchingLines(t *testing.T) {
	t.Parallel()

	scanner := &Scanner{
		Runner: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			return []byte("LISTEN 0 128 0.0.0.0:22 0.0.0.0:*\n"), nil
		},
	}

	ports, err := scanner.ListPorts(context.Background(), tunnel.Remote{Host: "gw", Port: 22}, regexp.MustCompile(`(1122[0-9])`))
	require.NoError(t, err)
	require.Empty(t, ports)
}

func TestListPortsSurfacesRunnerFailure(t *testing.T) {
	t.Parallel()

	scanner := &Scanner{
		Runner: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			return nil, errors.New("connection refused")
		},
	}

	ports, err := scanner.ListPorts(context.Background(), tunnel.Remote{Host: "gw", Port: 22}, regexp.MustCompile(`(1122[0-9])`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "gw")
	require.Empty(t, ports)
}

func TestListPortsNilPatternYieldsNothing(t *testing.T) {
	t.Parallel()

	scanner := &Scanner{
		Runner: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			t.Fatal("runner must not be called without a pattern")
			return nil, nil
		},
	}

	ports, err := scanner.ListPorts(context.Background(), tunnel.Remote{Host: "gw", Port: 22}, nil)
	require.NoError(t, err)
	require.Empty(t, ports)
}

func TestListPortsUsesRemotePort(t *testing.T) {
	t.Parallel()

	var gotArgs []string
	scanner := &Scanner{
		Runner: func(ctx context.Context, binary string, args ...string) ([]byte, error) {
			gotArgs = args
			return nil, nil
		},
	}

	_, err := scanner.ListPorts(context.Background(), tunnel.Remote{Host: "gw", Port: 2222}, regexp.MustCompile(`(1122[0-9])`))
	require.NoError(t, err)
	require.Equal(t, []string{"-p", "2222", "gw", "ss", "-tln"}, gotArgs)
}
