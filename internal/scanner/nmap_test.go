package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/protomem/attendance-tracker/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const _nmapSample = `Starting Nmap 7.94 ( https://nmap.org ) at 2024-06-01 10:00 UTC
Nmap scan report for 192.168.4.1
Host is up (0.0020s latency).
MAC Address: AA:BB:CC:DD:EE:01 (Ubiquiti)
Nmap scan report for 192.168.4.23
Host is up (0.031s latency).
MAC Address: aa:bb:cc:dd:ee:02 (Apple)
Nmap scan report for 192.168.4.50
Host is up.
Nmap done: 256 IP addresses (3 hosts up) scanned in 2.51 seconds
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNmap(run CommandRunner) *Nmap {
	n := NewNmap(testLogger(), "")
	n.run = run
	n.lookPath = func(file string) (string, error) { return "/usr/bin/" + file, nil }
	return n
}

func TestParseNmapOutput(t *testing.T) {
	addrs := parseNmapOutput([]byte(_nmapSample))

	assert.Equal(t, []model.HardwareAddr{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"}, addrs)
	assert.Empty(t, parseNmapOutput([]byte("Nmap done: 0 IP addresses")))
}

func TestNmap_ScanUnion(t *testing.T) {
	var calls atomic.Int32
	n := newTestNmap(func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls.Add(1)
		assert.Equal(t, "/usr/bin/nmap", name)
		if !assert.Len(t, args, 3) {
			return nil, errors.New("unexpected arguments")
		}
		assert.Equal(t, []string{"-sn", "-n"}, args[:2])

		if args[2] == "192.168.5.*" {
			return []byte("MAC Address: 00:11:22:33:44:55 (Dell)\n"), nil
		}
		return []byte(_nmapSample), nil
	})

	found, err := n.Scan(context.Background(), []string{"192.168.4.*", "192.168.5.*"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 3, found.Cardinality())
	assert.True(t, found.Contains("00:11:22:33:44:55"))
}

func TestNmap_PartialFailure(t *testing.T) {
	n := newTestNmap(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		if args[2] == "10.0.0.0/24" {
			return nil, errors.New("host unreachable")
		}
		return []byte(_nmapSample), nil
	})

	found, err := n.Scan(context.Background(), []string{"192.168.4.*", "10.0.0.0/24"})
	require.NoError(t, err, "partial results are best effort")
	assert.Equal(t, 2, found.Cardinality())
}

func TestNmap_TotalFailure(t *testing.T) {
	n := newTestNmap(func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	})

	found, err := n.Scan(context.Background(), []string{"192.168.4.*", "192.168.5.*"})
	require.ErrorIs(t, err, ErrScanFailed)
	assert.Nil(t, found)
}

func TestNmap_EmptySuccessIsNotFailure(t *testing.T) {
	n := newTestNmap(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Nmap done: 256 IP addresses (0 hosts up)\n"), nil
	})

	found, err := n.Scan(context.Background(), []string{"192.168.4.*"})
	require.NoError(t, err)
	assert.Zero(t, found.Cardinality())
}

func TestNmap_ToolUnavailable(t *testing.T) {
	n := NewNmap(testLogger(), "")
	n.lookPath = func(string) (string, error) { return "", errors.New("executable file not found in $PATH") }

	_, err := n.Scan(context.Background(), []string{"192.168.4.*"})
	require.ErrorIs(t, err, ErrScanFailed)

	_, err = newTestNmap(nil).Scan(context.Background(), nil)
	require.ErrorIs(t, err, ErrScanFailed)
}
