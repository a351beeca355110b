package scanner

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const _arpSample = `IP address       HW type     Flags       HW address            Mask     Device
192.168.4.10     0x1         0x2         aa:bb:cc:dd:ee:01     *        wlan0
192.168.4.11     0x1         0x0         00:00:00:00:00:00     *        wlan0
192.168.4.12     0x1         0x2         aa-bb-cc-dd-ee-03     *        wlan0
192.168.9.20     0x1         0x2         aa:bb:cc:dd:ee:04     *        eth0
garbage
`

func TestARPTable_Scan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arp")
	require.NoError(t, os.WriteFile(path, []byte(_arpSample), 0o600))

	a := NewARPTable(testLogger(), path)

	found, err := a.Scan(context.Background(), []string{"192.168.4.*"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:03"}, toStrings(found.ToSlice()))

	found, err = a.Scan(context.Background(), []string{"192.168.4.0/24", "192.168.9.20"})
	require.NoError(t, err)
	assert.Equal(t, 3, found.Cardinality())
}

func TestARPTable_Failures(t *testing.T) {
	a := NewARPTable(testLogger(), filepath.Join(t.TempDir(), "missing"))

	_, err := a.Scan(context.Background(), []string{"192.168.4.*"})
	require.ErrorIs(t, err, ErrScanFailed)

	_, err = a.Scan(context.Background(), []string{"not-a-range"})
	require.ErrorIs(t, err, ErrScanFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Scan(ctx, []string{"192.168.4.*"})
	require.ErrorIs(t, err, ErrScanFailed)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		inside  []string
		outside []string
	}{
		{in: "192.168.4.*", inside: []string{"192.168.4.0", "192.168.4.255"}, outside: []string{"192.168.5.1"}},
		{in: "10.0.1-3.10-20", inside: []string{"10.0.2.15"}, outside: []string{"10.0.4.15", "10.0.2.21"}},
		{in: "172.16.0.0/12", inside: []string{"172.31.255.1"}, outside: []string{"172.32.0.1"}},
		{in: "192.168.1.7", inside: []string{"192.168.1.7"}, outside: []string{"192.168.1.8"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, err := ParseRange(tt.in)
			require.NoError(t, err)
			for _, ip := range tt.inside {
				assert.True(t, r.Contains(netip.MustParseAddr(ip)), ip)
			}
			for _, ip := range tt.outside {
				assert.False(t, r.Contains(netip.MustParseAddr(ip)), ip)
			}
		})
	}

	for _, bad := range []string{"", "1.2.3", "1.2.3.300", "1.2.9-3.4", "a.b.c.d"} {
		_, err := ParseRange(bad)
		assert.Error(t, err, bad)
	}
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}
