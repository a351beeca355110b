package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/protomem/attendance-tracker/internal/model"
)

const (
	DefaultARPTablePath = "/proc/net/arp"

	_arpFlagComplete  = 0x2
	_zeroHardwareAddr = "00:00:00:00:00:00"
)

var _ Scanner = (*ARPTable)(nil)

// ARPTable reads the kernel neighbour table instead of probing. It only sees
// devices the host has exchanged traffic with recently.
type ARPTable struct {
	logger   *slog.Logger
	path     string
	readFile func(name string) ([]byte, error)
}

func NewARPTable(logger *slog.Logger, path string) *ARPTable {
	if path == "" {
		path = DefaultARPTablePath
	}
	return &ARPTable{
		logger:   logger.With("module", "scanner", "backend", "arp"),
		path:     path,
		readFile: os.ReadFile,
	}
}

func (a *ARPTable) Scan(ctx context.Context, ranges []string) (mapset.Set[model.HardwareAddr], error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: no address ranges", ErrScanFailed)
	}

	matchers, err := parseRanges(ranges)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	data, err := a.readFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read arp table: %w", ErrScanFailed, err)
	}

	found := mapset.NewSet[model.HardwareAddr]()

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Scan() // header
	for sc.Scan() {
		// IP address, HW type, Flags, HW address, Mask, Device
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}

		flags, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 32)
		if err != nil || flags&_arpFlagComplete == 0 || fields[3] == _zeroHardwareAddr {
			continue
		}

		ip, err := netip.ParseAddr(fields[0])
		if err != nil || !containsAny(matchers, ip) {
			continue
		}

		addr, err := model.ParseHardwareAddr(fields[3])
		if err != nil {
			continue
		}
		found.Add(addr)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read arp table: %w", ErrScanFailed, err)
	}

	a.logger.Debug("read arp table", "countDevices", found.Cardinality())

	return found, nil
}

func containsAny(ranges []Range, ip netip.Addr) bool {
	for _, r := range ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}
