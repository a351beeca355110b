package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/protomem/attendance-tracker/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultNmapPath = "nmap"

	_defaultConcurrency = 4
)

var _nmapMACRegex = regexp.MustCompile(`(?m)^MAC Address: ((?:[0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2})`)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

var _ Scanner = (*Nmap)(nil)

// Nmap probes ranges with an nmap ping sweep, one process per range.
type Nmap struct {
	logger      *slog.Logger
	path        string
	concurrency int

	run      CommandRunner
	lookPath func(file string) (string, error)
}

func NewNmap(logger *slog.Logger, path string) *Nmap {
	if path == "" {
		path = DefaultNmapPath
	}
	return &Nmap{
		logger:      logger.With("module", "scanner", "backend", "nmap"),
		path:        path,
		concurrency: _defaultConcurrency,
		run:         execRunner,
		lookPath:    exec.LookPath,
	}
}

func (n *Nmap) Scan(ctx context.Context, ranges []string) (mapset.Set[model.HardwareAddr], error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: no address ranges", ErrScanFailed)
	}

	bin, err := n.lookPath(n.path)
	if err != nil {
		return nil, fmt.Errorf("%w: nmap unavailable: %w", ErrScanFailed, err)
	}

	var (
		found = mapset.NewSet[model.HardwareAddr]()
		mu    sync.Mutex
		errs  []error
	)

	var g errgroup.Group
	g.SetLimit(n.concurrency)
	for _, r := range ranges {
		g.Go(func() error {
			n.logger.Debug("scanning range", "range", r)

			out, err := n.run(ctx, bin, "-sn", "-n", r)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("range %s: %w", r, err))
				mu.Unlock()
				return nil
			}

			addrs := parseNmapOutput(out)
			for _, addr := range addrs {
				found.Add(addr)
			}
			n.logger.Debug("scanned range", "range", r, "countDevices", len(addrs))

			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == len(ranges) {
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, errors.Join(errs...))
	}
	if len(errs) > 0 {
		n.logger.Warn("partial scan", "countFailed", len(errs), "countRanges", len(ranges), "error", errors.Join(errs...))
	}

	return found, nil
}

func parseNmapOutput(out []byte) []model.HardwareAddr {
	matches := _nmapMACRegex.FindAllSubmatch(out, -1)

	addrs := make([]model.HardwareAddr, 0, len(matches))
	for _, match := range matches {
		addr, err := model.ParseHardwareAddr(string(match[1]))
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}

	return addrs
}
