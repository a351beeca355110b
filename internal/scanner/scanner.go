// Package scanner discovers the hardware addresses currently responding on the
// local network.
package scanner

import (
	"context"
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/protomem/attendance-tracker/internal/model"
)

// ErrScanFailed means no range could be probed at all. It is distinct from a
// successful scan that found nothing.
var ErrScanFailed = errors.New("scan failed")

type Scanner interface {
	// Scan returns the union of the addresses found in every reachable range.
	// Partial failure is not an error; total failure wraps ErrScanFailed.
	Scan(ctx context.Context, ranges []string) (mapset.Set[model.HardwareAddr], error)
}
