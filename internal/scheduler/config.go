package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultScanInterval = 5 * time.Minute
	DefaultScanTimeout  = time.Minute

	// NoForceLogout disables the daily forced logout.
	NoForceLogout = -1
)

// Config is fixed for the lifetime of a Scheduler.
type Config struct {
	ScanInterval   time.Duration
	DebounceWindow time.Duration
	ScanTimeout    time.Duration

	Ranges []string

	// Cycles starting outside these hours are skipped.
	ActiveHours HourRange

	// Hour of day at which every open session is closed, or NoForceLogout.
	ForceLogoutHour int
}

func DefaultConfig() Config {
	return Config{
		ScanInterval:    DefaultScanInterval,
		DebounceWindow:  12 * DefaultScanInterval,
		ScanTimeout:     DefaultScanTimeout,
		ActiveHours:     AllDay,
		ForceLogoutHour: 22,
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.ScanInterval <= 0 {
		errs = append(errs, errors.New("scan interval must be positive"))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, errors.New("scan timeout must be positive"))
	}
	if c.DebounceWindow < 0 {
		errs = append(errs, errors.New("debounce window must not be negative"))
	}
	if len(c.Ranges) == 0 {
		errs = append(errs, errors.New("at least one address range is required"))
	}
	if !c.ActiveHours.valid() {
		errs = append(errs, fmt.Errorf("active hours %s out of range", c.ActiveHours))
	}
	if c.ForceLogoutHour != NoForceLogout && (c.ForceLogoutHour < 0 || c.ForceLogoutHour > 23) {
		errs = append(errs, fmt.Errorf("force logout hour %d out of range", c.ForceLogoutHour))
	}

	if len(errs) > 0 {
		return fmt.Errorf("scheduler: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) clone() Config {
	c.Ranges = append([]string(nil), c.Ranges...)
	return c
}

// HourRange is an inclusive range of hours of the day. From > To wraps past
// midnight.
type HourRange struct {
	From int
	To   int
}

var AllDay = HourRange{From: 0, To: 23}

// ParseHourRange parses "from-to", e.g. "8-22" or "20-6".
func ParseHourRange(s string) (HourRange, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return HourRange{}, fmt.Errorf("scheduler: invalid hour range %q", s)
	}

	var (
		h   HourRange
		err error
	)
	if h.From, err = strconv.Atoi(strings.TrimSpace(from)); err != nil {
		return HourRange{}, fmt.Errorf("scheduler: invalid hour range %q: %w", s, err)
	}
	if h.To, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
		return HourRange{}, fmt.Errorf("scheduler: invalid hour range %q: %w", s, err)
	}
	if !h.valid() {
		return HourRange{}, fmt.Errorf("scheduler: hour range %q out of range", s)
	}

	return h, nil
}

func (h HourRange) Contains(hour int) bool {
	if h.From <= h.To {
		return hour >= h.From && hour <= h.To
	}
	return hour >= h.From || hour <= h.To
}

func (h HourRange) String() string {
	return fmt.Sprintf("%d-%d", h.From, h.To)
}

func (h HourRange) valid() bool {
	return h.From >= 0 && h.From <= 23 && h.To >= 0 && h.To <= 23
}
