package reclaim

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/lib/backoff"
	"strings"
)

const (
	DefaultThreads = 8
	DefaultPinMax  = 16
	DefaultLinks   = 2

	// MaxThreads bounds the per-thread tables every engine allocates up front
	MaxThreads = 1 << 12
	// MaxLinks bounds the links per record
	MaxLinks = 16
)

// Config sizes all bounded tables of an engine. It is fixed for the lifetime of the engine.
type Config struct {
	Threads    int              // maximum number of concurrently registered threads
	PinMax     int              // maximum number of distinct records one thread may pin at once
	Links      int              // number of links per record
	RecycleCap int              // capacity of each recycle channel, 0 selects the scan threshold
	Backoff    *backoff.Options // backoff used while a retire list stays full, nil selects the defaults
}

// DefaultConfig returns a config for DefaultThreads threads and records with two links
func DefaultConfig() Config {
	return Config{
		Threads: DefaultThreads,
		PinMax:  DefaultPinMax,
		Links:   DefaultLinks,
	}
}

// Validate checks the config and returns an error wrapping ErrInvalidConfig
func (c Config) Validate() error {
	switch {
	case c.Threads <= 0 || c.Threads > MaxThreads:
		return fmt.Errorf("%w: threads must be in [1, %d], got %d", ErrInvalidConfig, MaxThreads, c.Threads)
	case c.PinMax <= 0:
		return fmt.Errorf("%w: pin max must be positive, got %d", ErrInvalidConfig, c.PinMax)
	case c.Links < 0 || c.Links > MaxLinks:
		return fmt.Errorf("%w: links must be in [0, %d], got %d", ErrInvalidConfig, MaxLinks, c.Links)
	case c.RecycleCap < 0:
		return fmt.Errorf("%w: recycle capacity must not be negative, got %d", ErrInvalidConfig, c.RecycleCap)
	}
	return nil
}

// Thresholds returns the retire list lengths at which a thread starts reclaiming.
// At clean the thread runs one local clean-up and scan. At scan it keeps reclaiming
// until the list is shorter again. The retire list never holds more than scan records.
func (c Config) Thresholds() (clean, scan int) {
	clean = c.Threads * (c.PinMax + c.Links + 1)
	return clean, 2 * clean
}

// RecycleCapacity returns the effective capacity of a recycle channel
func (c Config) RecycleCapacity() int {
	if c.RecycleCap > 0 {
		return c.RecycleCap
	}
	_, scan := c.Thresholds()
	return scan
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	clean, scan := c.Thresholds()

	addSection("Sizing")
	addField("Threads", fmt.Sprintf("%d", c.Threads))
	addField("Pins per Thread", fmt.Sprintf("%d", c.PinMax))
	addField("Links per Record", fmt.Sprintf("%d", c.Links))

	addSection("Reclamation")
	addField("Clean Threshold", fmt.Sprintf("%d", clean))
	addField("Scan Threshold", fmt.Sprintf("%d", scan))
	addField("Recycle Capacity", fmt.Sprintf("%d", c.RecycleCapacity()))

	return sb.String()
}
