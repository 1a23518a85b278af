package stress

import (
	"fmt"
	"github.com/ValentinKolb/lfmm/lib/backoff"
	"github.com/ValentinKolb/lfmm/lib/dlist"
	"github.com/ValentinKolb/lfmm/lib/reclaim"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Op is a list operation performed by a worker
type Op int

const (
	OpPushFront Op = iota
	OpPushBack
	OpPopFront
	OpPopBack
	OpInsert
	OpErase
	numOps
)

var opNames = [numOps]string{"push_front", "push_back", "pop_front", "pop_back", "insert", "erase"}

func (o Op) String() string {
	if o < 0 || o >= numOps {
		return "unknown"
	}
	return opNames[o]
}

// adds reports whether a successful o adds a record to the list
func (o Op) adds() bool {
	return o == OpPushFront || o == OpPushBack || o == OpInsert
}

// --------------------------------------------------------------------------
// Mix
// --------------------------------------------------------------------------

// Mix holds the relative weight of each operation
type Mix [numOps]int

// DefaultMix weights all operations equally
func DefaultMix() Mix {
	return Mix{1, 1, 1, 1, 1, 1}
}

// ParseMix parses a comma separated list of op=weight pairs, e.g. "push_back=3,pop_front=1".
// Operations that are not named get weight 0.
func ParseMix(s string) (Mix, error) {
	var m Mix
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, weight, ok := strings.Cut(part, "=")
		if !ok {
			return m, fmt.Errorf("%w: mix entry %q must be op=weight", reclaim.ErrInvalidConfig, part)
		}
		w, err := strconv.Atoi(strings.TrimSpace(weight))
		if err != nil || w < 0 {
			return m, fmt.Errorf("%w: invalid weight %q for %s", reclaim.ErrInvalidConfig, weight, name)
		}
		op, err := parseOp(strings.TrimSpace(name))
		if err != nil {
			return m, err
		}
		m[op] = w
	}
	return m, nil
}

func parseOp(name string) (Op, error) {
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown operation %q", reclaim.ErrInvalidConfig, name)
}

func (m Mix) total() int {
	sum := 0
	for _, w := range m {
		sum += w
	}
	return sum
}

func (m Mix) pick(rng *rand.Rand) Op {
	n := rng.Intn(m.total())
	for i, w := range m {
		if n < w {
			return Op(i)
		}
		n -= w
	}
	return OpPushBack
}

func (m Mix) String() string {
	parts := make([]string, 0, numOps)
	for i, w := range m {
		parts = append(parts, fmt.Sprintf("%s=%d", Op(i), w))
	}
	return strings.Join(parts, ",")
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// Config describes a stress run
type Config struct {
	Engine       reclaim.Implementation
	Threads      int           // number of workers
	OpsPerThread int           // operations per worker, 0 runs until Duration expires
	Duration     time.Duration // run deadline, 0 runs until every worker finished OpsPerThread
	IterMax      int           // iterators per thread, a worker uses one at a time
	Seed         int64         // workload seed, 0 picks a random seed
	Mix          Mix
	Backoff      *backoff.Options
}

// DefaultConfig returns the default scenario: 8 workers with 100 operations each
func DefaultConfig() *Config {
	return &Config{
		Engine:       reclaim.ImplRefCount,
		Threads:      8,
		OpsPerThread: 100,
		IterMax:      dlist.DefaultIterMax,
		Mix:          DefaultMix(),
		Backoff:      backoff.DefaultOptions(),
	}
}

// Validate checks the config
func (c *Config) Validate() error {
	switch {
	case c.Threads <= 0:
		return fmt.Errorf("%w: threads must be positive, got %d", reclaim.ErrInvalidConfig, c.Threads)
	case c.Threads >= reclaim.MaxThreads:
		return fmt.Errorf("%w: threads must be below %d, got %d", reclaim.ErrInvalidConfig, reclaim.MaxThreads, c.Threads)
	case c.OpsPerThread < 0 || c.Duration < 0:
		return fmt.Errorf("%w: ops and duration must not be negative", reclaim.ErrInvalidConfig)
	case c.OpsPerThread == 0 && c.Duration == 0:
		return fmt.Errorf("%w: either ops or duration must be set", reclaim.ErrInvalidConfig)
	case c.IterMax <= 0:
		return fmt.Errorf("%w: iterator max must be positive, got %d", reclaim.ErrInvalidConfig, c.IterMax)
	case c.Mix.total() <= 0:
		return fmt.Errorf("%w: operation mix has no weight", reclaim.ErrInvalidConfig)
	}
	for i, w := range c.Mix {
		if w < 0 {
			return fmt.Errorf("%w: negative weight for %s", reclaim.ErrInvalidConfig, Op(i))
		}
	}
	return nil
}
