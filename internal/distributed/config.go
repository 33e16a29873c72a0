package distributed

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables that override file configuration, so a launcher
// can start identical processes and vary only the environment.
const (
	EnvRank        = "KILN_RANK"
	EnvWorldSize   = "KILN_WORLD_SIZE"
	EnvCoordinator = "KILN_COORDINATOR"
)

// Config describes one process's place in the group.
type Config struct {
	// WorldSize is the total number of processes. 1 means single process.
	WorldSize int

	// Rank is this process's 0-based rank.
	Rank int

	// Coordinator is the host:port rank 0 listens on and the other ranks
	// dial. Unused when WorldSize is 1.
	Coordinator string

	// DialTimeout bounds how long ranks > 0 keep retrying the coordinator.
	// Zero means 30 seconds.
	DialTimeout time.Duration
}

// WithEnvOverrides returns cfg with KILN_RANK, KILN_WORLD_SIZE and
// KILN_COORDINATOR applied on top of the file values.
func (c Config) WithEnvOverrides() (Config, error) {
	if v := os.Getenv(EnvRank); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("distributed: parse %s=%q: %w", EnvRank, v, err)
		}
		c.Rank = n
	}
	if v := os.Getenv(EnvWorldSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("distributed: parse %s=%q: %w", EnvWorldSize, v, err)
		}
		c.WorldSize = n
	}
	if v := os.Getenv(EnvCoordinator); v != "" {
		c.Coordinator = v
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.WorldSize < 1 {
		return fmt.Errorf("distributed: world size %d, want at least 1", c.WorldSize)
	}
	if c.Rank < 0 || c.Rank >= c.WorldSize {
		return fmt.Errorf("distributed: rank %d outside world of %d", c.Rank, c.WorldSize)
	}
	if c.WorldSize > 1 && c.Coordinator == "" {
		return fmt.Errorf("distributed: world size %d needs a coordinator address", c.WorldSize)
	}
	return nil
}

// New builds the group cfg describes: SingleProcess for a world of one,
// a TCPGroup otherwise.
func New(ctx context.Context, cfg Config) (Group, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WorldSize == 1 {
		return SingleProcess{}, nil
	}
	return NewTCPGroup(ctx, cfg)
}
