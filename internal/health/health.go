// Package health runs readiness probes against backing services.
package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ProbeRunner executes every probe with a shared per-call timeout.
type ProbeRunner struct {
	probes  []Probe
	timeout time.Duration
}

func NewProbeRunner(timeout time.Duration, probes ...Probe) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{probes: probes, timeout: timeout}
}

// Ready reports whether every probe passed, with per-probe detail.
func (pr *ProbeRunner) Ready(ctx context.Context) (bool, []Result) {
	results := make([]Result, 0, len(pr.probes))
	ready := true
	for _, p := range pr.probes {
		pctx, cancel := context.WithTimeout(ctx, pr.timeout)
		err := p.Check(pctx)
		cancel()
		if err != nil {
			ready = false
			results = append(results, Result{Name: p.Name, Status: "down", Error: err.Error()})
			continue
		}
		results = append(results, Result{Name: p.Name, Status: "up"})
	}
	return ready, results
}

// DatabaseProbe pings the underlying sql connection.
func DatabaseProbe(db *gorm.DB) Probe {
	return Probe{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

func RedisProbe(client redis.UniversalClient) Probe {
	return Probe{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
