// Package health aggregates the readiness of Cubicler's subsystems.
package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cubicler/cubicler/internal/config"
	"github.com/cubicler/cubicler/internal/mcprouter"
)

// ServiceStatus is one subsystem's health detail.
type ServiceStatus struct {
	Status string `json:"status"` // "healthy" or "unhealthy"
	Detail string `json:"detail,omitempty"`
}

// Report is the aggregate health payload.
type Report struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
}

// Healthy reports whether every subsystem checked out.
func (r *Report) Healthy() bool { return r.Status == "healthy" }

// Checker probes the config documents and the MCP router.
type Checker struct {
	loader *config.Loader
	router *mcprouter.Router
}

// NewChecker creates a health checker.
func NewChecker(loader *config.Loader, router *mcprouter.Router) *Checker {
	return &Checker{loader: loader, router: router}
}

// Check probes all subsystems concurrently. It always returns a report;
// failures land in the per-service detail, never in an error.
func (c *Checker) Check(ctx context.Context) *Report {
	var agents, providers, mcp ServiceStatus

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agents = probe(func() error {
			_, err := c.loader.Agents(gctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		providers = probe(func() error {
			_, err := c.loader.Providers(gctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		mcp = probe(func() error {
			_, err := c.router.ToolsList(gctx)
			return err
		})
		return nil
	})
	_ = g.Wait()

	report := &Report{
		Timestamp: time.Now().UTC(),
		Services: map[string]ServiceStatus{
			"agents":    agents,
			"providers": providers,
			"mcp":       mcp,
		},
	}
	report.Status = "healthy"
	for _, s := range report.Services {
		if s.Status != "healthy" {
			report.Status = "unhealthy"
			break
		}
	}
	return report
}

func probe(fn func() error) ServiceStatus {
	if err := fn(); err != nil {
		return ServiceStatus{Status: "unhealthy", Detail: err.Error()}
	}
	return ServiceStatus{Status: "healthy"}
}
