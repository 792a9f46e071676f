package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds all probes together. A probe still running at
// the deadline is reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency (database, redis).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Probe adapts a name and a ping function to HealthProbe.
func Probe(name string, check func(ctx context.Context) error) HealthProbe {
	return funcProbe{name: name, check: check}
}

type funcProbe struct {
	name  string
	check func(ctx context.Context) error
}

func (p funcProbe) Name() string                    { return p.name }
func (p funcProbe) Check(ctx context.Context) error { return p.check(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently. 200 when all pass, 503 when
// any fails or the deadline passes first.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	version := ""
	if s.Config != nil {
		version = s.Config.Build.Version
	}

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Version: version})
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(probes))
		wg      sync.WaitGroup
	)
	for _, probe := range probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("probe panicked: %v", rec)
					}
				}()
				err = p.Check(ctx)
			}()

			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	components := make(map[string]componentStatus, len(probes))
	allHealthy := true
	for _, probe := range probes {
		name := probe.Name()
		err, finished := results[name]
		switch {
		case !finished:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			components[name] = componentStatus{Status: "healthy"}
		}
	}

	resp := healthResponse{Status: "healthy", Version: version, Components: components}
	if !allHealthy {
		resp.Status = "unhealthy"
		JSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}
	JSON(w, r, http.StatusOK, resp)
}
