package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/storage"
)

const defaultDependencyTimeout = 2 * time.Second

type ReadinessCheck func(ctx context.Context) error

type ReadinessChecks map[string]ReadinessCheck

func (c ReadinessChecks) run(ctx context.Context) (map[string]string, bool) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(c))
		ready   = true
	)
	for name, check := range c {
		if check == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := "ok"
			if err := check(ctx); err != nil {
				outcome = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[name] = outcome
			if outcome != "ok" {
				ready = false
			}
		}()
	}
	wg.Wait()
	return results, ready
}

func handleReady(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	timeout := deps.DependencyTimeout
	if timeout <= 0 {
		timeout = defaultDependencyTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	results, ready := deps.Readiness.run(ctx)
	if !ready {
		failed := make([]string, 0, len(results))
		for name, outcome := range results {
			if outcome != "ok" {
				failed = append(failed, name)
			}
		}
		sort.Strings(failed)
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY",
			"not ready: "+strings.Join(failed, ", "), true, map[string]any{"checks": results})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": results})
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

func CheckCatalog(repo healthChecker) ReadinessCheck {
	return func(ctx context.Context) error {
		if repo == nil {
			return errors.New("catalog is not configured")
		}
		return repo.HealthCheck(ctx)
	}
}

func CheckObjectStore(cfg config.Config, store storage.ObjectStore) ReadinessCheck {
	return func(ctx context.Context) error {
		switch {
		case store == nil:
			return errors.New("object store is not configured")
		case cfg.ObjectStore.Endpoint == "":
			return errors.New("object store endpoint is not configured")
		case cfg.ObjectStore.Bucket == "":
			return errors.New("object store bucket is not configured")
		}
		if pinger, ok := store.(storage.Pinger); ok {
			if err := pinger.Ping(ctx); err != nil {
				return fmt.Errorf("ping object store: %w", err)
			}
		}
		return nil
	}
}
