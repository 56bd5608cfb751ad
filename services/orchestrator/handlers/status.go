// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// statusCheckTimeout bounds each readiness probe.
const statusCheckTimeout = 5 * time.Second

// StatusCheck probes one backend for readiness.
type StatusCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HandleStatus serves GET /status.
//
// # Description
//
// Runs every check concurrently, each bounded by a five second timeout.
// Responds 200 {"status": "ok"} when all pass, otherwise 503
// {"status": "degraded"}. Either way "components" maps each check name to
// "ok" or "unavailable"; error details are only logged.
func HandleStatus(checks []StatusCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleStatus")
		defer span.End()

		var mu sync.Mutex
		components := make(map[string]string, len(checks))
		healthy := true

		var g errgroup.Group
		for _, check := range checks {
			g.Go(func() error {
				checkCtx, cancel := context.WithTimeout(ctx, statusCheckTimeout)
				defer cancel()
				err := check.Check(checkCtx)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					slog.Warn("Status check failed", "component", check.Name, "error", err)
					span.RecordError(err)
					components[check.Name] = "unavailable"
					healthy = false
					return nil
				}
				components[check.Name] = "ok"
				return nil
			})
		}
		_ = g.Wait()

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "components": components})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "components": components})
	}
}
