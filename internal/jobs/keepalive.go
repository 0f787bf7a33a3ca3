package jobs

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/best-technologies/embedded-door-lock/internal/config"
)

// StartKeepAliveJob pings the service's own /health endpoint on an interval.
// Hosting platforms that idle out quiet services stay warm this way.
func StartKeepAliveJob(ctx context.Context, cfg config.Config) {
	if !cfg.KeepAliveEnabled {
		return
	}
	if cfg.KeepAliveBaseURL == "" {
		log.Printf("keep-alive job disabled: base url not configured")
		return
	}
	interval := cfg.KeepAliveInterval
	if interval <= 0 {
		interval = 13 * time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				req, err := http.NewRequestWithContext(tickCtx, http.MethodGet, cfg.KeepAliveBaseURL+"/health", nil)
				if err != nil {
					cancel()
					log.Printf("keep-alive job error: %v", err)
					continue
				}
				resp, err := http.DefaultClient.Do(req)
				cancel()
				if err != nil {
					log.Printf("keep-alive ping failed: %v", err)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					log.Printf("keep-alive ping status %d", resp.StatusCode)
				}
			}
		}
	}()
}
