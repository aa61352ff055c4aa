package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bitechdev/tagstream/pkg/cache"
	"github.com/bitechdev/tagstream/pkg/fanout"
	"github.com/bitechdev/tagstream/pkg/ingest"
	"github.com/bitechdev/tagstream/pkg/logger"
)

type consumerStats interface{ Stats() ingest.Stats }
type dispatcherStats interface{ Stats() fanout.Stats }
type sessionCounter interface{ ConnectionCount() int }
type cacheStats interface {
	Stats(ctx context.Context) (*cache.CacheStats, error)
}

// statsResponse is the body of /api/v1/stats
type statsResponse struct {
	Consumer   ingest.Stats      `json:"consumer"`
	Fanout     fanout.Stats      `json:"fanout"`
	Sessions   int               `json:"sessions"`
	Cache      *cache.CacheStats `json:"cache,omitempty"`
	Uptime     string            `json:"uptime"`
	Subscribed int               `json:"subscribers"`
}

func statsHandler(c consumerStats, d dispatcherStats, s sessionCounter, hc cacheStats, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fs := d.Stats()
		resp := statsResponse{
			Consumer:   c.Stats(),
			Fanout:     fs,
			Sessions:   s.ConnectionCount(),
			Uptime:     time.Since(started).Round(time.Second).String(),
			Subscribed: fs.Subscribers,
		}
		if hc != nil {
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if cs, err := hc.Stats(ctx); err == nil {
				resp.Cache = cs
			} else {
				logger.Debug("[Stats] Cache stats unavailable: %v", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("[Stats] Failed to write response: %v", err)
		}
	}
}
