package scheduler

import (
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/picmetahq/picmeta/internal/pkg/cache"
)

const lastRunKey = "scheduler:last_maintenance_day"

// cacheRunLog keeps the last-run day in the cache server so the bookkeeping
// survives process restarts. Failures are logged and treated as "never ran",
// which at worst triggers one extra catch-up pass.
type cacheRunLog struct{}

// NewCacheRunLog returns a RunLog backed by the shared cache server.
func NewCacheRunLog() RunLog {
	return cacheRunLog{}
}

func (cacheRunLog) LastRunDay() string {
	day, err := cache.Get(lastRunKey)
	if err != nil {
		log.Warnf("[Scheduler] Could not read last-run bookkeeping: %v", err)
		return ""
	}
	return day
}

func (cacheRunLog) RecordRunDay(day string) {
	if err := cache.Set(lastRunKey, day, 48*time.Hour); err != nil {
		log.Warnf("[Scheduler] Could not persist last-run bookkeeping: %v", err)
	}
}
