package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/picmetahq/picmeta/app/models"
)

// MaintenanceResult reports one reconciliation pass: per-sweep processed
// counts plus any sweep failures. A failed sweep never aborts its siblings.
type MaintenanceResult struct {
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
	Trigger              string    `json:"trigger"`
	ExpiredSubscriptions int       `json:"expired_subscriptions"`
	CollapsedCreditKeys  int       `json:"collapsed_credit_keys"`
	RefreshedFreeKeys    int       `json:"refreshed_free_keys"`
	Errors               []string  `json:"errors,omitempty"`
}

// Succeeded reports whether every sweep completed without error.
func (r *MaintenanceResult) Succeeded() bool {
	return len(r.Errors) == 0
}

// MaintenanceNeeds counts the records each sweep would touch right now,
// without mutating anything. Feeds dashboards and alerting.
type MaintenanceNeeds struct {
	ExpiredSubscriptions   int64 `json:"expired_subscriptions"`
	ExhaustedCreditKeys    int64 `json:"exhausted_credit_keys"`
	FreeKeysNeedingRefresh int64 `json:"free_keys_needing_refresh"`
	Total                  int64 `json:"total"`
}

// RunDailyMaintenance executes the three reconciliation sweeps concurrently.
// Each sweep is independently fallible: failures are logged with context,
// collected into the result, and never crash the process.
func (s *Scheduler) RunDailyMaintenance(trigger string) *MaintenanceResult {
	result := &MaintenanceResult{
		StartedAt: timeNow(),
		Trigger:   trigger,
	}
	log.Infof("[Scheduler] Running daily maintenance (trigger: %s)", trigger)

	var mu sync.Mutex
	var wg sync.WaitGroup
	record := func(name string, set func(int), sweep func() (int, error)) {
		defer wg.Done()
		n, err := sweep()
		mu.Lock()
		defer mu.Unlock()
		set(n)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
		}
	}

	wg.Add(3)
	go record("expire_subscriptions", func(n int) { result.ExpiredSubscriptions = n }, s.sweepExpiredSubscriptions)
	go record("collapse_exhausted_credit", func(n int) { result.CollapsedCreditKeys = n }, s.sweepExhaustedCreditKeys)
	go record("refresh_free_credit", func(n int) { result.RefreshedFreeKeys = n }, s.sweepFreeCreditRefresh)
	wg.Wait()

	result.FinishedAt = timeNow()
	if result.Succeeded() {
		log.Infof("[Scheduler] Maintenance done: %d expired, %d collapsed, %d refreshed",
			result.ExpiredSubscriptions, result.CollapsedCreditKeys, result.RefreshedFreeKeys)
	} else {
		log.Errorf("[Scheduler] Maintenance finished with errors: %v", result.Errors)
	}
	return result
}

// sweepExpiredSubscriptions downgrades active subscription keys whose expiry
// has passed to the default free plan.
func (s *Scheduler) sweepExpiredSubscriptions() (int, error) {
	keys, err := s.keys.FindExpiredSubscriptions(timeNow())
	if err != nil {
		log.Errorf("[Scheduler] Expired-subscription query failed: %v", err)
		return 0, err
	}
	return s.downgradeAll(keys, "expired subscription")
}

// sweepExhaustedCreditKeys downgrades active credit keys with a drained
// balance to the default free plan.
func (s *Scheduler) sweepExhaustedCreditKeys() (int, error) {
	keys, err := s.keys.FindExhaustedCreditKeys()
	if err != nil {
		log.Errorf("[Scheduler] Exhausted-credit query failed: %v", err)
		return 0, err
	}
	return s.downgradeAll(keys, "exhausted credit plan")
}

func (s *Scheduler) downgradeAll(keys []models.AppKey, reason string) (int, error) {
	processed := 0
	var firstErr error
	for i := range keys {
		key := &keys[i]
		key.DowngradeToFree()
		if err := s.keys.Update(key); err != nil {
			log.Errorf("[Scheduler] Downgrade (%s) failed for key %d: %v", reason, key.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		processed++
	}
	return processed, firstErr
}

// sweepFreeCreditRefresh tops up free keys whose last refresh was not today,
// so idle keys stay consistent with the lazily-reconciled hot path.
func (s *Scheduler) sweepFreeCreditRefresh() (int, error) {
	keys, err := s.keys.FindFreeKeysNeedingRefresh(models.Today())
	if err != nil {
		log.Errorf("[Scheduler] Free-refresh query failed: %v", err)
		return 0, err
	}
	processed := 0
	var firstErr error
	for i := range keys {
		key := &keys[i]
		if !key.RefreshCredits() {
			continue
		}
		if err := s.keys.Update(key); err != nil {
			log.Errorf("[Scheduler] Credit refresh failed for key %d: %v", key.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		processed++
	}
	return processed, firstErr
}

// MaintenanceNeedCounts reports how many records each sweep would currently
// touch. Queries only, no writes.
func (s *Scheduler) MaintenanceNeedCounts() (*MaintenanceNeeds, error) {
	expired, err := s.keys.CountExpiredSubscriptions(timeNow())
	if err != nil {
		return nil, err
	}
	exhausted, err := s.keys.CountExhaustedCreditKeys()
	if err != nil {
		return nil, err
	}
	refresh, err := s.keys.CountFreeKeysNeedingRefresh(models.Today())
	if err != nil {
		return nil, err
	}
	return &MaintenanceNeeds{
		ExpiredSubscriptions:   expired,
		ExhaustedCreditKeys:    exhausted,
		FreeKeysNeedingRefresh: refresh,
		Total:                  expired + exhausted + refresh,
	}, nil
}
