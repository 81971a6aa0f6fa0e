package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/picmetahq/picmeta/app/models"
	"github.com/picmetahq/picmeta/app/repository"
)

// timeNow is swapped out by tests that need to control the clock.
var timeNow = time.Now

// RunLog remembers which day maintenance last ran, so a process restart does
// not skip a day and does not re-run a pass that already happened today.
type RunLog interface {
	LastRunDay() string
	RecordRunDay(day string)
}

// Scheduler owns the daily maintenance job plus ad hoc one-time runs. It has
// an explicit lifecycle: construct it, Start it once from bootstrap, Stop it
// on shutdown. Nothing runs at import time.
type Scheduler struct {
	keys   repository.AppKeyRepository
	runLog RunLog

	mu        sync.Mutex
	running   bool
	executing bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	oneTime   map[string]*time.Timer

	lastRun        *time.Time
	lastResult     *MaintenanceResult
	totalRuns      uint64
	successfulRuns uint64
	failedRuns     uint64
}

// New creates a scheduler over the entitlement record repository. The run
// log may be nil, in which case every start performs a catch-up run.
func New(keys repository.AppKeyRepository, runLog RunLog) *Scheduler {
	if runLog == nil {
		runLog = noopRunLog{}
	}
	return &Scheduler{
		keys:    keys,
		runLog:  runLog,
		oneTime: make(map[string]*time.Timer),
	}
}

// Status is the scheduler control-surface snapshot.
type Status struct {
	Running        bool               `json:"running"`
	Executing      bool               `json:"executing"`
	LastRun        *time.Time         `json:"last_run"`
	NextRun        *time.Time         `json:"next_run"`
	TotalRuns      uint64             `json:"total_runs"`
	SuccessfulRuns uint64             `json:"successful_runs"`
	FailedRuns     uint64             `json:"failed_runs"`
	PendingOneTime int                `json:"pending_one_time"`
	LastResult     *MaintenanceResult `json:"last_result,omitempty"`
}

// Start begins the recurring daily job. When the run log shows no run today
// (a long restart crossed a day boundary), one catch-up pass runs eagerly.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	log.Info("[Scheduler] Starting daily maintenance scheduler")

	if s.runLog.LastRunDay() != models.Today() {
		log.Info("[Scheduler] No maintenance recorded for today, running catch-up pass")
		s.runAndRecord("startup-catchup")
	}

	s.wg.Add(1)
	go s.dailyWorker()
}

// Stop cancels the recurring job and all pending one-time runs, then waits
// for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	log.Info("[Scheduler] Stopping...")
	for id, timer := range s.oneTime {
		timer.Stop()
		delete(s.oneTime, id)
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	log.Info("[Scheduler] Stopped")
}

// IsRunning returns whether the scheduler is currently started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) dailyWorker() {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(untilNextMidnight(timeNow()))
		select {
		case <-s.stopCh:
			timer.Stop()
			log.Info("[Scheduler] Daily worker stopping")
			return
		case <-timer.C:
			s.runAndRecord("daily")
		}
	}
}

// untilNextMidnight computes the wait until 00:00 of the next day in the
// configured day-boundary timezone.
func untilNextMidnight(now time.Time) time.Duration {
	loc := models.DayLocation()
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return next.Sub(local)
}

// TriggerNow runs one maintenance pass synchronously (admin trigger).
func (s *Scheduler) TriggerNow() *MaintenanceResult {
	return s.runAndRecord("manual")
}

// ScheduleOneTime registers a single future maintenance run at the given
// time, independent of the recurring daily job. The returned id can cancel
// it; the registration removes itself after firing.
func (s *Scheduler) ScheduleOneTime(at time.Time) (string, error) {
	delay := at.Sub(timeNow())
	if delay <= 0 {
		return "", errors.New("one-time run must be scheduled in the future")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return "", errors.New("scheduler is not running")
	}

	id := uuid.NewString()
	s.oneTime[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.oneTime, id)
		s.mu.Unlock()
		s.runAndRecord("one-time")
	})
	log.Infof("[Scheduler] One-time maintenance %s scheduled for %s", id, at.Format(time.RFC3339))
	return id, nil
}

// CancelOneTime cancels a pending one-time run. Returns false when the id is
// unknown or already fired.
func (s *Scheduler) CancelOneTime(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.oneTime[id]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.oneTime, id)
	return true
}

// Stats returns the scheduler control-surface snapshot.
func (s *Scheduler) Stats() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:        s.running,
		Executing:      s.executing,
		LastRun:        s.lastRun,
		TotalRuns:      s.totalRuns,
		SuccessfulRuns: s.successfulRuns,
		FailedRuns:     s.failedRuns,
		PendingOneTime: len(s.oneTime),
		LastResult:     s.lastResult,
	}
	if s.running {
		next := timeNow().Add(untilNextMidnight(timeNow()))
		st.NextRun = &next
	}
	return st
}

func (s *Scheduler) runAndRecord(trigger string) *MaintenanceResult {
	s.mu.Lock()
	s.executing = true
	s.mu.Unlock()

	result := s.RunDailyMaintenance(trigger)

	s.mu.Lock()
	s.executing = false
	now := result.FinishedAt
	s.lastRun = &now
	s.lastResult = result
	s.totalRuns++
	if result.Succeeded() {
		s.successfulRuns++
	} else {
		s.failedRuns++
	}
	s.mu.Unlock()

	s.runLog.RecordRunDay(models.Today())
	return result
}

type noopRunLog struct{}

func (noopRunLog) LastRunDay() string  { return "" }
func (noopRunLog) RecordRunDay(string) {}
