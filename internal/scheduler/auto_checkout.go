// Package scheduler contains the timer-driven jobs that move check-ins and
// units through their life cycle.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"stayflow/internal/businessday"
	app_errors "stayflow/internal/errors"
	"stayflow/internal/models"
	"stayflow/internal/occupancy"
	"stayflow/internal/retry"
	"stayflow/internal/store"
	"stayflow/internal/types"
	"stayflow/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const autoCheckoutStatusKey = "scheduler:auto_checkout_status"

// nonTerminalCheckinStatuses are the statuses eligible for auto checkout.
var nonTerminalCheckinStatuses = []string{models.CheckinStatusActive, models.CheckinStatusExtended}

// ProcessedUnit describes one check-in the scheduler closed.
type ProcessedUnit struct {
	CheckinID    uint      `json:"checkin_id"`
	UnitID       uint      `json:"unit_id"`
	CheckoutTime time.Time `json:"checkout_time"`
	Note         string    `json:"note,omitempty"`
}

// FailedUnit describes one check-in the scheduler could not close.
type FailedUnit struct {
	CheckinID uint   `json:"checkin_id"`
	UnitID    uint   `json:"unit_id"`
	Reason    string `json:"reason"`
}

// AutoCheckoutResult is the aggregate outcome of one scheduler cycle. It is
// returned to both timer-driven and operator-triggered invocations; a cycle
// never surfaces an error any other way.
type AutoCheckoutResult struct {
	Success        bool            `json:"success"`
	Message        string          `json:"message,omitempty"`
	ProcessedCount int             `json:"processed_count"`
	FailedCount    int             `json:"failed_count"`
	TotalCheckins  int             `json:"total_checkins"`
	SuccessRate    float64         `json:"success_rate"`
	ProcessedUnits []ProcessedUnit `json:"processed_units"`
	FailedUnits    []FailedUnit    `json:"failed_units"`
}

// UpcomingCheckin is a check-in whose rental period expires soon.
type UpcomingCheckin struct {
	CheckinID        uint      `json:"checkin_id"`
	UnitID           uint      `json:"unit_id"`
	Status           string    `json:"status"`
	CheckoutTime     time.Time `json:"checkout_time"`
	MinutesRemaining int       `json:"minutes_remaining"`
}

// SimulationResult describes an operator-triggered dry run against one
// check-in.
type SimulationResult struct {
	CheckinID           uint   `json:"checkin_id"`
	UnitID              uint   `json:"unit_id"`
	CheckinTransitioned bool   `json:"checkin_transitioned"`
	UnitTransitioned    bool   `json:"unit_transitioned"`
	Message             string `json:"message"`
}

// DailyStatistic aggregates auto-checkout activity for one business date.
type DailyStatistic struct {
	Date             string `json:"date"`
	Count            int    `json:"count"`
	DistinctCheckins int    `json:"distinct_checkins"`
}

// RunStatus is the store-backed snapshot of the most recent cycle.
type RunStatus struct {
	LastRunAt      string `json:"last_run_at,omitempty"`
	NextRunAt      string `json:"next_run_at,omitempty"`
	ProcessedCount int    `json:"processed_count"`
	FailedCount    int    `json:"failed_count"`
	TotalCheckins  int    `json:"total_checkins"`
}

// AutoCheckoutScheduler closes expired check-ins on a fixed interval. All of
// its writes are conditional, so concurrent replicas and manual triggers are
// safe.
type AutoCheckoutScheduler struct {
	db       *gorm.DB
	machine  *occupancy.StateMachine
	calendar *businessday.Calculator
	storage  store.Store
	executor *retry.Executor
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAutoCheckoutScheduler creates the scheduler from configuration.
func NewAutoCheckoutScheduler(
	db *gorm.DB,
	machine *occupancy.StateMachine,
	calendar *businessday.Calculator,
	storage store.Store,
	configManager types.ConfigManager,
) *AutoCheckoutScheduler {
	cfg := configManager.GetSchedulerConfig()
	return &AutoCheckoutScheduler{
		db:       db,
		machine:  machine,
		calendar: calendar,
		storage:  storage,
		executor: retry.NewExecutor(
			cfg.MaxRetryAttempts,
			time.Duration(cfg.RetryBaseDelayMS)*time.Millisecond,
			utils.IsTransientDBError,
		),
		interval: time.Duration(cfg.AutoCheckoutIntervalMinutes) * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the timer loop.
func (s *AutoCheckoutScheduler) Start() {
	s.wg.Add(1)
	go s.runLoop()
	logrus.Debug("AutoCheckoutScheduler started")
}

// Stop stops the timer loop, letting an in-flight cycle finish within the
// shutdown timeout.
func (s *AutoCheckoutScheduler) Stop(ctx context.Context) {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("AutoCheckoutScheduler stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("AutoCheckoutScheduler stop timed out.")
	}
}

func (s *AutoCheckoutScheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle()

	for {
		select {
		case <-ticker.C:
			s.runCycle()
		case <-s.stopCh:
			return
		}
	}
}

func (s *AutoCheckoutScheduler) runCycle() {
	result := s.ProcessAutoCheckout(context.Background())
	if !result.Success {
		logrus.WithField("message", result.Message).Warn("Auto checkout cycle failed")
		return
	}
	if result.TotalCheckins > 0 {
		logrus.WithFields(logrus.Fields{
			"processed":    result.ProcessedCount,
			"failed":       result.FailedCount,
			"total":        result.TotalCheckins,
			"success_rate": result.SuccessRate,
		}).Info("Auto checkout cycle completed")
	} else {
		logrus.Debug("Auto checkout cycle completed, no expired check-ins")
	}
}

// ProcessAutoCheckout runs one poll-process-commit cycle. It is safe to call
// out-of-band: every mutation is keyed on the expected prior state, so a
// concurrent timer tick results in benign no-ops, not double processing.
func (s *AutoCheckoutScheduler) ProcessAutoCheckout(ctx context.Context) AutoCheckoutResult {
	now := time.Now().UTC()

	expired, err := retry.Execute(ctx, s.executor, func() ([]models.Checkin, error) {
		var rows []models.Checkin
		err := s.db.WithContext(ctx).
			Where("status IN ? AND checkout_time <= ?", nonTerminalCheckinStatuses, now).
			Order("checkout_time ASC").
			Find(&rows).Error
		return rows, err
	})
	if err != nil {
		// A cycle-level failure is reported, never thrown; the next tick
		// retries from scratch.
		logrus.WithError(err).Error("Auto checkout query failed")
		return AutoCheckoutResult{
			Success:        false,
			Message:        "expired check-in query failed: " + err.Error(),
			ProcessedUnits: []ProcessedUnit{},
			FailedUnits:    []FailedUnit{},
		}
	}

	result := AutoCheckoutResult{
		Success:        true,
		TotalCheckins:  len(expired),
		ProcessedUnits: []ProcessedUnit{},
		FailedUnits:    []FailedUnit{},
	}

	for i := range expired {
		checkin := &expired[i]
		if processed, reason := s.processOne(ctx, checkin); reason == "" {
			result.ProcessedUnits = append(result.ProcessedUnits, processed)
		} else {
			result.FailedUnits = append(result.FailedUnits, FailedUnit{
				CheckinID: checkin.ID,
				UnitID:    checkin.UnitID,
				Reason:    reason,
			})
		}
	}

	result.ProcessedCount = len(result.ProcessedUnits)
	result.FailedCount = len(result.FailedUnits)
	result.SuccessRate = successRate(result.ProcessedCount, result.TotalCheckins)

	s.reconcileUnits(ctx)
	s.persistRunStatus(result)

	return result
}

// processOne closes a single expired check-in. A non-empty reason marks the
// item as failed; failures never abort the batch.
func (s *AutoCheckoutScheduler) processOne(ctx context.Context, checkin *models.Checkin) (ProcessedUnit, string) {
	if checkin.ID == 0 {
		return ProcessedUnit{}, "check-in row has no identifier"
	}
	if checkin.UnitID == 0 {
		return ProcessedUnit{}, "check-in has no unit reference"
	}

	res, err := retry.Execute(ctx, s.executor, func() (occupancy.TransitionResult, error) {
		return s.machine.TransitionCheckin(ctx, checkin.ID, checkin.Status, models.CheckinStatusCompleted)
	})
	if err != nil {
		return ProcessedUnit{}, fmt.Sprintf("check-in transition failed: %v", err)
	}

	item := ProcessedUnit{
		CheckinID:    checkin.ID,
		UnitID:       checkin.UnitID,
		CheckoutTime: checkin.CheckoutTime,
	}
	if !res.Applied {
		// Another actor already closed it; the check-in is in the desired
		// state either way.
		logrus.WithField("checkin_id", checkin.ID).Info("Check-in already completed by another actor")
		item.Note = "already completed"
		return item, ""
	}

	// The unit side-effect is best-effort: the check-in is already closed,
	// so a failure here must not fail the item.
	unitRes, err := s.machine.TransitionUnit(ctx, checkin.UnitID, models.UnitStatusOccupied, models.UnitStatusCleaning)
	if err != nil {
		logrus.WithError(err).WithField("unit_id", checkin.UnitID).Warn("Unit transition to cleaning failed")
	} else if !unitRes.Applied {
		logrus.WithField("unit_id", checkin.UnitID).Warn("Unit was not in occupied state, skipping cleaning transition")
	}

	s.appendActivity(ctx, models.ActivityAutoCheckout, checkin.ID, checkin.UnitID,
		fmt.Sprintf("check-in %d auto-completed, unit %d sent to cleaning", checkin.ID, checkin.UnitID))

	return item, ""
}

// reconcileUnits sweeps for units stuck in occupied although their check-in
// already reached a terminal status. The window exists because the unit
// side-effect after a completed check-in is best-effort.
func (s *AutoCheckoutScheduler) reconcileUnits(ctx context.Context) {
	terminal := []string{models.CheckinStatusCompleted, models.CheckinStatusEarlyCheckout}

	var unitIDs []uint
	err := s.db.WithContext(ctx).
		Model(&models.Unit{}).
		Where("status = ?", models.UnitStatusOccupied).
		Where("id NOT IN (?)", s.db.Model(&models.Checkin{}).
			Select("unit_id").
			Where("status IN ?", nonTerminalCheckinStatuses)).
		Where("id IN (?)", s.db.Model(&models.Checkin{}).
			Select("unit_id").
			Where("status IN ?", terminal)).
		Pluck("id", &unitIDs).Error
	if err != nil {
		logrus.WithError(err).Warn("Unit reconciliation query failed")
		return
	}

	for _, unitID := range unitIDs {
		res, err := s.machine.TransitionUnit(ctx, unitID, models.UnitStatusOccupied, models.UnitStatusCleaning)
		if err != nil {
			logrus.WithError(err).WithField("unit_id", unitID).Warn("Unit reconciliation failed")
			continue
		}
		if res.Applied {
			logrus.WithField("unit_id", unitID).Info("Reconciled orphaned occupied unit to cleaning")
			s.appendActivity(ctx, models.ActivityReconciliation, 0, unitID,
				fmt.Sprintf("unit %d reconciled from occupied to cleaning", unitID))
		}
	}
}

// GetUpcomingExpiredCheckins returns check-ins whose rental period ends
// within the next minutesAhead minutes, annotated with the minutes remaining.
func (s *AutoCheckoutScheduler) GetUpcomingExpiredCheckins(ctx context.Context, minutesAhead int) ([]UpcomingCheckin, error) {
	now := time.Now().UTC()
	horizon := now.Add(time.Duration(minutesAhead) * time.Minute)

	var rows []models.Checkin
	err := s.db.WithContext(ctx).
		Where("status IN ? AND checkout_time >= ? AND checkout_time <= ?", nonTerminalCheckinStatuses, now, horizon).
		Order("checkout_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, app_errors.ParseDBError(err)
	}

	upcoming := make([]UpcomingCheckin, 0, len(rows))
	for _, row := range rows {
		remaining := int(math.Ceil(row.CheckoutTime.Sub(now).Minutes()))
		upcoming = append(upcoming, UpcomingCheckin{
			CheckinID:        row.ID,
			UnitID:           row.UnitID,
			Status:           row.Status,
			CheckoutTime:     row.CheckoutTime,
			MinutesRemaining: remaining,
		})
	}
	return upcoming, nil
}

// SimulateAutoCheckout applies the per-item transition steps to one named
// check-in, for operator-triggered testing.
func (s *AutoCheckoutScheduler) SimulateAutoCheckout(ctx context.Context, checkinID uint) (*SimulationResult, error) {
	var checkin models.Checkin
	if err := s.db.WithContext(ctx).First(&checkin, checkinID).Error; err != nil {
		return nil, app_errors.ParseDBError(err)
	}

	result := &SimulationResult{CheckinID: checkin.ID, UnitID: checkin.UnitID}
	if checkin.IsTerminal() {
		result.Message = fmt.Sprintf("check-in %d is already %s", checkin.ID, checkin.Status)
		return result, nil
	}

	res, err := s.machine.TransitionCheckin(ctx, checkin.ID, checkin.Status, models.CheckinStatusCompleted)
	if err != nil {
		return nil, err
	}
	result.CheckinTransitioned = res.Applied

	unitRes, err := s.machine.TransitionUnit(ctx, checkin.UnitID, models.UnitStatusOccupied, models.UnitStatusCleaning)
	if err != nil {
		logrus.WithError(err).WithField("unit_id", checkin.UnitID).Warn("Simulated unit transition failed")
	} else {
		result.UnitTransitioned = unitRes.Applied
	}

	s.appendActivity(ctx, models.ActivitySimulation, checkin.ID, checkin.UnitID,
		fmt.Sprintf("simulated auto checkout for check-in %d", checkin.ID))

	result.Message = fmt.Sprintf("check-in %d completed=%t, unit %d to cleaning=%t",
		checkin.ID, result.CheckinTransitioned, checkin.UnitID, result.UnitTransitioned)
	return result, nil
}

// GetAutoCheckoutStatistics aggregates auto-checkout audit records per
// business date within [from, to].
func (s *AutoCheckoutScheduler) GetAutoCheckoutStatistics(ctx context.Context, from, to time.Time) ([]DailyStatistic, error) {
	var logs []models.ActivityLog
	err := s.db.WithContext(ctx).
		Where("kind = ? AND created_at >= ? AND created_at <= ?", models.ActivityAutoCheckout, from, to).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, app_errors.ParseDBError(err)
	}

	type bucket struct {
		count    int
		checkins map[uint]struct{}
	}
	buckets := make(map[string]*bucket)
	for _, entry := range logs {
		date := s.calendar.BusinessDate(entry.CreatedAt).Format("2006-01-02")
		b, ok := buckets[date]
		if !ok {
			b = &bucket{checkins: make(map[uint]struct{})}
			buckets[date] = b
		}
		b.count++
		if entry.CheckinID != nil {
			b.checkins[*entry.CheckinID] = struct{}{}
		}
	}

	stats := make([]DailyStatistic, 0, len(buckets))
	for date, b := range buckets {
		stats = append(stats, DailyStatistic{
			Date:             date,
			Count:            b.count,
			DistinctCheckins: len(b.checkins),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date < stats[j].Date })
	return stats, nil
}

// GetStatus returns the store-backed snapshot of the most recent cycle.
func (s *AutoCheckoutScheduler) GetStatus() RunStatus {
	data, err := s.storage.Get(autoCheckoutStatusKey)
	if err != nil {
		return RunStatus{}
	}
	var st RunStatus
	if json.Unmarshal(data, &st) != nil {
		return RunStatus{}
	}
	return st
}

func (s *AutoCheckoutScheduler) persistRunStatus(result AutoCheckoutResult) {
	now := time.Now().UTC()
	st := RunStatus{
		LastRunAt:      now.Format(time.RFC3339),
		NextRunAt:      now.Add(s.interval).Format(time.RFC3339),
		ProcessedCount: result.ProcessedCount,
		FailedCount:    result.FailedCount,
		TotalCheckins:  result.TotalCheckins,
	}
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := s.storage.Set(autoCheckoutStatusKey, b, 24*time.Hour); err != nil {
		logrus.WithError(err).Debug("Failed to persist auto checkout run status")
	}
}

// appendActivity writes an audit record; failures are logged and swallowed.
func (s *AutoCheckoutScheduler) appendActivity(ctx context.Context, kind string, checkinID, unitID uint, message string) {
	row := models.ActivityLog{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if checkinID != 0 {
		row.CheckinID = &checkinID
	}
	if unitID != 0 {
		row.UnitID = &unitID
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		logrus.WithError(err).WithField("kind", kind).Warn("Failed to append activity log")
	}
}

// successRate returns processed/total as a percentage rounded to one decimal,
// and 0 when total is zero.
func successRate(processed, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*1000) / 10
}
