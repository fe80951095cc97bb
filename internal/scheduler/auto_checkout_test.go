package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"stayflow/internal/businessday"
	app_errors "stayflow/internal/errors"
	"stayflow/internal/models"
	"stayflow/internal/occupancy"
	"stayflow/internal/retry"
	"stayflow/internal/store"
	"stayflow/internal/utils"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupSchedulerDB creates a unique in-memory database with the full schema
func setupSchedulerDB(t *testing.T) *gorm.DB {
	t.Helper()
	testName := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", testName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt: false,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})

	err = db.AutoMigrate(
		&models.Apartment{},
		&models.Unit{},
		&models.StaffUser{},
		&models.Checkin{},
		&models.ScheduledNotification{},
		&models.PendingNotification{},
		&models.ActivityLog{},
	)
	require.NoError(t, err)
	return db
}

// setupAutoCheckoutTest creates a scheduler wired to a fresh test database
func setupAutoCheckoutTest(t *testing.T) (*AutoCheckoutScheduler, *gorm.DB) {
	t.Helper()
	db := setupSchedulerDB(t)

	memStore := store.NewMemoryStore()
	t.Cleanup(func() { _ = memStore.Close() })

	s := &AutoCheckoutScheduler{
		db:       db,
		machine:  occupancy.NewStateMachine(db),
		calendar: businessday.NewCalculator(12, 7),
		storage:  memStore,
		executor: retry.NewExecutor(3, time.Millisecond, utils.IsTransientDBError),
		interval: time.Minute,
		stopCh:   make(chan struct{}),
	}
	return s, db
}

func createOccupiedUnit(t *testing.T, db *gorm.DB, number string) models.Unit {
	t.Helper()
	unit := models.Unit{ApartmentID: 1, Number: number, Status: models.UnitStatusOccupied}
	require.NoError(t, db.Create(&unit).Error)
	return unit
}

func createCheckin(t *testing.T, db *gorm.DB, unitID uint, status string, checkoutTime time.Time) models.Checkin {
	t.Helper()
	checkin := models.Checkin{UnitID: unitID, Status: status, CheckoutTime: checkoutTime}
	require.NoError(t, db.Create(&checkin).Error)
	return checkin
}

// TestProcessAutoCheckout_ExpiredCheckinCompleted tests the happy path
func TestProcessAutoCheckout_ExpiredCheckinCompleted(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unit := createOccupiedUnit(t, db, "101")
	checkin := createCheckin(t, db, unit.ID, models.CheckinStatusActive, time.Now().UTC().Add(-time.Hour))

	result := s.ProcessAutoCheckout(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.TotalCheckins)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.InDelta(t, 100.0, result.SuccessRate, 0.01)
	require.Len(t, result.ProcessedUnits, 1)
	assert.Equal(t, checkin.ID, result.ProcessedUnits[0].CheckinID)

	var reloadedCheckin models.Checkin
	require.NoError(t, db.First(&reloadedCheckin, checkin.ID).Error)
	assert.Equal(t, models.CheckinStatusCompleted, reloadedCheckin.Status)

	var reloadedUnit models.Unit
	require.NoError(t, db.First(&reloadedUnit, unit.ID).Error)
	assert.Equal(t, models.UnitStatusCleaning, reloadedUnit.Status)

	var auditCount int64
	require.NoError(t, db.Model(&models.ActivityLog{}).
		Where("kind = ?", models.ActivityAutoCheckout).Count(&auditCount).Error)
	assert.Equal(t, int64(1), auditCount)
}

// TestProcessAutoCheckout_Idempotent tests that a second cycle is a no-op
func TestProcessAutoCheckout_Idempotent(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unit := createOccupiedUnit(t, db, "102")
	createCheckin(t, db, unit.ID, models.CheckinStatusActive, time.Now().UTC().Add(-time.Minute))

	first := s.ProcessAutoCheckout(context.Background())
	assert.Equal(t, 1, first.ProcessedCount)

	second := s.ProcessAutoCheckout(context.Background())
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.TotalCheckins)
	assert.Equal(t, 0, second.ProcessedCount)
}

// TestProcessAutoCheckout_NothingDue tests the empty cycle
func TestProcessAutoCheckout_NothingDue(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unit := createOccupiedUnit(t, db, "103")
	createCheckin(t, db, unit.ID, models.CheckinStatusActive, time.Now().UTC().Add(time.Hour))

	result := s.ProcessAutoCheckout(context.Background())
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.TotalCheckins)
	assert.Equal(t, 0.0, result.SuccessRate)
}

// TestProcessAutoCheckout_PartialFailure tests that one bad row does not
// abort the batch
func TestProcessAutoCheckout_PartialFailure(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unit := createOccupiedUnit(t, db, "104")
	good := createCheckin(t, db, unit.ID, models.CheckinStatusActive, time.Now().UTC().Add(-time.Hour))
	// A row with no unit reference cannot be processed
	bad := createCheckin(t, db, 0, models.CheckinStatusActive, time.Now().UTC().Add(-2*time.Hour))

	result := s.ProcessAutoCheckout(context.Background())
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalCheckins)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.InDelta(t, 50.0, result.SuccessRate, 0.01)
	require.Len(t, result.FailedUnits, 1)
	assert.Equal(t, bad.ID, result.FailedUnits[0].CheckinID)
	assert.NotEmpty(t, result.FailedUnits[0].Reason)

	var reloaded models.Checkin
	require.NoError(t, db.First(&reloaded, good.ID).Error)
	assert.Equal(t, models.CheckinStatusCompleted, reloaded.Status)
}

// TestProcessAutoCheckout_UnitAlreadyMoved tests that a stale unit state is a
// warning, not a failure
func TestProcessAutoCheckout_UnitAlreadyMoved(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unit := models.Unit{ApartmentID: 1, Number: "105", Status: models.UnitStatusMaintenance}
	require.NoError(t, db.Create(&unit).Error)
	checkin := createCheckin(t, db, unit.ID, models.CheckinStatusExtended, time.Now().UTC().Add(-time.Minute))

	result := s.ProcessAutoCheckout(context.Background())
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 0, result.FailedCount)

	// Check-in closed even though the unit was not occupied
	var reloadedCheckin models.Checkin
	require.NoError(t, db.First(&reloadedCheckin, checkin.ID).Error)
	assert.Equal(t, models.CheckinStatusCompleted, reloadedCheckin.Status)

	var reloadedUnit models.Unit
	require.NoError(t, db.First(&reloadedUnit, unit.ID).Error)
	assert.Equal(t, models.UnitStatusMaintenance, reloadedUnit.Status)
}

// TestProcessAutoCheckout_ProcessesInCheckoutOrder tests per-cycle ordering
func TestProcessAutoCheckout_ProcessesInCheckoutOrder(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unitA := createOccupiedUnit(t, db, "106")
	unitB := createOccupiedUnit(t, db, "107")
	later := createCheckin(t, db, unitA.ID, models.CheckinStatusActive, time.Now().UTC().Add(-time.Minute))
	earlier := createCheckin(t, db, unitB.ID, models.CheckinStatusActive, time.Now().UTC().Add(-time.Hour))

	result := s.ProcessAutoCheckout(context.Background())
	require.Len(t, result.ProcessedUnits, 2)
	assert.Equal(t, earlier.ID, result.ProcessedUnits[0].CheckinID)
	assert.Equal(t, later.ID, result.ProcessedUnits[1].CheckinID)
}

// TestProcessAutoCheckout_ReconcilesOrphanedUnits tests the repair sweep
func TestProcessAutoCheckout_ReconcilesOrphanedUnits(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	// Unit stuck in occupied while its only check-in already terminal
	unit := createOccupiedUnit(t, db, "108")
	createCheckin(t, db, unit.ID, models.CheckinStatusCompleted, time.Now().UTC().Add(-time.Hour))

	s.ProcessAutoCheckout(context.Background())

	var reloaded models.Unit
	require.NoError(t, db.First(&reloaded, unit.ID).Error)
	assert.Equal(t, models.UnitStatusCleaning, reloaded.Status)

	var auditCount int64
	require.NoError(t, db.Model(&models.ActivityLog{}).
		Where("kind = ?", models.ActivityReconciliation).Count(&auditCount).Error)
	assert.Equal(t, int64(1), auditCount)
}

// TestProcessAutoCheckout_PersistsRunStatus tests the store snapshot
func TestProcessAutoCheckout_PersistsRunStatus(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unit := createOccupiedUnit(t, db, "109")
	createCheckin(t, db, unit.ID, models.CheckinStatusActive, time.Now().UTC().Add(-time.Minute))

	s.ProcessAutoCheckout(context.Background())

	status := s.GetStatus()
	assert.Equal(t, 1, status.ProcessedCount)
	assert.Equal(t, 0, status.FailedCount)
	assert.Equal(t, 1, status.TotalCheckins)
	assert.NotEmpty(t, status.LastRunAt)
	assert.NotEmpty(t, status.NextRunAt)
}

// TestGetUpcomingExpiredCheckins tests the lookahead query
func TestGetUpcomingExpiredCheckins(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unit := createOccupiedUnit(t, db, "110")
	soon := createCheckin(t, db, unit.ID, models.CheckinStatusActive, time.Now().UTC().Add(10*time.Minute))
	createCheckin(t, db, unit.ID, models.CheckinStatusActive, time.Now().UTC().Add(2*time.Hour))
	createCheckin(t, db, unit.ID, models.CheckinStatusCompleted, time.Now().UTC().Add(5*time.Minute))

	upcoming, err := s.GetUpcomingExpiredCheckins(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, soon.ID, upcoming[0].CheckinID)
	assert.Equal(t, 10, upcoming[0].MinutesRemaining)
}

// TestSimulateAutoCheckout tests the operator-triggered single-item run
func TestSimulateAutoCheckout(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unit := createOccupiedUnit(t, db, "111")
	checkin := createCheckin(t, db, unit.ID, models.CheckinStatusActive, time.Now().UTC().Add(time.Hour))

	result, err := s.SimulateAutoCheckout(context.Background(), checkin.ID)
	require.NoError(t, err)
	assert.True(t, result.CheckinTransitioned)
	assert.True(t, result.UnitTransitioned)

	var reloaded models.Checkin
	require.NoError(t, db.First(&reloaded, checkin.ID).Error)
	assert.Equal(t, models.CheckinStatusCompleted, reloaded.Status)
}

// TestSimulateAutoCheckout_TerminalCheckin tests simulation against an
// already-closed check-in
func TestSimulateAutoCheckout_TerminalCheckin(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	unit := createOccupiedUnit(t, db, "112")
	checkin := createCheckin(t, db, unit.ID, models.CheckinStatusCompleted, time.Now().UTC())

	result, err := s.SimulateAutoCheckout(context.Background(), checkin.ID)
	require.NoError(t, err)
	assert.False(t, result.CheckinTransitioned)
	assert.False(t, result.UnitTransitioned)
	assert.Contains(t, result.Message, "already")
}

// TestSimulateAutoCheckout_NotFound tests the missing check-in path
func TestSimulateAutoCheckout_NotFound(t *testing.T) {
	t.Parallel()
	s, _ := setupAutoCheckoutTest(t)

	_, err := s.SimulateAutoCheckout(context.Background(), 9999)
	require.Error(t, err)
	apiErr, ok := err.(*app_errors.APIError)
	require.True(t, ok)
	assert.Equal(t, app_errors.ErrResourceNotFound.Code, apiErr.Code)
}

// TestGetAutoCheckoutStatistics tests aggregation by business date
func TestGetAutoCheckoutStatistics(t *testing.T) {
	t.Parallel()
	s, db := setupAutoCheckoutTest(t)

	checkinA := uint(1)
	checkinB := uint(2)
	// Two entries after cutover on March 10 (UTC+7), one before cutover
	// belonging to March 9
	entries := []models.ActivityLog{
		{ID: "a", Kind: models.ActivityAutoCheckout, CheckinID: &checkinA, CreatedAt: mustParse(t, "2025-03-10T13:00:00+07:00")},
		{ID: "b", Kind: models.ActivityAutoCheckout, CheckinID: &checkinA, CreatedAt: mustParse(t, "2025-03-10T15:00:00+07:00")},
		{ID: "c", Kind: models.ActivityAutoCheckout, CheckinID: &checkinB, CreatedAt: mustParse(t, "2025-03-10T09:00:00+07:00")},
		{ID: "d", Kind: models.ActivityReconciliation, CreatedAt: mustParse(t, "2025-03-10T13:30:00+07:00")},
	}
	for i := range entries {
		require.NoError(t, db.Create(&entries[i]).Error)
	}

	from := mustParse(t, "2025-03-09T00:00:00+07:00")
	to := mustParse(t, "2025-03-11T00:00:00+07:00")
	stats, err := s.GetAutoCheckoutStatistics(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, "2025-03-09", stats[0].Date)
	assert.Equal(t, 1, stats[0].Count)
	assert.Equal(t, 1, stats[0].DistinctCheckins)

	assert.Equal(t, "2025-03-10", stats[1].Date)
	assert.Equal(t, 2, stats[1].Count)
	assert.Equal(t, 1, stats[1].DistinctCheckins)
}

// TestAutoCheckoutScheduler_StartStop tests the lifecycle
func TestAutoCheckoutScheduler_StartStop(t *testing.T) {
	t.Parallel()
	s, _ := setupAutoCheckoutTest(t)

	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}
