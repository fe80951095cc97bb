package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"stayflow/internal/businessday"
	"stayflow/internal/occupancy"
	"stayflow/internal/retry"
	"stayflow/internal/store"
	"stayflow/internal/utils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// setupMockedScheduler builds a scheduler over a sqlmock-backed connection so
// storage failures can be injected.
func setupMockedScheduler(t *testing.T) (*AutoCheckoutScheduler, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

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
	return s, mock
}

// TestProcessAutoCheckout_QueryFailureReported tests that an exhausted retry
// budget yields a failed cycle result instead of a panic or partial state
func TestProcessAutoCheckout_QueryFailureReported(t *testing.T) {
	t.Parallel()
	s, mock := setupMockedScheduler(t)

	transient := errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")
	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT \\* FROM `checkins`").WillReturnError(transient)
	}

	result := s.ProcessAutoCheckout(context.Background())
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "connection refused")
	assert.Equal(t, 0, result.TotalCheckins)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestProcessAutoCheckout_TransientFailureRecovers tests that the retry
// executor absorbs a flaky first attempt
func TestProcessAutoCheckout_TransientFailureRecovers(t *testing.T) {
	t.Parallel()
	s, mock := setupMockedScheduler(t)

	transient := errors.New("read: connection reset by peer")
	mock.ExpectQuery("SELECT \\* FROM `checkins`").WillReturnError(transient)
	mock.ExpectQuery("SELECT \\* FROM `checkins`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "unit_id", "status", "checkout_time"}))
	// Reconciliation sweep runs after the batch
	mock.ExpectQuery("SELECT `id` FROM `units`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	result := s.ProcessAutoCheckout(context.Background())
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.TotalCheckins)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestProcessAutoCheckout_NonTransientQueryFailure tests that fatal errors are
// not retried
func TestProcessAutoCheckout_NonTransientQueryFailure(t *testing.T) {
	t.Parallel()
	s, mock := setupMockedScheduler(t)

	mock.ExpectQuery("SELECT \\* FROM `checkins`").
		WillReturnError(errors.New("Error 1146: Table 'stayflow.checkins' doesn't exist"))

	result := s.ProcessAutoCheckout(context.Background())
	assert.False(t, result.Success)
	assert.NoError(t, mock.ExpectationsWereMet())
}
