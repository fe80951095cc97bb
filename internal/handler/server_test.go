package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stayflow/internal/businessday"
	"stayflow/internal/handler"
	"stayflow/internal/models"
	"stayflow/internal/notify"
	"stayflow/internal/occupancy"
	"stayflow/internal/router"
	"stayflow/internal/scheduler"
	"stayflow/internal/store"
	"stayflow/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testAuthKey = "test-auth-key-minimum-16-chars"

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfigManager is a canned configuration for handler tests.
type testConfigManager struct{}

func (testConfigManager) GetAuthConfig() types.AuthConfig { return types.AuthConfig{Key: testAuthKey} }
func (testConfigManager) GetCORSConfig() types.CORSConfig {
	return types.CORSConfig{Enabled: false}
}
func (testConfigManager) GetLogConfig() types.LogConfig           { return types.LogConfig{Level: "error"} }
func (testConfigManager) GetDatabaseConfig() types.DatabaseConfig { return types.DatabaseConfig{} }
func (testConfigManager) GetSchedulerConfig() types.SchedulerConfig {
	return types.SchedulerConfig{
		AutoCheckoutIntervalMinutes: 1,
		NotificationIntervalSeconds: 60,
		BusinessDayCutoverHour:      12,
		TimezoneOffsetHours:         7,
		MaxRetryAttempts:            3,
		RetryBaseDelayMS:            1,
		PendingBatchSize:            50,
		PendingMaxRetries:           3,
		UnitAvailableDelayMinutes:   30,
	}
}
func (testConfigManager) GetMessagingConfig() types.MessagingConfig { return types.MessagingConfig{} }
func (testConfigManager) GetEffectiveServerConfig() types.ServerConfig {
	return types.ServerConfig{Host: "127.0.0.1", Port: 3001}
}
func (testConfigManager) GetRedisDSN() string { return "" }
func (testConfigManager) Validate() error     { return nil }
func (testConfigManager) DisplayServerConfig() {}

// setupServerTest builds the full handler stack on a fresh test database
func setupServerTest(t *testing.T) (*gin.Engine, *gorm.DB) {
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

	cfg := testConfigManager{}
	machine := occupancy.NewStateMachine(db)
	calendar := businessday.NewCalculator(12, 7)
	memStore := store.NewMemoryStore()
	t.Cleanup(func() { _ = memStore.Close() })
	messenger := notify.NewPushMessenger(db, cfg)

	server := handler.NewServer(handler.ServerParams{
		DB:            db,
		Storage:       memStore,
		ConfigManager: cfg,
		Calendar:      calendar,
		AutoCheckout:  scheduler.NewAutoCheckoutScheduler(db, machine, calendar, memStore, cfg),
		Notifications: scheduler.NewNotificationDispatcher(db, machine, messenger, cfg),
	})

	return router.NewRouter(server, cfg), db
}

func doRequest(engine *gin.Engine, method, path string, authorized bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testAuthKey)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// TestHealth_NoAuthRequired tests the open health endpoint
func TestHealth_NoAuthRequired(t *testing.T) {
	t.Parallel()
	engine, _ := setupServerTest(t)

	w := doRequest(engine, http.MethodGet, "/health", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

// TestAPI_RequiresAuth tests that the admin API rejects missing keys
func TestAPI_RequiresAuth(t *testing.T) {
	t.Parallel()
	engine, _ := setupServerTest(t)

	w := doRequest(engine, http.MethodGet, "/api/businessday", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(engine, http.MethodGet, "/api/businessday", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestRunAutoCheckout_Endpoint tests the out-of-band trigger
func TestRunAutoCheckout_Endpoint(t *testing.T) {
	t.Parallel()
	engine, db := setupServerTest(t)

	unit := models.Unit{ApartmentID: 1, Number: "301", Status: models.UnitStatusOccupied}
	require.NoError(t, db.Create(&unit).Error)
	checkin := models.Checkin{UnitID: unit.ID, Status: models.CheckinStatusActive, CheckoutTime: time.Now().UTC().Add(-time.Minute)}
	require.NoError(t, db.Create(&checkin).Error)

	w := doRequest(engine, http.MethodPost, "/api/scheduler/auto-checkout/run", true)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Code int                          `json:"code"`
		Data scheduler.AutoCheckoutResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Code)
	assert.Equal(t, 1, body.Data.ProcessedCount)
}

// TestGetUpcoming_Validation tests query validation
func TestGetUpcoming_Validation(t *testing.T) {
	t.Parallel()
	engine, _ := setupServerTest(t)

	w := doRequest(engine, http.MethodGet, "/api/scheduler/auto-checkout/upcoming?minutes=abc", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(engine, http.MethodGet, "/api/scheduler/auto-checkout/upcoming?minutes=15", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestSimulate_NotFound tests the missing check-in path over HTTP
func TestSimulate_NotFound(t *testing.T) {
	t.Parallel()
	engine, _ := setupServerTest(t)

	w := doRequest(engine, http.MethodPost, "/api/scheduler/auto-checkout/simulate/9999", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestBusinessDay_Endpoint tests the window resolution endpoint
func TestBusinessDay_Endpoint(t *testing.T) {
	t.Parallel()
	engine, _ := setupServerTest(t)

	w := doRequest(engine, http.MethodGet, "/api/businessday?at=2025-03-10T04:30:00Z", true)
	require.Equal(t, http.StatusOK, w.Code)
	// 04:30 UTC is 11:30 at UTC+7, before the cutover
	assert.Contains(t, w.Body.String(), "2025-03-09")
}

// TestSchedulerStatus_Endpoint tests the status snapshot endpoint
func TestSchedulerStatus_Endpoint(t *testing.T) {
	t.Parallel()
	engine, _ := setupServerTest(t)

	doRequest(engine, http.MethodPost, "/api/scheduler/auto-checkout/run", true)

	w := doRequest(engine, http.MethodGet, "/api/scheduler/status", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "last_run_at")
}
