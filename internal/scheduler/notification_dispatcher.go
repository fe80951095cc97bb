package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stayflow/internal/models"
	"stayflow/internal/notify"
	"stayflow/internal/occupancy"
	"stayflow/internal/retry"
	"stayflow/internal/types"
	"stayflow/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DispatchResult is the aggregate outcome of one dispatcher cycle.
type DispatchResult struct {
	DueTotal       int `json:"due_total"`
	DueDispatched  int `json:"due_dispatched"`
	DueSkipped     int `json:"due_skipped"`
	DueFailed      int `json:"due_failed"`
	PendingTotal   int `json:"pending_total"`
	PendingSent    int `json:"pending_sent"`
	PendingRetried int `json:"pending_retried"`
}

// NotificationDispatcher polls scheduled notifications, delivers them through
// the messaging port and performs the state transitions certain notification
// kinds carry. A second pass drains the pending-notification transport queue.
type NotificationDispatcher struct {
	db               *gorm.DB
	machine          *occupancy.StateMachine
	messenger        notify.Messenger
	executor         *retry.Executor
	interval         time.Duration
	pendingBatchSize int
	pendingMaxRetry  int
	availableDelay   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNotificationDispatcher creates the dispatcher from configuration.
func NewNotificationDispatcher(
	db *gorm.DB,
	machine *occupancy.StateMachine,
	messenger notify.Messenger,
	configManager types.ConfigManager,
) *NotificationDispatcher {
	cfg := configManager.GetSchedulerConfig()
	return &NotificationDispatcher{
		db:        db,
		machine:   machine,
		messenger: messenger,
		executor: retry.NewExecutor(
			cfg.MaxRetryAttempts,
			time.Duration(cfg.RetryBaseDelayMS)*time.Millisecond,
			utils.IsTransientDBError,
		),
		interval:         time.Duration(cfg.NotificationIntervalSeconds) * time.Second,
		pendingBatchSize: cfg.PendingBatchSize,
		pendingMaxRetry:  cfg.PendingMaxRetries,
		availableDelay:   time.Duration(cfg.UnitAvailableDelayMinutes) * time.Minute,
		stopCh:           make(chan struct{}),
	}
}

// Start begins the timer loop.
func (d *NotificationDispatcher) Start() {
	d.wg.Add(1)
	go d.runLoop()
	logrus.Debug("NotificationDispatcher started")
}

// Stop stops the timer loop, letting an in-flight cycle finish within the
// shutdown timeout.
func (d *NotificationDispatcher) Stop(ctx context.Context) {
	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("NotificationDispatcher stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("NotificationDispatcher stop timed out.")
	}
}

func (d *NotificationDispatcher) runLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result := d.ProcessScheduledNotifications(context.Background())
			if result.DueTotal > 0 || result.PendingTotal > 0 {
				logrus.WithFields(logrus.Fields{
					"due_dispatched": result.DueDispatched,
					"due_skipped":    result.DueSkipped,
					"due_failed":     result.DueFailed,
					"pending_sent":   result.PendingSent,
				}).Info("Notification cycle completed")
			}
		case <-d.stopCh:
			return
		}
	}
}

// ProcessScheduledNotifications runs one dispatcher cycle. Like the auto
// checkout cycle it is safe out-of-band: the is_sent flag and the state
// machine preconditions make duplicate invocations benign.
func (d *NotificationDispatcher) ProcessScheduledNotifications(ctx context.Context) DispatchResult {
	var result DispatchResult
	d.processDue(ctx, &result)
	d.processPending(ctx, &result)
	return result
}

func (d *NotificationDispatcher) processDue(ctx context.Context, result *DispatchResult) {
	now := time.Now().UTC()

	due, err := retry.Execute(ctx, d.executor, func() ([]models.ScheduledNotification, error) {
		var rows []models.ScheduledNotification
		err := d.db.WithContext(ctx).
			Where("is_sent = ? AND scheduled_time <= ?", false, now).
			Order("scheduled_time ASC").
			Find(&rows).Error
		return rows, err
	})
	if err != nil {
		logrus.WithError(err).Error("Due notification query failed")
		return
	}

	result.DueTotal = len(due)
	for i := range due {
		notification := &due[i]
		dispatched, err := d.dispatchOne(ctx, notification)
		if err != nil {
			// The row stays unsent and is retried next cycle.
			result.DueFailed++
			logrus.WithError(err).WithFields(logrus.Fields{
				"notification_id": notification.ID,
				"type":            notification.Type,
			}).Error("Notification dispatch failed")
			continue
		}
		if dispatched {
			result.DueDispatched++
		} else {
			result.DueSkipped++
		}
	}
}

// dispatchOne handles a single due notification. It returns true when the
// notification was delivered, false when it was skipped as stale. Either way
// the row is marked sent unless an error is returned.
func (d *NotificationDispatcher) dispatchOne(ctx context.Context, notification *models.ScheduledNotification) (bool, error) {
	var checkin models.Checkin
	err := d.db.WithContext(ctx).First(&checkin, notification.CheckinID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logrus.WithField("notification_id", notification.ID).Info("Check-in no longer exists, retiring notification")
		return false, d.markSent(ctx, notification)
	}
	if err != nil {
		return false, err
	}

	if checkin.IsTerminal() {
		logrus.WithFields(logrus.Fields{
			"notification_id": notification.ID,
			"checkin_id":      checkin.ID,
			"status":          checkin.Status,
		}).Info("Check-in already terminal, retiring notification")
		return false, d.markSent(ctx, notification)
	}

	switch notification.Type {
	case models.NotificationCheckoutReminder:
		if err := d.handleCheckoutReminder(ctx, notification, &checkin); err != nil {
			return false, err
		}
	case models.NotificationCheckoutTime:
		if err := d.handleCheckoutTime(ctx, notification, &checkin); err != nil {
			return false, err
		}
	case models.NotificationCleaningTime:
		if err := d.handleCleaningTime(ctx, notification, &checkin); err != nil {
			return false, err
		}
	case models.NotificationUnitAvailable:
		if err := d.handleUnitAvailable(ctx, notification, &checkin); err != nil {
			return false, err
		}
	default:
		logrus.WithFields(logrus.Fields{
			"notification_id": notification.ID,
			"type":            notification.Type,
		}).Warn("Unknown notification type, retiring notification")
		return false, d.markSent(ctx, notification)
	}

	return true, d.markSent(ctx, notification)
}

// handleCheckoutReminder notifies the assigned field team and the admins that
// checkout is near. No state transition is involved.
func (d *NotificationDispatcher) handleCheckoutReminder(ctx context.Context, notification *models.ScheduledNotification, checkin *models.Checkin) error {
	data := d.payloadData(notification, checkin)
	if checkin.FieldTeamID != nil {
		if err := d.messenger.SendToUser(ctx, *checkin.FieldTeamID, notification.Title, notification.Body, data); err != nil {
			return err
		}
	}
	if err := d.messenger.SendToAdmins(ctx, notification.Title, notification.Body, data); err != nil {
		return err
	}

	// The marker moves null -> timestamp exactly once.
	res := d.db.WithContext(ctx).
		Model(&models.Checkin{}).
		Where("id = ? AND reminder_30min_sent_at IS NULL", checkin.ID).
		Update("reminder_30min_sent_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	return nil
}

// handleCheckoutTime notifies recipients that the rental period is over, then
// closes the check-in and sends the unit to cleaning, both conditionally.
func (d *NotificationDispatcher) handleCheckoutTime(ctx context.Context, notification *models.ScheduledNotification, checkin *models.Checkin) error {
	data := d.payloadData(notification, checkin)
	if checkin.FieldTeamID != nil {
		if err := d.messenger.SendToUser(ctx, *checkin.FieldTeamID, notification.Title, notification.Body, data); err != nil {
			return err
		}
	}
	if err := d.messenger.SendToAdmins(ctx, notification.Title, notification.Body, data); err != nil {
		return err
	}

	res, err := d.machine.TransitionCheckin(ctx, checkin.ID, models.CheckinStatusActive, models.CheckinStatusCompleted)
	if err != nil {
		return err
	}
	if res.Applied {
		unitRes, err := d.machine.TransitionUnit(ctx, checkin.UnitID, models.UnitStatusOccupied, models.UnitStatusCleaning)
		if err != nil {
			logrus.WithError(err).WithField("unit_id", checkin.UnitID).Warn("Unit transition to cleaning failed")
		} else if !unitRes.Applied {
			logrus.WithField("unit_id", checkin.UnitID).Warn("Unit state already changed, skipping cleaning transition")
		}
	}

	updateRes := d.db.WithContext(ctx).
		Model(&models.Checkin{}).
		Where("id = ? AND overdue_notified_at IS NULL", checkin.ID).
		Update("overdue_notified_at", time.Now().UTC())
	return updateRes.Error
}

// handleCleaningTime notifies the admins and chains the next milestone: one
// unit_available notification scheduled after the cleaning delay.
func (d *NotificationDispatcher) handleCleaningTime(ctx context.Context, notification *models.ScheduledNotification, checkin *models.Checkin) error {
	data := d.payloadData(notification, checkin)
	if err := d.messenger.SendToAdmins(ctx, notification.Title, notification.Body, data); err != nil {
		return err
	}

	next := models.ScheduledNotification{
		CheckinID:     checkin.ID,
		Type:          models.NotificationUnitAvailable,
		ScheduledTime: time.Now().UTC().Add(d.availableDelay),
		Title:         "Unit available",
		Body:          fmt.Sprintf("Unit %d should be clean and ready for the next guest.", checkin.UnitID),
		Data:          notification.Data,
	}
	return d.db.WithContext(ctx).Create(&next).Error
}

// handleUnitAvailable returns the unit to the available pool and notifies the
// admins.
func (d *NotificationDispatcher) handleUnitAvailable(ctx context.Context, notification *models.ScheduledNotification, checkin *models.Checkin) error {
	res, err := d.machine.TransitionUnit(ctx, checkin.UnitID, models.UnitStatusCleaning, models.UnitStatusAvailable)
	if err != nil {
		return err
	}
	if !res.Applied {
		logrus.WithField("unit_id", checkin.UnitID).Warn("Unit was not in cleaning state, skipping available transition")
	}

	return d.messenger.SendToAdmins(ctx, notification.Title, notification.Body, d.payloadData(notification, checkin))
}

// markSent flips the one-way is_sent flag. The is_sent=false precondition
// keeps a racing replica from double-counting the same row.
func (d *NotificationDispatcher) markSent(ctx context.Context, notification *models.ScheduledNotification) error {
	now := time.Now().UTC()
	return d.db.WithContext(ctx).
		Model(&models.ScheduledNotification{}).
		Where("id = ? AND is_sent = ?", notification.ID, false).
		Updates(map[string]any{"is_sent": true, "sent_at": now}).Error
}

func (d *NotificationDispatcher) payloadData(notification *models.ScheduledNotification, checkin *models.Checkin) map[string]any {
	data := map[string]any{
		"notification_type": notification.Type,
		"checkin_id":        checkin.ID,
		"unit_id":           checkin.UnitID,
	}
	for k, v := range notification.Data {
		data[k] = v
	}
	return data
}

// processPending drains one batch of the transport-level retry queue. Rows
// that exhaust their retry budget stay pending but fall out of the batch
// filter, leaving them visible to operators instead of retrying forever.
func (d *NotificationDispatcher) processPending(ctx context.Context, result *DispatchResult) {
	var pending []models.PendingNotification
	err := d.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", models.PendingStatusPending, d.pendingMaxRetry).
		Order("created_at ASC").
		Limit(d.pendingBatchSize).
		Find(&pending).Error
	if err != nil {
		logrus.WithError(err).Error("Pending notification query failed")
		return
	}

	result.PendingTotal = len(pending)
	for i := range pending {
		row := &pending[i]
		if err := d.messenger.Deliver(ctx, row.RecipientID, row.Title, row.Body, row.Data); err != nil {
			result.PendingRetried++
			updateErr := d.db.WithContext(ctx).
				Model(&models.PendingNotification{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{
					"retry_count":   gorm.Expr("retry_count + 1"),
					"error_message": err.Error(),
				}).Error
			if updateErr != nil {
				logrus.WithError(updateErr).WithField("pending_id", row.ID).Error("Failed to record pending retry")
			}
			continue
		}

		now := time.Now().UTC()
		updateErr := d.db.WithContext(ctx).
			Model(&models.PendingNotification{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"status": models.PendingStatusSent, "sent_at": now}).Error
		if updateErr != nil {
			logrus.WithError(updateErr).WithField("pending_id", row.ID).Error("Failed to mark pending notification sent")
			continue
		}
		result.PendingSent++
	}
}
