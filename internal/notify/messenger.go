// Package notify is the outbound messaging port of the life-cycle engine.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"stayflow/internal/models"
	"stayflow/internal/types"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxResponseBodySize = 1 << 20 // 1 MB limit for gateway responses

// Messenger delivers push messages to staff. SendToUser and SendToAdmins are
// fire-and-forget from the scheduler's perspective: delivery failures are
// queued as pending notifications and logged, never propagated.
type Messenger interface {
	SendToUser(ctx context.Context, userID uint, title, body string, data map[string]any) error
	SendToAdmins(ctx context.Context, title, body string, data map[string]any) error

	// Deliver attempts a single transport-level delivery without queueing on
	// failure. The dispatcher's pending-notification pass uses it so retry
	// bookkeeping stays in one place.
	Deliver(ctx context.Context, recipientID uint, title, body string, data map[string]any) error
}

// PushMessenger posts JSON payloads to an external push gateway. When the
// gateway URL is empty, deliveries succeed as no-ops, which keeps local
// development working without a gateway.
type PushMessenger struct {
	db         *gorm.DB
	client     *http.Client
	gatewayURL string
}

// NewPushMessenger creates a messenger from configuration.
func NewPushMessenger(db *gorm.DB, configManager types.ConfigManager) *PushMessenger {
	cfg := configManager.GetMessagingConfig()
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
		transport.MaxIdleConns = 20
		transport.MaxIdleConnsPerHost = 10
	} else {
		transport = &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
		}
	}

	return &PushMessenger{
		db:         db,
		gatewayURL: cfg.PushGatewayURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// SendToUser delivers to one staff user; on transport failure the message is
// queued as a PendingNotification for the dispatcher's retry pass.
func (m *PushMessenger) SendToUser(ctx context.Context, userID uint, title, body string, data map[string]any) error {
	if err := m.Deliver(ctx, userID, title, body, data); err != nil {
		logrus.WithError(err).WithField("recipient_id", userID).Warn("Push delivery failed, queueing pending notification")
		m.enqueuePending(ctx, userID, title, body, data, err)
	}
	return nil
}

// SendToAdmins fans out to every active admin.
func (m *PushMessenger) SendToAdmins(ctx context.Context, title, body string, data map[string]any) error {
	var admins []models.StaffUser
	err := m.db.WithContext(ctx).
		Where("role = ? AND active = ?", models.RoleAdmin, true).
		Find(&admins).Error
	if err != nil {
		logrus.WithError(err).Warn("Failed to load admin recipients")
		return nil
	}

	for _, admin := range admins {
		if err := m.SendToUser(ctx, admin.ID, title, body, data); err != nil {
			logrus.WithError(err).WithField("recipient_id", admin.ID).Warn("Admin push failed")
		}
	}
	return nil
}

// Deliver performs one transport attempt. It resolves the recipient's device
// token and posts the payload to the gateway.
func (m *PushMessenger) Deliver(ctx context.Context, recipientID uint, title, body string, data map[string]any) error {
	var user models.StaffUser
	if err := m.db.WithContext(ctx).First(&user, recipientID).Error; err != nil {
		return fmt.Errorf("resolve recipient %d: %w", recipientID, err)
	}
	if !user.Active || user.DeviceToken == "" {
		// Recipient opted out or has no registered device; nothing to deliver.
		logrus.WithField("recipient_id", recipientID).Debug("Recipient has no active device token, skipping push")
		return nil
	}

	if m.gatewayURL == "" {
		logrus.WithFields(logrus.Fields{
			"recipient_id": recipientID,
			"title":        title,
		}).Debug("Push gateway not configured, dropping message")
		return nil
	}

	payload := map[string]any{
		"to":    user.DeviceToken,
		"title": title,
		"body":  body,
		"data":  data,
	}
	return m.post(ctx, payload)
}

func (m *PushMessenger) post(ctx context.Context, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.gatewayURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize)); err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned http %d", resp.StatusCode)
	}
	return nil
}

func (m *PushMessenger) enqueuePending(ctx context.Context, recipientID uint, title, body string, data map[string]any, cause error) {
	row := models.PendingNotification{
		RecipientID:  recipientID,
		Title:        title,
		Body:         body,
		Data:         datatypes.JSONMap(data),
		Status:       models.PendingStatusPending,
		ErrorMessage: cause.Error(),
	}
	if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
		logrus.WithError(err).WithField("recipient_id", recipientID).Error("Failed to queue pending notification")
	}
}
