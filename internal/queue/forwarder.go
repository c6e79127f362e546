package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"attendance-bridge/internal/attendance"
	"attendance-bridge/internal/protocol"
)

// Publisher delivers messages downstream
type Publisher interface {
	Publish(ctx context.Context, message *Message) error
}

// PunchStore is the part of the database the forwarder needs
type PunchStore interface {
	GetUnpublishedPunches(limit int) ([]attendance.Punch, error)
	MarkPunchesPublished(ids []string) error
	IncrementPunchRetry(ids []string) error
}

// Forwarder moves stored punches to a publisher in batches
type Forwarder struct {
	store     PunchStore
	publisher Publisher
	batchSize int
	logger    logrus.FieldLogger
}

// NewForwarder creates a forwarder publishing batchSize punches at a time
func NewForwarder(store PunchStore, publisher Publisher, batchSize int, logger logrus.FieldLogger) *Forwarder {
	if batchSize <= 0 {
		batchSize = 500
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Forwarder{
		store:     store,
		publisher: publisher,
		batchSize: batchSize,
		logger:    logger.WithField("component", "forwarder"),
	}
}

// Forward publishes pending punches until none are left or a publish
// fails. It returns the number published.
func (f *Forwarder) Forward(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		punches, err := f.store.GetUnpublishedPunches(f.batchSize)
		if err != nil {
			return total, err
		}
		if len(punches) == 0 {
			return total, nil
		}

		var sent []string
		for _, p := range punches {
			if err := f.publisher.Publish(ctx, PunchMessage(p)); err != nil {
				if markErr := f.store.MarkPunchesPublished(sent); markErr != nil {
					return total, markErr
				}
				if retryErr := f.store.IncrementPunchRetry([]string{p.ID}); retryErr != nil {
					f.logger.WithError(retryErr).Warn("Failed to count punch retry")
				}
				return total + len(sent), fmt.Errorf("failed to publish punch %s: %w", p.ID, err)
			}
			sent = append(sent, p.ID)
		}

		if err := f.store.MarkPunchesPublished(sent); err != nil {
			return total, err
		}
		total += len(sent)

		f.logger.WithField("count", len(sent)).Debug("Published punch batch")

		if len(punches) < f.batchSize {
			return total, nil
		}
	}
}

// PunchMessage wraps a punch for the queue
func PunchMessage(p attendance.Punch) *Message {
	return &Message{
		ID:       p.ID,
		Type:     TypePunch,
		DeviceID: p.DeviceID,
		Data: map[string]interface{}{
			"employee_code": p.EmployeeCode,
			"timestamp":     p.Timestamp.Format(time.RFC3339),
			"direction":     protocol.DirectionName(p.Direction),
			"verify_mode":   p.VerifyMode,
		},
	}
}

// SyncMessage reports the outcome of one device sync
func SyncMessage(deviceID string, users, punches int, syncErr error) *Message {
	data := map[string]interface{}{
		"users":   users,
		"punches": punches,
		"success": syncErr == nil,
	}
	if syncErr != nil {
		data["error"] = syncErr.Error()
	}
	return &Message{
		ID:       fmt.Sprintf("sync_%s_%d", deviceID, time.Now().UnixNano()),
		Type:     TypeSyncResult,
		DeviceID: deviceID,
		Data:     data,
	}
}
