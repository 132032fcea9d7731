package intake

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/voxrelay/pkg/notify"
)

const (
	// CommandDownload is the verb subscribers act on.
	CommandDownload = "download"
	// EventTypePublished labels notifications for newly published artifacts.
	EventTypePublished = "artifact.published"
)

// NotificationEvent is emitted once per successfully published artifact.
type NotificationEvent struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	URL        string    `json:"url"`
	ArtifactID string    `json:"artifact_id"`
	UserID     int64     `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewNotificationEvent builds the download event for a published URL.
func NewNotificationEvent(artifactID, url string, userID int64) NotificationEvent {
	return NotificationEvent{
		ID:         uuid.NewString(),
		Command:    CommandDownload,
		URL:        url,
		ArtifactID: artifactID,
		UserID:     userID,
		CreatedAt:  time.Now().UTC(),
	}
}

// Payload is the wire form subscribers parse: "<command> <url>".
func (e NotificationEvent) Payload() []byte {
	return []byte(e.Command + " " + e.URL)
}

// Message addresses the event to topic.
func (e NotificationEvent) Message(topic string) notify.Message {
	return notify.Message{
		Topic:   topic,
		Key:     e.ArtifactID,
		Payload: e.Payload(),
		Headers: map[string]string{
			"event_id":    e.ID,
			"event_type":  EventTypePublished,
			"artifact_id": e.ArtifactID,
			"user_id":     strconv.FormatInt(e.UserID, 10),
		},
	}
}
