package publish

import (
	"context"
	"time"

	"github.com/WessleyAI/ragset/pkg/natsutil"
)

// DefaultSubject is where DatasetReady events go unless configured otherwise.
const DefaultSubject = "datasets.ready"

// DatasetReady announces a published dataset to downstream fine-tuning jobs.
type DatasetReady struct {
	UID       string    `json:"uid"`
	URL       string    `json:"url"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

// NATSNotifier publishes DatasetReady events.
type NATSNotifier struct {
	conn    natsutil.MsgPublisher
	subject string
}

// NewNATSNotifier returns a notifier on subject, or DefaultSubject if empty.
func NewNATSNotifier(conn natsutil.MsgPublisher, subject string) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSNotifier{conn: conn, subject: subject}
}

// Notify publishes ev.
func (n *NATSNotifier) Notify(ctx context.Context, ev DatasetReady) error {
	return natsutil.Publish(ctx, n.conn, n.subject, ev)
}
