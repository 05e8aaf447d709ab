package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Notification is one transport message.
type Notification struct {
	Channel string
	Payload string
}

// Subscriber is the notification transport capability.
//
// Notifications delivers messages for every channel passed to Listen.
// A nil value signals a reconnect. The channel is closed after Close.
type Subscriber interface {
	Listen(channel string) error
	Notifications() <-chan *Notification
	Close() error
}

// PQSubscriber receives PostgreSQL LISTEN/NOTIFY messages.
type PQSubscriber struct {
	listener *pq.Listener
	out      chan *Notification
}

// NewPQSubscriber opens a reconnecting listener on connInfo. The
// connection is established in the background; reconnect attempts back
// off from minReconnect up to maxReconnect.
func NewPQSubscriber(connInfo string, minReconnect, maxReconnect time.Duration) *PQSubscriber {
	l := pq.NewListener(connInfo, minReconnect, maxReconnect, logListenerEvent)
	s := &PQSubscriber{
		listener: l,
		out:      make(chan *Notification, 64),
	}
	go s.forward()
	return s
}

func (s *PQSubscriber) forward() {
	defer close(s.out)
	for n := range s.listener.Notify {
		if n == nil {
			s.out <- nil
			continue
		}
		s.out <- &Notification{Channel: n.Channel, Payload: n.Extra}
	}
}

// Listen subscribes to channel.
func (s *PQSubscriber) Listen(channel string) error {
	if err := s.listener.Listen(channel); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	slog.Info("listening", "channel", channel)
	return nil
}

// Notifications returns the message stream.
func (s *PQSubscriber) Notifications() <-chan *Notification {
	return s.out
}

// Close stops the listener.
func (s *PQSubscriber) Close() error {
	return s.listener.Close()
}

func logListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		slog.Info("notification transport connected")
	case pq.ListenerEventDisconnected:
		slog.Warn("notification transport disconnected", "error", err)
	case pq.ListenerEventReconnected:
		slog.Info("notification transport reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		slog.Warn("notification transport connection attempt failed", "error", err)
	}
}

// OpenPQ opens a database handle and verifies connectivity. A failure
// here is the one fatal startup error.
func OpenPQ(ctx context.Context, connInfo string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connInfo)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
