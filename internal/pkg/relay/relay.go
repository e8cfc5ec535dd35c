// Package relay implements envelope delivery to room memberships.
//
// Delivery is synchronous and serialized: broadcasts within a room reach
// every recipient in the order the relay processed them. A recipient
// whose transport has gone stale is dropped with the same cleanup as an
// explicit disconnect, exactly once, without aborting delivery to the
// remaining recipients.
package relay

import (
	"sync"

	"lanchat/internal/pkg/registry"
	"lanchat/internal/pkg/session"
	"lanchat/internal/pkg/wire"

	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Relay delivers envelopes to sessions tracked by the registry.
type Relay struct {
	mu  sync.Mutex
	reg *registry.Registry
}

// New creates a Relay over the given registry.
func New(reg *registry.Registry) *Relay {
	return &Relay{reg: reg}
}

// ToRoom delivers the envelope to every current member of the room
// except exclude (if non-nil).
func (r *Relay) ToRoom(env wire.Envelope, room string, exclude *session.Session) {
	r.deliver(env, r.reg.Members(room, exclude))
}

// ToAll delivers the envelope to every connected session, whatever room
// it is in. Used for global state announcements such as the room list.
func (r *Relay) ToAll(env wire.Envelope) {
	r.deliver(env, r.reg.Sessions())
}

func (r *Relay) deliver(env wire.Envelope, targets []*session.Session) {
	var stale []*session.Session
	r.mu.Lock()
	for _, s := range targets {
		if err := s.Send(env); err != nil {
			logger.WithFields(logrus.Fields{
				"session": s.ID,
				"type":    env.Type,
			}).WithError(err).Warn("send failed, dropping session")
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()
	for _, s := range stale {
		r.Drop(s)
	}
}

// Drop deregisters the session, closes its transport and announces the
// departure to the room it vacated. Safe to call multiple times and from
// multiple goroutines; the cleanup runs once.
func (r *Relay) Drop(s *session.Session) {
	s.Teardown(func() {
		room, ok := r.reg.Leave(s)
		_ = s.Close()
		if !ok || s.Name() == "" {
			// Never finished the identity handshake, nothing to announce.
			return
		}
		logger.WithFields(logrus.Fields{
			"session": s.ID,
			"name":    s.Name(),
			"room":    room,
		}).Info("session dropped")
		r.ToRoom(wire.SystemNotice(s.Name()+" left the chat", room), room, nil)
	})
}
