package handler

import (
	"context"
	"net"
	"time"

	"lanchat/internal/pkg/log"
	"lanchat/internal/pkg/registry"
	"lanchat/internal/pkg/relay"
	"lanchat/internal/pkg/session"
	"lanchat/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// DefaultHandshakeTimeout bounds how long a connection may sit in the
// awaiting-identity state before it is closed.
const DefaultHandshakeTimeout = 10 * time.Second

// Handler drives the per-connection session state machine:
// awaiting-identity, active, closed.
type Handler struct {
	reg              *registry.Registry
	relay            *relay.Relay
	handshakeTimeout time.Duration

	// rate limiting of inbound messages; zero limit disables it
	limit rate.Limit
	burst int
}

// Cfg configures a Handler.
type Cfg func(*Handler) error

// WithRegistry sets the room registry.
func WithRegistry(reg *registry.Registry) Cfg {
	return func(h *Handler) error {
		h.reg = reg
		return nil
	}
}

// WithRelay sets the broadcast relay.
func WithRelay(r *relay.Relay) Cfg {
	return func(h *Handler) error {
		h.relay = r
		return nil
	}
}

// WithHandshakeTimeout overrides the identity handshake timeout.
func WithHandshakeTimeout(d time.Duration) Cfg {
	return func(h *Handler) error {
		if d <= 0 {
			return errors.Errorf("invalid handshake timeout (%v)", d)
		}
		h.handshakeTimeout = d
		return nil
	}
}

// WithRateLimit caps inbound messages per session to perSecond with the
// given burst. Messages over the limit are discarded, not fatal.
func WithRateLimit(perSecond float64, burst int) Cfg {
	return func(h *Handler) error {
		if perSecond < 0 || burst < 0 {
			return errors.Errorf("invalid rate limit (%v/%d)", perSecond, burst)
		}
		h.limit = rate.Limit(perSecond)
		h.burst = burst
		return nil
	}
}

// NewHandler creates a Handler with the given configuration.
func NewHandler(cfgs ...Cfg) (*Handler, error) {
	h := &Handler{
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, cfg := range cfgs {
		if err := cfg(h); err != nil {
			return nil, errors.Wrap(err, "apply Handler cfg failed")
		}
	}
	if h.reg == nil {
		return nil, errors.New("registry is required")
	}
	if h.relay == nil {
		return nil, errors.New("relay is required")
	}
	return h, nil
}

// Handle runs the session state machine for one accepted connection and
// blocks until the session reaches the closed state. It is the body of
// the per-connection goroutine.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	sess := session.New(conn)
	slog := logger.WithFields(logrus.Fields{
		"session": sess.ID,
		"addr":    sess.RemoteAddr(),
	})

	if err := h.handshake(sess); err != nil {
		slog.WithError(err).Info("identity handshake failed")
		h.relay.Drop(sess)
		return
	}
	slog = slog.WithField("name", sess.Name())
	slog.Info("session identified")

	if err := h.activate(sess); err != nil {
		slog.WithError(err).Warn("activate session failed")
		h.relay.Drop(sess)
		return
	}

	h.readLoop(ctx, sess, slog)
	h.relay.Drop(sess)
}

// handshake waits for exactly one identity envelope within the timeout.
// Any other input leaves the session unregistered with no side effects.
func (h *Handler) handshake(sess *session.Session) error {
	if err := sess.SetReadDeadline(time.Now().Add(h.handshakeTimeout)); err != nil {
		return err
	}
	env, err := sess.Receive()
	if err != nil {
		return errors.Wrap(err, "receive identity envelope failed")
	}
	if env.Type != wire.TypeUsername || env.Username == "" {
		return errors.New("first envelope must carry a username")
	}
	sess.SetName(env.Username)
	return sess.SetReadDeadline(time.Time{})
}

// activate registers the session in the default room, sends it the room
// list and announces the arrival.
func (h *Handler) activate(sess *session.Session) error {
	h.reg.Register(sess)
	rooms, protected := h.reg.Snapshot()
	if err := sess.Send(wire.RoomList(rooms, protected)); err != nil {
		return errors.Wrap(err, "send initial room list failed")
	}
	h.relay.ToRoom(
		wire.SystemNotice(sess.Name()+" joined the chat", registry.DefaultRoom),
		registry.DefaultRoom,
		nil,
	)
	return nil
}

func (h *Handler) readLoop(ctx context.Context, sess *session.Session, slog logrus.FieldLogger) {
	var limiter *rate.Limiter
	if h.limit > 0 {
		limiter = rate.NewLimiter(h.limit, h.burst)
	}
	for ctx.Err() == nil {
		env, err := sess.Receive()
		if err != nil {
			// Disconnects and protocol errors end the session the same
			// way; only the log level differs.
			if errors.Is(err, wire.ErrMalformed) || errors.Is(err, wire.ErrUnknownType) {
				slog.WithError(err).Warn("protocol error, closing session")
			} else {
				slog.WithError(err).Debug("session read ended")
			}
			return
		}
		if limiter != nil && !limiter.Allow() {
			slog.WithFields(log.EnvelopeToFields(env)).Warn("rate limit exceeded, discarding envelope")
			continue
		}
		slog.WithFields(log.EnvelopeToFields(env)).Debug("received envelope")
		if !h.dispatch(sess, env, slog) {
			return
		}
	}
}

// dispatch applies one active-state envelope and reports whether the
// session should keep reading.
func (h *Handler) dispatch(sess *session.Session, env wire.Envelope, slog logrus.FieldLogger) bool {
	switch env.Type {
	case wire.TypeMessage:
		return h.handleMessage(sess, env)
	case wire.TypeCreateRoom:
		return h.handleCreateRoom(sess, env)
	case wire.TypeJoinRoom:
		return h.handleJoinRoom(sess, env)
	case wire.TypeRoomBackground:
		return h.handleBackground(sess, env, slog)
	default:
		// The username type resent mid-session lands here: names are
		// immutable, so this is a protocol error.
		slog.WithField("type", env.Type).Warn("unexpected envelope type, closing session")
		return false
	}
}

// handleMessage relays a chat message to the sender's current room,
// excluding the sender; clients echo their own messages locally.
func (h *Handler) handleMessage(sess *session.Session, env wire.Envelope) bool {
	room, ok := h.reg.RoomOf(sess)
	if !ok {
		return false
	}
	h.relay.ToRoom(env, room, sess)
	return true
}

func (h *Handler) handleCreateRoom(sess *session.Session, env wire.Envelope) bool {
	switch h.reg.CreateRoom(env.Room, env.Password, sess.Name()) {
	case registry.CreateOK:
		if err := sess.Send(wire.RoomCreated(true, env.Room, "")); err != nil {
			return false
		}
		// Room existence is global state, so every connected session
		// gets the refreshed list, not just the requester.
		rooms, protected := h.reg.Snapshot()
		h.relay.ToAll(wire.RoomList(rooms, protected))
	default:
		if err := sess.Send(wire.RoomCreated(false, "", "Room already exists")); err != nil {
			return false
		}
	}
	return true
}

func (h *Handler) handleJoinRoom(sess *session.Session, env wire.Envelope) bool {
	var resp wire.Envelope
	switch h.reg.JoinRoom(sess, env.Room, env.Password) {
	case registry.JoinOK:
		resp = wire.RoomJoined(true, env.Room, "")
	case registry.JoinWrongPassword:
		resp = wire.RoomJoined(false, "", "Incorrect password")
	default:
		resp = wire.RoomJoined(false, "", "Room does not exist")
	}
	if err := sess.Send(resp); err != nil {
		return false
	}
	if resp.OK() {
		h.relay.ToRoom(
			wire.SystemNotice(sess.Name()+" moved to "+env.Room, env.Room),
			env.Room,
			nil,
		)
	}
	return true
}

// handleBackground applies an owner-only background change and relays
// the envelope verbatim to the room. Refusals are not answered on the
// wire; the envelope is simply dropped.
func (h *Handler) handleBackground(sess *session.Session, env wire.Envelope, slog logrus.FieldLogger) bool {
	switch h.reg.SetBackground(env.Room, env.Color, sess.Name()) {
	case registry.BackgroundOK:
		h.relay.ToRoom(env, env.Room, nil)
	case registry.BackgroundForbidden:
		slog.WithField("room", env.Room).Warn("background change refused, not owner")
	case registry.BackgroundNotFound:
		slog.WithField("room", env.Room).Warn("background change refused, no such room")
	}
	return true
}
