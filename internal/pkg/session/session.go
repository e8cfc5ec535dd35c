package session

import (
	"net"
	"sync"
	"time"

	"lanchat/internal/pkg/wire"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const writeTimeout = 30 * time.Second

// Session owns the server-side state of one connected client: the
// transport, the envelope codecs bound to it, and the display name
// fixed by the identity handshake.
type Session struct {
	ID   uuid.UUID
	conn net.Conn
	dec  *wire.Decoder
	enc  *wire.Encoder

	name string

	once sync.Once
}

// New wraps an accepted connection in a Session.
func New(conn net.Conn) *Session {
	return &Session{
		ID:   uuid.New(),
		conn: conn,
		dec:  wire.NewDecoder(conn),
		enc:  wire.NewEncoder(conn),
	}
}

// SetName fixes the display name chosen during the identity handshake.
// It must be called before the session is shared with other goroutines.
func (s *Session) SetName(name string) {
	s.name = name
}

// Name returns the display name, or "" if the handshake never completed.
func (s *Session) Name() string {
	return s.name
}

// RemoteAddr returns the peer address for logging.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Receive blocks until the next envelope arrives from the client.
func (s *Session) Receive() (wire.Envelope, error) {
	return s.dec.Next()
}

// Send writes one envelope to the client. Concurrent senders are
// serialized by the underlying encoder.
func (s *Session) Send(env wire.Envelope) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline failed")
	}
	return s.enc.Encode(env)
}

// SetReadDeadline bounds the next Receive; the zero time clears it.
func (s *Session) SetReadDeadline(t time.Time) error {
	return errors.Wrap(s.conn.SetReadDeadline(t), "set read deadline failed")
}

// Close releases the transport.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Teardown runs fn exactly once over the session lifetime, no matter how
// many goroutines observe the session as dead. Both the session's own
// handler and any broadcast that fails against it route cleanup through
// here, so deregistration and the departure notice cannot double-fire.
func (s *Session) Teardown(fn func()) {
	s.once.Do(fn)
}
