// Package discovery implements the LAN server discovery protocol: a UDP
// responder answering probe datagrams with server identity and load, and
// the client-side probe used to locate servers without a known address.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Token is the literal probe payload a client broadcasts.
const Token = "CHAT_DISCOVER"

// DefaultPort is the fixed UDP port the responder listens on.
const DefaultPort = 5556

// Status is the responder's reply payload.
type Status struct {
	Name  string `json:"name"`
	Users int    `json:"users"`
	Rooms int    `json:"rooms"`
}

// Counter supplies the aggregate counts reported in discovery replies.
// The registry satisfies it; the responder never mutates through it.
type Counter interface {
	Counts() (sessions, rooms int)
}

// Responder answers discovery probes on a packet connection.
type Responder struct {
	name    string
	counter Counter
}

// Cfg configures a Responder.
type Cfg func(*Responder) error

// WithName overrides the advertised server name (default: hostname).
func WithName(name string) Cfg {
	return func(r *Responder) error {
		if name == "" {
			return errors.New("server name must not be empty")
		}
		r.name = name
		return nil
	}
}

// WithCounter sets the source of user/room counts.
func WithCounter(c Counter) Cfg {
	return func(r *Responder) error {
		r.counter = c
		return nil
	}
}

// NewResponder creates a Responder with the given configuration.
func NewResponder(cfgs ...Cfg) (*Responder, error) {
	r := &Responder{}
	for _, cfg := range cfgs {
		if err := cfg(r); err != nil {
			return nil, errors.Wrap(err, "apply Responder cfg failed")
		}
	}
	if r.counter == nil {
		return nil, errors.New("counter is required")
	}
	if r.name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, errors.Wrap(err, "resolve hostname failed")
		}
		r.name = hostname
	}
	return r, nil
}

// Listen answers probes on conn until the context is cancelled.
// Non-probe datagrams are ignored and never interrupt the loop.
func (r *Responder) Listen(ctx context.Context, conn net.PacketConn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "discovery socket closed")
			}
			logger.WithError(err).Warn("discovery read failed")
			continue
		}
		if !bytes.Equal(buf[:n], []byte(Token)) {
			continue
		}
		users, rooms := r.counter.Counts()
		payload, err := json.Marshal(Status{Name: r.name, Users: users, Rooms: rooms})
		if err != nil {
			logger.WithError(err).Warn("marshal discovery reply failed")
			continue
		}
		if _, err := conn.WriteTo(payload, addr); err != nil {
			logger.WithError(err).WithField("addr", addr.String()).Warn("send discovery reply failed")
		}
	}
}

// Reply is one discovered server.
type Reply struct {
	Status
	Addr string
}

// Probe broadcasts the discovery token at target ("ip:port") and collects
// replies until wait elapses or the context is cancelled.
func Probe(ctx context.Context, target string, wait time.Duration) ([]Reply, error) {
	dst, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, errors.Wrap(err, "resolve discovery target failed")
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, errors.Wrap(err, "open probe socket failed")
	}
	defer conn.Close()

	if _, err := conn.WriteTo([]byte(Token), dst); err != nil {
		return nil, errors.Wrap(err, "send probe failed")
	}

	deadline := time.Now().Add(wait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "set probe deadline failed")
	}

	var found []Reply
	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return found, nil
			}
			return found, errors.Wrap(err, "read probe reply failed")
		}
		var status Status
		if err := json.Unmarshal(buf[:n], &status); err != nil {
			// Someone else answering on the discovery port; skip it.
			continue
		}
		found = append(found, Reply{Status: status, Addr: addr.String()})
	}
}
