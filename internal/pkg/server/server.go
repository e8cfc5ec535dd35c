package server

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// ConnHandler consumes one accepted connection and returns when the
// session is over.
type ConnHandler interface {
	Handle(ctx context.Context, conn net.Conn)
}

// Server accepts chat connections and hands each one to its handler.
type Server struct {
	handler ConnHandler
}

// Cfg configures a Server.
type Cfg func(*Server) error

// WithHandler sets the per-connection handler.
func WithHandler(h ConnHandler) Cfg {
	return func(s *Server) error {
		s.handler = h
		return nil
	}
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfgs ...Cfg) (*Server, error) {
	s := &Server{}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "apply Server cfg failed")
		}
	}
	if s.handler == nil {
		return nil, errors.New("handler is required")
	}
	return s, nil
}

// Serve accepts connections until the context is cancelled, spawning one
// handler goroutine per connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.WithField("addr", ln.Addr().String()).Info("chat server listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.Wrap(err, "listener closed")
			}
			logger.WithError(err).Warn("accept failed")
			continue
		}
		logger.WithField("addr", conn.RemoteAddr().String()).Info("new connection established")
		go s.handler.Handle(ctx, conn)
	}
}
