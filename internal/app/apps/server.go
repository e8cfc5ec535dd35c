package apps

import (
	"context"
	"fmt"
	"net"
	"time"

	"lanchat/internal"
	"lanchat/internal/pkg/discovery"
	"lanchat/internal/pkg/handler"
	"lanchat/internal/pkg/registry"
	"lanchat/internal/pkg/relay"
	"lanchat/internal/pkg/server"
	"lanchat/internal/pkg/validate"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// ServerAppCfg configures a ServerApp.
type ServerAppCfg interface {
	ApplyServerApp(*ServerApp) error
}

// ServerApp runs the chat server and the discovery responder.
type ServerApp struct {
	Port          uint16 `validate:"required"`
	DiscoveryPort uint16 `validate:"required"`
	Name          string

	HandshakeTimeout time.Duration
	RatePerSec       float64
	RateBurst        int
}

// NewServerApp creates a new ServerApp.
func NewServerApp(cfgs ...ServerAppCfg) (*ServerApp, error) {
	app := &ServerApp{}
	for _, cfg := range cfgs {
		if err := cfg.ApplyServerApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ServerApp cfg failed")
		}
	}
	if app.Port == 0 {
		app.Port = uint16(internal.Port)
	}
	if app.DiscoveryPort == 0 {
		app.DiscoveryPort = uint16(internal.DiscoveryPort)
	}
	if app.Name == "" {
		app.Name = internal.ServerName
	}
	if app.HandshakeTimeout == 0 {
		app.HandshakeTimeout = time.Duration(internal.HandshakeTimeoutMS) * time.Millisecond
	}
	if app.RatePerSec == 0 {
		app.RatePerSec = internal.RateLimitPerSec
		app.RateBurst = int(internal.RateLimitBurst)
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ServerApp failed")
	}
	return app, nil
}

// Run serves chat and discovery until the context is cancelled or one of
// the listeners fails.
func (app *ServerApp) Run(ctx context.Context, args []string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := registry.New()
	rel := relay.New(reg)
	h, err := handler.NewHandler(
		handler.WithRegistry(reg),
		handler.WithRelay(rel),
		handler.WithHandshakeTimeout(app.HandshakeTimeout),
		handler.WithRateLimit(app.RatePerSec, app.RateBurst),
	)
	if err != nil {
		return errors.Wrap(err, "create handler failed")
	}
	srv, err := server.NewServer(server.WithHandler(h))
	if err != nil {
		return errors.Wrap(err, "create server failed")
	}

	responderCfgs := []discovery.Cfg{discovery.WithCounter(reg)}
	if app.Name != "" {
		responderCfgs = append(responderCfgs, discovery.WithName(app.Name))
	}
	responder, err := discovery.NewResponder(responderCfgs...)
	if err != nil {
		return errors.Wrap(err, "create discovery responder failed")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.Port))
	if err != nil {
		return errors.Wrap(err, "listen chat port failed")
	}
	pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", app.DiscoveryPort))
	if err != nil {
		ln.Close()
		return errors.Wrap(err, "listen discovery port failed")
	}

	logger.WithFields(logrus.Fields{
		"port":           app.Port,
		"discovery_port": app.DiscoveryPort,
	}).Info("share the chat port with clients on this network, or let them probe for it")

	errc := make(chan error, 2)
	go func() { errc <- srv.Serve(runCtx, ln) }()
	go func() { errc <- responder.Listen(runCtx, pc) }()

	err = <-errc
	cancel()
	<-errc
	if ctx.Err() != nil {
		// Parent cancellation is the normal shutdown path.
		return nil
	}
	return errors.Wrap(err, "run server failed")
}
