package apps

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"lanchat/internal"
	"lanchat/internal/pkg/discovery"
	"lanchat/internal/pkg/validate"

	"github.com/pkg/errors"
)

// DiscoverAppCfg configures a DiscoverApp.
type DiscoverAppCfg interface {
	ApplyDiscoverApp(*DiscoverApp) error
}

// DiscoverApp probes the local network for running chat servers.
type DiscoverApp struct {
	DiscoveryPort uint16 `validate:"required"`
	Wait          time.Duration
}

// NewDiscoverApp creates a new DiscoverApp.
func NewDiscoverApp(cfgs ...DiscoverAppCfg) (*DiscoverApp, error) {
	app := &DiscoverApp{}
	for _, cfg := range cfgs {
		if err := cfg.ApplyDiscoverApp(app); err != nil {
			return nil, errors.Wrap(err, "apply DiscoverApp cfg failed")
		}
	}
	if app.DiscoveryPort == 0 {
		app.DiscoveryPort = uint16(internal.DiscoveryPort)
	}
	if app.Wait == 0 {
		app.Wait = time.Duration(internal.DiscoverWaitMS) * time.Millisecond
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate DiscoverApp failed")
	}
	return app, nil
}

// Run broadcasts a probe and prints every server that answered.
// An optional positional argument overrides the wait in seconds.
func (app *DiscoverApp) Run(ctx context.Context, args []string) error {
	wait := app.Wait
	if len(args) > 1 {
		seconds, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return errors.Wrap(err, "parse wait argument failed")
		}
		wait = time.Duration(seconds) * time.Second
	}

	target := fmt.Sprintf("255.255.255.255:%d", app.DiscoveryPort)
	replies, err := discovery.Probe(ctx, target, wait)
	if err != nil {
		return errors.Wrap(err, "probe failed")
	}
	if len(replies) == 0 {
		fmt.Println("No servers found")
		return nil
	}
	for _, reply := range replies {
		fmt.Printf("%s (%s) - users: %d, rooms: %d\n", reply.Name, reply.Addr, reply.Users, reply.Rooms)
	}
	return nil
}
