// Package cfg implements functionality to configure an app.
//
// The configuration objects defined here need only be implemented once,
// but can be applied to multiple types.
//
// In order to add support for a new type, the configuration
// need only implement an ApplyX method.
package cfg

import (
	"lanchat/internal"
	"lanchat/internal/app/apps"
)

// PortCfg is configuration for the chat server TCP port.
type PortCfg struct {
	port uint16
}

// NewPortCfg creates a new PortCfg from the given config.
func NewPortCfg(port uint16) *PortCfg {
	return &PortCfg{
		port: port,
	}
}

// PortFromEnv creates a new PortCfg from the current environment.
func PortFromEnv() *PortCfg {
	return &PortCfg{
		port: uint16(internal.Port),
	}
}

// ApplyServerApp applies the PortCfg to a ServerApp.
func (cfg PortCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Port = cfg.port
	return nil
}

// DiscoveryPortCfg is configuration for the UDP discovery port.
type DiscoveryPortCfg struct {
	port uint16
}

// NewDiscoveryPortCfg creates a new DiscoveryPortCfg from the given config.
func NewDiscoveryPortCfg(port uint16) *DiscoveryPortCfg {
	return &DiscoveryPortCfg{
		port: port,
	}
}

// DiscoveryPortFromEnv creates a new DiscoveryPortCfg from the current environment.
func DiscoveryPortFromEnv() *DiscoveryPortCfg {
	return &DiscoveryPortCfg{
		port: uint16(internal.DiscoveryPort),
	}
}

// ApplyServerApp applies the DiscoveryPortCfg to a ServerApp.
func (cfg DiscoveryPortCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.DiscoveryPort = cfg.port
	return nil
}

// ApplyDiscoverApp applies the DiscoveryPortCfg to a DiscoverApp.
func (cfg DiscoveryPortCfg) ApplyDiscoverApp(app *apps.DiscoverApp) error {
	app.DiscoveryPort = cfg.port
	return nil
}
