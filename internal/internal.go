// Package internal holds the runtime configuration shared by all
// commands: package-level values with environment-variable defaults,
// overridable per command through registered flags.
package internal

import (
	"os"
	"strconv"

	"lanchat/internal/pkg/discovery"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Configuration values. Defaults come from the environment and may be
// overridden by command-line flags.
var (
	LogLevel = envString("LANCHAT_LOG_LEVEL", "info")

	// Port is the TCP port for chat traffic.
	Port = envUint("LANCHAT_PORT", 5555)
	// DiscoveryPort is the UDP port for the discovery protocol.
	DiscoveryPort = envUint("LANCHAT_DISCOVERY_PORT", discovery.DefaultPort)
	// ServerName is the advertised server name; empty means hostname.
	ServerName = envString("LANCHAT_NAME", "")

	// HandshakeTimeoutMS bounds the identity handshake.
	HandshakeTimeoutMS = envUint("LANCHAT_HANDSHAKE_TIMEOUT_MS", 10000)
	// RateLimitPerSec caps inbound messages per session; 0 disables.
	RateLimitPerSec = envFloat("LANCHAT_RATE_LIMIT_PER_SEC", 0)
	// RateLimitBurst is the rate limiter burst size.
	RateLimitBurst = envUint("LANCHAT_RATE_LIMIT_BURST", 20)

	// DiscoverWaitMS is how long the discover command collects replies.
	DiscoverWaitMS = envUint("LANCHAT_DISCOVER_WAIT_MS", 2000)
)

// Flag binds one configuration value to a named command-line flag.
type Flag struct {
	Name     string
	Register func(fs *pflag.FlagSet, name string)
}

// Flag definitions.
var (
	LogLevelFlag = Flag{"log-level", func(fs *pflag.FlagSet, name string) {
		fs.StringVar(&LogLevel, name, LogLevel, "Log level: trace, debug, info, warn or error.")
	}}
	PortFlag = Flag{"port", func(fs *pflag.FlagSet, name string) {
		fs.UintVar(&Port, name, Port, "TCP port for chat traffic.")
	}}
	DiscoveryPortFlag = Flag{"discovery-port", func(fs *pflag.FlagSet, name string) {
		fs.UintVar(&DiscoveryPort, name, DiscoveryPort, "UDP port for server discovery.")
	}}
	ServerNameFlag = Flag{"name", func(fs *pflag.FlagSet, name string) {
		fs.StringVar(&ServerName, name, ServerName, "Advertised server name (defaults to the hostname).")
	}}
	HandshakeTimeoutMSFlag = Flag{"handshake-timeout-ms", func(fs *pflag.FlagSet, name string) {
		fs.UintVar(&HandshakeTimeoutMS, name, HandshakeTimeoutMS, "Identity handshake timeout in milliseconds.")
	}}
	RateLimitPerSecFlag = Flag{"rate-limit-per-sec", func(fs *pflag.FlagSet, name string) {
		fs.Float64Var(&RateLimitPerSec, name, RateLimitPerSec, "Inbound messages per second per session, 0 to disable.")
	}}
	RateLimitBurstFlag = Flag{"rate-limit-burst", func(fs *pflag.FlagSet, name string) {
		fs.UintVar(&RateLimitBurst, name, RateLimitBurst, "Inbound message burst size per session.")
	}}
	DiscoverWaitMSFlag = Flag{"wait-ms", func(fs *pflag.FlagSet, name string) {
		fs.UintVar(&DiscoverWaitMS, name, DiscoverWaitMS, "How long to collect discovery replies, in milliseconds.")
	}}
)

// RegisterCommandFlags registers the given flags on the command.
func RegisterCommandFlags(cmd *cobra.Command, flags []*Flag) error {
	for _, f := range flags {
		if f == nil || f.Register == nil {
			return errors.New("flag definition is incomplete")
		}
		if cmd.PersistentFlags().Lookup(f.Name) != nil {
			return errors.Errorf("flag %q registered twice", f.Name)
		}
		f.Register(cmd.PersistentFlags(), f.Name)
	}
	return nil
}

// ValidateEnv checks the resolved configuration for consistency.
func ValidateEnv() error {
	switch LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return errors.Errorf("invalid log level %q", LogLevel)
	}
	if Port == 0 || Port > 65535 {
		return errors.Errorf("invalid port %d", Port)
	}
	if DiscoveryPort == 0 || DiscoveryPort > 65535 {
		return errors.Errorf("invalid discovery port %d", DiscoveryPort)
	}
	if Port == DiscoveryPort {
		return errors.New("chat and discovery ports must differ")
	}
	if HandshakeTimeoutMS == 0 {
		return errors.New("handshake timeout must be positive")
	}
	if RateLimitPerSec < 0 {
		return errors.New("rate limit must not be negative")
	}
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint) uint {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint(parsed)
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
