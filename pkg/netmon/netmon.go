// Package netmon reports whether the host has a usable network interface.
package netmon

import (
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/net"
)

const (
	flagUp       = "up"
	flagLoopback = "loopback"
)

// Monitor checks interface state through gopsutil.
type Monitor struct {
	Logger zerolog.Logger

	interfaces func() ([]net.InterfaceStat, error)
}

// NewMonitor creates a Monitor for the host's interfaces.
func NewMonitor(logger zerolog.Logger) *Monitor {
	return &Monitor{
		Logger:     logger,
		interfaces: net.Interfaces,
	}
}

// Available reports whether any non-loopback interface is up and has an
// address. Lookup errors count as available so a broken probe never
// blocks reconnection.
func (m *Monitor) Available() bool {
	ifaces, err := m.interfaces()
	if err != nil {
		m.Logger.Warn().Err(err).Msg("Failed to list network interfaces")
		return true
	}

	for _, iface := range ifaces {
		if hasFlag(iface.Flags, flagUp) && !hasFlag(iface.Flags, flagLoopback) && len(iface.Addrs) > 0 {
			return true
		}
	}

	m.Logger.Debug().Int("interfaces", len(ifaces)).Msg("No usable network interface")
	return false
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
