//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain ListenConfig on other platforms.
func ReuseAddrListenConfig(socketBuffer int) net.ListenConfig {
	return net.ListenConfig{}
}
