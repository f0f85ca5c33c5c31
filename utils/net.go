package utils

import (
	"net"

	"github.com/pkg/errors"
)

// GetLocalRealIp returns the first non loopback IPv4 address of the host.
func GetLocalRealIp() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil {
			return ip, nil
		}
	}

	return nil, errors.New("no usable network interface")
}
