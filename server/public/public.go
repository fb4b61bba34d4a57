package public

import (
	"fmt"
	"net"
	"os"
)

// Listener is the local listen address and Addr the address the service is reachable at
var (
	Listener string
	Addr     string
)

func genericInterface(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsUnspecified() || ip.IsLoopback())
}

// SetListener records the listen address and derives the public address unless already set
func SetListener(addr string) (string, error) {
	Listener = addr

	if Addr != "" {
		return Addr, nil
	}

	return SetAddr(Listener)
}

// SetAddr derives the public address. Generic interfaces are replaced by the host name.
func SetAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}

	if host == "" || genericInterface(host) {
		if host, err = os.Hostname(); err != nil {
			return "", err
		}
	}

	Addr = fmt.Sprintf("http://%s:%s", host, port)

	return Addr, nil
}
