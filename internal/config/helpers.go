package config

import (
	"fmt"
	"net"
	"strconv"
)

// IsDevelopment reports a debug console logging setup
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}

// GetBindAddress returns the address the HTTP server listens on
func (c *Config) GetBindAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.HTTPPort))
}

// GetAdvertiseAddress returns the host:port peers use to reach this node.
// detect is consulted when no usable advertise host is configured; it may
// return "" when detection fails.
func (c *Config) GetAdvertiseAddress(detect func() string) (string, error) {
	port := strconv.Itoa(c.Server.HTTPPort)

	host := c.Server.AdvertiseHost
	if host == "" || host == "0.0.0.0" {
		if c.Server.Host != "" && c.Server.Host != "0.0.0.0" {
			host = c.Server.Host
		} else if detect != nil {
			host = detect()
		}
	}
	if host == "" || host == "0.0.0.0" {
		return "", fmt.Errorf("cannot determine advertise address; set server.advertise_host")
	}

	return net.JoinHostPort(host, port), nil
}

// IsEtcdMembership reports whether members come from etcd
func (c *Config) IsEtcdMembership() bool {
	return !c.Cluster.Standalone && c.Cluster.Membership == "etcd"
}
