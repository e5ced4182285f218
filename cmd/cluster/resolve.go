package main

import (
	"fmt"
	"net"
)

// dialLocalAddr briefly connects to host:port to learn which local
// address the OS routes through to reach it, then closes the probe
// connection. This is the default public-IP resolution strategy
// referenced in SPEC_FULL.md §4.4, left as an implementer's choice by
// spec.md.
func dialLocalAddr(host string, port uint16) (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return "", fmt.Errorf("resolving public IP via %s:%d: %w", host, port, err)
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return localAddr.IP.String(), nil
}
