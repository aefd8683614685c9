package candidate

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"
)

// PionStunClient implements StunClient on top of pion/stun/v3. It performs a
// single Binding Request against server and decodes XOR-MAPPED-ADDRESS.
// This is intentionally the only place pion/stun is imported: STUN protocol
// handling itself is an external collaborator, not core scope (spec §1).
type PionStunClient struct {
	Timeout time.Duration
}

func NewPionStunClient() *PionStunClient {
	return &PionStunClient{Timeout: 2 * time.Second}
}

func (c *PionStunClient) ReflexiveAddr(localConn *net.UDPConn, server string) (net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return net.UDPAddr{}, fmt.Errorf("resolve stun server: %w", err)
	}

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := localConn.WriteTo(msg.Raw, raddr); err != nil {
		return net.UDPAddr{}, fmt.Errorf("stun write: %w", err)
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	_ = localConn.SetReadDeadline(time.Now().Add(timeout))
	defer localConn.SetReadDeadline(time.Time{})

	buf := make([]byte, 1500)
	n, _, err := localConn.ReadFromUDP(buf)
	if err != nil {
		return net.UDPAddr{}, fmt.Errorf("stun read: %w", err)
	}

	reply := &stun.Message{Raw: buf[:n]}
	if err := reply.Decode(); err != nil {
		return net.UDPAddr{}, fmt.Errorf("stun decode: %w", err)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(reply); err != nil {
		return net.UDPAddr{}, fmt.Errorf("stun xor-mapped-address: %w", err)
	}
	return net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
}
