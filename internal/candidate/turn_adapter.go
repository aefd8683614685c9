package candidate

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/turn/v4"
)

// PionTurnClient implements TurnClient on top of pion/turn/v4's client-side
// allocation. Like PionStunClient, this is a thin adapter over an external
// collaborator (spec §1 Out-of-scope: "the STUN/TURN client proper").
type PionTurnClient struct {
	Timeout time.Duration
}

func NewPionTurnClient() *PionTurnClient {
	return &PionTurnClient{Timeout: 5 * time.Second}
}

func (c *PionTurnClient) Allocate(localConn *net.UDPConn, server, user, pass string) (net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return net.UDPAddr{}, fmt.Errorf("resolve turn server: %w", err)
	}

	cfg := &turn.ClientConfig{
		STUNServerAddr: raddr.String(),
		TURNServerAddr: raddr.String(),
		Conn:           localConn,
		Username:       user,
		Password:       pass,
		Realm:          "p2psession",
	}
	client, err := turn.NewClient(cfg)
	if err != nil {
		return net.UDPAddr{}, fmt.Errorf("turn client: %w", err)
	}
	defer client.Close()

	if err := client.Listen(); err != nil {
		return net.UDPAddr{}, fmt.Errorf("turn listen: %w", err)
	}

	relayConn, err := client.Allocate()
	if err != nil {
		return net.UDPAddr{}, fmt.Errorf("turn allocate: %w", err)
	}
	defer relayConn.Close()

	addr, ok := relayConn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return net.UDPAddr{}, fmt.Errorf("turn: unexpected relay address type %T", relayConn.LocalAddr())
	}
	return *addr, nil
}
