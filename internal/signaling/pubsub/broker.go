// Package pubsub implements the PUB/SUB shared-blob alternative signaling
// provider (spec §4.F): two peers share a mutable blob with "offer" and
// "answer" fields. The reference models this as a remote KV resource; here
// the "remote KV resource" is a small broker both peers dial over a
// websocket, adapting the teacher's Hub/Client register-broadcast-unicast
// pattern (internal/websocket/hub.go) to a two-party mailbox instead of a
// fleet broadcast.
package pubsub

import (
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
)

var logger = log.New(os.Stdout, "[signaling-pubsub] ", log.LstdFlags)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// blob is the shared mutable resource: offer and answer fields, each
// base64-over-AEAD ciphertext (see crypto.go), keyed by a channel id that
// both peers already agree on out of band.
type blob struct {
	mu     sync.Mutex
	offer  string
	answer string
}

// Broker is the shared-blob server: channel id -> blob. It has no
// process-wide globals (spec §9 design note): every channel is an explicit
// entry in Broker.blobs, constructed per Broker instance.
type Broker struct {
	mu    sync.Mutex
	blobs map[string]*blob
}

func NewBroker() *Broker {
	return &Broker{blobs: make(map[string]*blob)}
}

func (b *Broker) blobFor(channel string) *blob {
	b.mu.Lock()
	defer b.mu.Unlock()
	bl, ok := b.blobs[channel]
	if !ok {
		bl = &blob{}
		b.blobs[channel] = bl
	}
	return bl
}

// wireMessage is the JSON envelope exchanged over the websocket, mirroring
// the teacher's internal/websocket/message.go typed-envelope style.
type wireMessage struct {
	Type    string `json:"type"` // "write_offer" | "write_answer" | "poll_offer" | "poll_answer"
	Channel string `json:"channel"`
	Payload string `json:"payload,omitempty"`
}

type wireReply struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
	Present bool   `json:"present"`
}

// ServeHTTP upgrades to a websocket and serves one peer's poll/write
// traffic against the named channel's blob.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		bl := b.blobFor(msg.Channel)
		switch msg.Type {
		case "write_offer":
			bl.mu.Lock()
			bl.offer = msg.Payload
			bl.mu.Unlock()
			conn.WriteJSON(wireReply{Type: "ack"})
		case "write_answer":
			bl.mu.Lock()
			// At-most-one SUB answer per accepted offer (spec §8
			// property 6): refuse a second write.
			alreadyWritten := bl.answer != ""
			if !alreadyWritten {
				bl.answer = msg.Payload
			}
			bl.mu.Unlock()
			conn.WriteJSON(wireReply{Type: "ack", Present: !alreadyWritten})
		case "poll_offer":
			bl.mu.Lock()
			offer := bl.offer
			bl.mu.Unlock()
			conn.WriteJSON(wireReply{Type: "offer", Payload: offer, Present: offer != ""})
		case "poll_answer":
			bl.mu.Lock()
			answer := bl.answer
			bl.mu.Unlock()
			conn.WriteJSON(wireReply{Type: "answer", Payload: answer, Present: answer != ""})
		default:
			logger.Printf("unknown message type %q", msg.Type)
		}
	}
}
