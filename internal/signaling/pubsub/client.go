package pubsub

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnicloud/p2psession/internal/codec"
)

// Publisher polling interval: low-latency answer wait (spec §4.F: 1s).
const PublisherPollInterval = 1 * time.Second

// Subscriber polling interval (spec §4.F: 5s).
const SubscriberPollInterval = 5 * time.Second

// Peer drives one side of a PUB/SUB exchange over a websocket connection to
// a Broker. Role (publisher vs subscriber) only changes the polling cadence
// and which field is written first.
type Peer struct {
	conn    *websocket.Conn
	channel string
	authKey string

	answerWritten bool
}

func Dial(url, channel, authKey string) (*Peer, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("pubsub: dial: %w", err)
	}
	return &Peer{conn: conn, channel: channel, authKey: authKey}, nil
}

func (p *Peer) Close() error { return p.conn.Close() }

// PublishOffer writes the publisher's candidate list into the shared
// "offer" field, encrypted with the shared auth_key.
func (p *Peer) PublishOffer(candidates []codec.CandidateRecord) error {
	payload := codec.EncodeCandidateList(0, byte(len(candidates)), candidates)
	sealed, err := Seal(p.authKey, payload)
	if err != nil {
		return err
	}
	return p.conn.WriteJSON(wireMessage{Type: "write_offer", Channel: p.channel, Payload: sealed})
}

// PollAnswer polls for the subscriber's answer, returning (nil, false) if
// not yet present. The reset-on-first-offer rule is the subscriber's
// concern (PollOffer below); the publisher only reads.
func (p *Peer) PollAnswer() ([]codec.CandidateRecord, bool, error) {
	if err := p.conn.WriteJSON(wireMessage{Type: "poll_answer", Channel: p.channel}); err != nil {
		return nil, false, err
	}
	var reply wireReply
	if err := p.conn.ReadJSON(&reply); err != nil {
		return nil, false, err
	}
	if !reply.Present {
		return nil, false, nil
	}
	return p.decodeCandidates(reply.Payload)
}

// PollOffer polls for the publisher's offer. The caller applies the
// reset-on-first-offer rule: the first accepted offer clears any prior
// remote candidate state (spec §4.F, §3 invariants).
func (p *Peer) PollOffer() ([]codec.CandidateRecord, bool, error) {
	if err := p.conn.WriteJSON(wireMessage{Type: "poll_offer", Channel: p.channel}); err != nil {
		return nil, false, err
	}
	var reply wireReply
	if err := p.conn.ReadJSON(&reply); err != nil {
		return nil, false, err
	}
	if !reply.Present {
		return nil, false, nil
	}
	return p.decodeCandidates(reply.Payload)
}

// WriteAnswer writes the subscriber's answer exactly once per accepted
// offer (spec §8 property 6); subsequent calls are no-ops returning nil.
func (p *Peer) WriteAnswer(candidates []codec.CandidateRecord) error {
	if p.answerWritten {
		return nil
	}
	payload := codec.EncodeCandidateList(0, byte(len(candidates)), candidates)
	sealed, err := Seal(p.authKey, payload)
	if err != nil {
		return err
	}
	if err := p.conn.WriteJSON(wireMessage{Type: "write_answer", Channel: p.channel, Payload: sealed}); err != nil {
		return err
	}
	var reply wireReply
	if err := p.conn.ReadJSON(&reply); err != nil {
		return err
	}
	if reply.Present {
		p.answerWritten = true
	}
	return nil
}

func (p *Peer) decodeCandidates(envelope string) ([]codec.CandidateRecord, bool, error) {
	plain, err := Open(p.authKey, envelope)
	if err != nil {
		return nil, false, err
	}
	_, _, recs, err := codec.DecodeCandidateList(plain)
	if err != nil {
		return nil, false, err
	}
	return recs, true, nil
}
