// Package transport implements the fixed-window ARQ reliable transport
// carried over UDP datagrams once a NAT hole is open (spec §4.B).
package transport

import (
	"errors"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/omnicloud/p2psession/internal/codec"
)

const (
	// DefaultWindow is the default outstanding-packet window W.
	DefaultWindow = 32

	minRTO = 50
	maxRTO = 2000
	initRTO = 200
)

// ErrWindowFull is returned by Submit when no new datagram may be sent now:
// the send window or the congestion window is full, or the pacing limiter
// has no token.
var ErrWindowFull = errors.New("transport: send window full")

// ErrPayloadTooLarge is returned by Submit when payload exceeds codec.MaxDataPayload.
var ErrPayloadTooLarge = errors.New("transport: payload exceeds max datagram size")

type sendSlot struct {
	inUse     bool
	payload   []byte
	seq       uint16
	sendTime  int64
	retxCount int
	acked     bool
}

type recvSlot struct {
	present bool
	payload []byte
}

// Transport is one session's sliding-window ARQ state machine. It is driven
// exclusively by its owning session's tick()/send()/recv() calls, matching
// the single-threaded cooperative model in spec §5.
type Transport struct {
	clock clockwork.Clock

	window int

	sendSeq  uint16
	sendBase uint16
	sendSlots []sendSlot

	recvBase  uint16
	recvSlots []recvSlot

	srtt   float64
	rttvar float64
	rto    float64

	sendCount int

	// cwnd is the simple-AIMD congestion window (spec §1 non-goals: only
	// "beyond simple AIMD" is out of scope, so the reliability window W
	// bounds cwnd from above but does not replace it). limiter paces new
	// submissions to floor(cwnd) per RTT-ish window via x/time/rate.
	cwnd    float64
	limiter *rate.Limiter
}

// New constructs a Transport with the given window size (0 => DefaultWindow)
// and clock (nil => real clockwork.NewRealClock()).
func New(window int, clock clockwork.Clock) *Transport {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := &Transport{
		clock:     clock,
		window:    window,
		sendSlots: make([]sendSlot, window),
		recvSlots: make([]recvSlot, window),
		srtt:      initRTO,
		rttvar:    initRTO / 2,
		rto:       initRTO,
		cwnd:      float64(window),
	}
	t.limiter = rate.NewLimiter(t.paceLimit(), window)
	return t
}

// paceLimit derives the token-bucket refill rate from the current AIMD
// congestion window and RTO: cwnd packets are allowed per RTO.
func (t *Transport) paceLimit() rate.Limit {
	rtoSeconds := t.rto / 1000
	if rtoSeconds <= 0 {
		rtoSeconds = minRTO / 1000
	}
	return rate.Limit(t.cwnd / rtoSeconds)
}

// Cwnd returns the current AIMD congestion window.
func (t *Transport) Cwnd() float64 { return t.cwnd }

func seqDiff(a, b uint16) int {
	return int(int16(a - b))
}

func (t *Transport) nowMS() int64 {
	return t.clock.Now().UnixMilli()
}

// Submit allocates a slot for payload and assigns it the next sequence
// number. Returns ErrWindowFull if the window (bounded further by cwnd) has
// no free slot or the pacing limiter refuses, or ErrPayloadTooLarge if
// payload exceeds codec.MaxDataPayload.
func (t *Transport) Submit(payload []byte) (seq uint16, err error) {
	if len(payload) > codec.MaxDataPayload {
		return 0, ErrPayloadTooLarge
	}
	inFlight := seqDiff(t.sendSeq, t.sendBase)
	cap := t.window
	if int(t.cwnd) < cap {
		cap = int(t.cwnd)
	}
	if cap < 1 {
		cap = 1
	}
	if inFlight >= cap {
		return 0, ErrWindowFull
	}
	if !t.limiter.AllowN(t.clock.Now(), 1) {
		return 0, ErrWindowFull
	}
	idx := int(t.sendSeq) % t.window
	t.sendSlots[idx] = sendSlot{
		inUse:    true,
		payload:  append([]byte(nil), payload...),
		seq:      t.sendSeq,
		sendTime: t.nowMS(),
	}
	seq = t.sendSeq
	t.sendSeq++
	t.sendCount++
	return seq, nil
}

// Encode builds the DATA datagram for seq, for the caller to write to the
// socket immediately after Submit, or again on retransmit.
func (t *Transport) Encode(seq uint16) ([]byte, bool) {
	idx := int(seq) % t.window
	s := t.sendSlots[idx]
	if !s.inUse || s.seq != seq {
		return nil, false
	}
	return codec.Encode(codec.TypeData, 0, seq, s.payload), true
}

// OnAck processes a received ACK: cumulative ack up to ackSeq (exclusive of
// nothing beyond it), plus selective ack bits for ackSeq+i. RTT is sampled
// only for originally-transmitted (retx_count==0) packets.
func (t *Transport) OnAck(ackSeq uint16, sackBits uint32) {
	now := t.nowMS()

	for seqDiff(ackSeq, t.sendBase) > 0 {
		idx := int(t.sendBase) % t.window
		s := &t.sendSlots[idx]
		if s.inUse && s.seq == t.sendBase && !s.acked {
			t.ackSlot(s, now)
		}
		t.sendBase++
	}

	for i := 0; i < 32; i++ {
		if sackBits&(1<<uint(i)) == 0 {
			continue
		}
		seq := ackSeq + uint16(i)
		if seqDiff(seq, t.sendBase) < 0 || seqDiff(seq, t.sendBase) >= t.window {
			continue
		}
		idx := int(seq) % t.window
		s := &t.sendSlots[idx]
		if s.inUse && s.seq == seq && !s.acked {
			t.ackSlot(s, now)
		}
	}
}

func (t *Transport) ackSlot(s *sendSlot, now int64) {
	if s.retxCount == 0 {
		rtt := float64(now - s.sendTime)
		if rtt < 0 {
			rtt = 0
		}
		t.srtt = 7.0/8*t.srtt + 1.0/8*rtt
		t.rttvar = 3.0/4*t.rttvar + 1.0/4*abs(rtt-t.srtt)
		t.rto = clampRTO(t.srtt + 4*t.rttvar)
	}
	s.acked = true
	s.inUse = false

	if s.retxCount == 0 {
		t.cwnd += 1 / t.cwnd
		if t.cwnd > float64(t.window) {
			t.cwnd = float64(t.window)
		}
		t.limiter.SetLimitAt(t.clock.Now(), t.paceLimit())
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clampRTO(v float64) float64 {
	if v < minRTO {
		return minRTO
	}
	if v > maxRTO {
		return maxRTO
	}
	return v
}

// RTO returns the current retransmission timeout in milliseconds.
func (t *Transport) RTO() float64 { return t.rto }

// SRTT returns the current smoothed RTT in milliseconds.
func (t *Transport) SRTT() float64 { return t.srtt }

// OnData handles an incoming DATA datagram. It discards seq outside
// [recv_base, recv_base+W), stores it if not already present, and reports
// whether this is new data (for ACK/SACK bookkeeping and dedup).
func (t *Transport) OnData(seq uint16, payload []byte) (isNew bool) {
	diff := seqDiff(seq, t.recvBase)
	if diff < 0 || diff >= t.window {
		return false
	}
	idx := int(seq) % t.window
	if t.recvSlots[idx].present {
		return false
	}
	t.recvSlots[idx] = recvSlot{present: true, payload: append([]byte(nil), payload...)}
	return true
}

// AckToSend builds the ACK body to emit in response to any received DATA:
// ack_seq = recv_base, sack bit i set when recv_base+i (i = 0..31) is
// already buffered.
func (t *Transport) AckToSend() codec.AckBody {
	var bits uint32
	for i := 0; i < 32 && i < t.window; i++ {
		idx := int(t.recvBase+uint16(i)) % t.window
		if t.recvSlots[idx].present {
			bits |= 1 << uint(i)
		}
	}
	return codec.AckBody{AckSeq: t.recvBase, SackBits: bits}
}

// Recv pops the next in-order payload if present, copying it to the start
// of buf and advancing recv_base. Returns 0 if no data is available at recv_base.
func (t *Transport) Recv(buf []byte) int {
	idx := int(t.recvBase) % t.window
	slot := &t.recvSlots[idx]
	if !slot.present {
		return 0
	}
	n := copy(buf, slot.payload)
	*slot = recvSlot{}
	t.recvBase++
	return n
}

// RetransmitEntry describes one datagram the caller should re-send.
type RetransmitEntry struct {
	Seq     uint16
	Payload []byte
}

// Tick scans in-flight unacked entries and returns those whose RTO has
// elapsed, bumping their retx_count and send_time. Per spec §4.B this does
// not double per retry; it reuses rto (optionally scaled by retx_count, an
// implementation choice bounded at maxRTO).
func (t *Transport) Tick(nowMS int64) []RetransmitEntry {
	var out []RetransmitEntry
	for i := range t.sendSlots {
		s := &t.sendSlots[i]
		if !s.inUse || s.acked {
			continue
		}
		effectiveRTO := t.rto * float64(s.retxCount+1)
		if effectiveRTO > maxRTO {
			effectiveRTO = maxRTO
		}
		if float64(nowMS-s.sendTime) >= effectiveRTO {
			s.retxCount++
			s.sendTime = nowMS
			out = append(out, RetransmitEntry{Seq: s.seq, Payload: append([]byte(nil), s.payload...)})
		}
	}
	if len(out) > 0 {
		// Multiplicative decrease on detected loss (simple AIMD, spec §1).
		t.cwnd /= 2
		if t.cwnd < 1 {
			t.cwnd = 1
		}
		t.limiter.SetLimitAt(t.clock.Now(), t.paceLimit())
	}
	return out
}

// InFlight reports the number of currently outstanding unacknowledged
// datagrams, used to enforce "no overcommit" (spec §8 property 8).
func (t *Transport) InFlight() int {
	n := 0
	for i := range t.sendSlots {
		if t.sendSlots[i].inUse && !t.sendSlots[i].acked {
			n++
		}
	}
	return n
}

// Window returns the configured window size W.
func (t *Transport) Window() int { return t.window }
