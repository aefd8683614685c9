package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte("hello world")
	buf := Encode(TypeData, FlagFIN, 42, body)
	p, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, TypeData, p.Type)
	require.Equal(t, FlagFIN, p.Flags)
	require.Equal(t, uint16(42), p.Seq)
	require.Equal(t, body, p.Body)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x00})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestTypeRanges(t *testing.T) {
	require.True(t, InDataPlaneRange(TypeData))
	require.True(t, InDataPlaneRange(0x7F))
	require.False(t, InDataPlaneRange(0x80))

	require.True(t, InSignalingRange(TypeRegister))
	require.True(t, InSignalingRange(0x9F))
	require.False(t, InSignalingRange(0xA0))

	require.True(t, InRelayRange(TypeRelayData))
	require.True(t, InRelayRange(0xBF))
	require.False(t, InRelayRange(0xC0))
}

func TestAckRoundTrip(t *testing.T) {
	buf := EncodeAck(AckBody{AckSeq: 7, SackBits: 0xFFFF0001})
	got, err := DecodeAck(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(7), got.AckSeq)
	require.Equal(t, uint32(0xFFFF0001), got.SackBits)
}

func TestCandidateRecordRoundTrip(t *testing.T) {
	rec := CandidateRecord{
		Kind:     KindSrflx,
		Address:  Addr{IP: [4]byte{203, 0, 113, 5}, Port: 40000},
		Base:     Addr{IP: [4]byte{192, 168, 1, 2}, Port: 5000},
		Priority: 1677724416,
	}
	buf := EncodeCandidateRecord(rec)
	require.Len(t, buf, CandidateRecordSize)
	got, err := DecodeCandidateRecord(buf)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestCandidateListRoundTrip(t *testing.T) {
	recs := []CandidateRecord{
		{Kind: KindHost, Address: Addr{IP: [4]byte{10, 0, 0, 1}, Port: 1234}, Base: Addr{IP: [4]byte{10, 0, 0, 1}, Port: 1234}, Priority: 100},
		{Kind: KindRelay, Address: Addr{IP: [4]byte{1, 2, 3, 4}, Port: 3478}, Base: Addr{IP: [4]byte{10, 0, 0, 1}, Port: 1234}, Priority: 1},
	}
	buf := EncodeCandidateList(0, byte(len(recs)), recs)
	base, count, got, err := DecodeCandidateList(buf)
	require.NoError(t, err)
	require.Equal(t, byte(0), base)
	require.Equal(t, byte(len(recs)), count)
	require.Equal(t, recs, got)
}
