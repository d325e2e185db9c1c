// lacppdu_test
package lacp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srhaddock/drni/sim"
)

func testPortInfo(port uint16) LacpPortInfo {
	return LacpPortInfo{
		System: LacpSystem{
			ActorSystemPriority: 0x8000,
			ActorSystem:         sim.MacAddr{0x00, 0x00, 0x55, 0x01, 0x00, 0x00},
		},
		Key:     DefaultActorKey,
		PortPri: 0x80,
		Port:    port,
		State:   LacpStateActivityBit | LacpStateAggregationBit | LacpStateSyncBit,
	}
}

func TestLacpPduRoundTripVersion1(t *testing.T) {
	pdu := &LacpPdu{
		Version:           1,
		Actor:             testPortInfo(100),
		Partner:           testPortInfo(203),
		CollectorMaxDelay: 0x1234,
	}

	data := EncodeLacpPdu(pdu)
	require.NotNil(t, data)
	// version 1 LACPDUs have the fixed length
	assert.Equal(t, 110, len(data))
	assert.Equal(t, LacpSubType, data[0])

	got := DecodeLacpPdu(data)
	require.NotNil(t, got)
	assert.Equal(t, pdu.Actor, got.Actor)
	assert.Equal(t, pdu.Partner, got.Partner)
	assert.Equal(t, pdu.CollectorMaxDelay, got.CollectorMaxDelay)
	assert.False(t, got.HasV2Tlvs)
}

func TestLacpPduRoundTripVersion2(t *testing.T) {
	pdu := &LacpPdu{
		Version:       2,
		Actor:         testPortInfo(101),
		Partner:       testPortInfo(102),
		PortAlgorithm: LagAlgorithmCVid,
		LinkNumberID:  17,
	}
	for i := range pdu.ConvListDigest {
		pdu.ConvListDigest[i] = byte(i * 3)
	}

	got := DecodeLacpPdu(EncodeLacpPdu(pdu))
	require.NotNil(t, got)
	assert.True(t, got.HasV2Tlvs)
	assert.Equal(t, pdu.PortAlgorithm, got.PortAlgorithm)
	assert.Equal(t, pdu.LinkNumberID, got.LinkNumberID)
	assert.Equal(t, pdu.ConvListDigest, got.ConvListDigest)
	assert.False(t, got.HasConvMask)
}

func TestLacpPduRoundTripConvMask(t *testing.T) {
	pdu := &LacpPdu{
		Version:       2,
		Actor:         testPortInfo(101),
		Partner:       testPortInfo(102),
		HasConvMask:   true,
		ConvMaskState: 0x01,
	}
	for i := range pdu.ConvMask {
		pdu.ConvMask[i] = byte(i)
	}

	got := DecodeLacpPdu(EncodeLacpPdu(pdu))
	require.NotNil(t, got)
	assert.True(t, got.HasConvMask)
	assert.Equal(t, pdu.ConvMaskState, got.ConvMaskState)
	assert.Equal(t, pdu.ConvMask, got.ConvMask)
}

func TestLacpPduMalformed(t *testing.T) {
	pdu := &LacpPdu{Version: 1, Actor: testPortInfo(1), Partner: testPortInfo(2)}
	data := EncodeLacpPdu(pdu)

	assert.Nil(t, DecodeLacpPdu(nil))
	assert.Nil(t, DecodeLacpPdu(data[:30]))

	// wrong subtype
	bad := append([]byte(nil), data...)
	bad[0] = 0x07
	assert.Nil(t, DecodeLacpPdu(bad))

	// actor TLV with a broken length
	bad = append([]byte(nil), data...)
	bad[3] = 19
	assert.Nil(t, DecodeLacpPdu(bad))
}

func TestLacpPduIgnoresUnknownTlv(t *testing.T) {
	pdu := &LacpPdu{Version: 2, Actor: testPortInfo(1), Partner: testPortInfo(2)}
	data := EncodeLacpPdu(pdu)

	// splice an unknown but well-formed TLV in front of the terminator
	unknown := []byte{0x7F, 4, 0xAA, 0xBB}
	spliced := append([]byte(nil), data[:len(data)-2]...)
	spliced = append(spliced, unknown...)
	spliced = append(spliced, 0, 0)

	got := DecodeLacpPdu(spliced)
	require.NotNil(t, got)
	assert.Equal(t, pdu.Actor, got.Actor)
}
