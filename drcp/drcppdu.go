// drcppdu
//
// DRCPDU framing for the Distributed Relay Control Protocol, as a gopacket
// layer.  The 4096-bit gateway enable and preference vectors travel as a
// 128-bit digest in every PDU, with the full vectors included until the
// neighbor acknowledges the advertised sequence number.
package drcp

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket"

	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/sim"
)

const DrcpSubType uint8 = 0x0A

// TLV types
const (
	DrcpTlvTerminator      uint8 = 0x00
	DrcpTlvState           uint8 = 0x01
	DrcpTlvHomePortal      uint8 = 0x02
	DrcpTlvGatewayDigest   uint8 = 0x03
	DrcpTlvGatewayVectors  uint8 = 0x04
	DrcpTlvAggregatorInfo  uint8 = 0x05
	DrcpTlvPortConvDigest  uint8 = 0x06
	DrcpTlvSequence        uint8 = 0x07
)

// state TLV flag bits
const (
	DrcpFlagCscdGatewayControl uint8 = 1 << 0
	DrcpFlagVectorsPresent     uint8 = 1 << 1
)

var LayerTypeDrcp = gopacket.RegisterLayerType(2002,
	gopacket.LayerTypeMetadata{Name: "DRCP", Decoder: gopacket.DecodeFunc(decodeDrcpPdu)})

type DrcpPdu struct {
	Version uint8

	DrState uint8
	Flags   uint8

	HomeSystem   lacp.LacpSystem
	HomeKey      uint16
	PortalSystem lacp.LacpSystem
	PortalKey    uint16
	GatewayAlg   lacp.LagAlgorithm

	GatewayDigest [16]byte

	// full vectors, present when DrcpFlagVectorsPresent is set
	GatewayEnable     [512]byte
	GatewayPreference [512]byte

	AggPartnerSystem lacp.LacpSystem
	AggPartnerKey    uint16

	PortConvDigest [16]byte

	Sequence uint32
	Ack      uint32
}

func (d *DrcpPdu) LayerType() gopacket.LayerType { return LayerTypeDrcp }
func (d *DrcpPdu) LayerContents() []byte         { return nil }
func (d *DrcpPdu) LayerPayload() []byte          { return nil }

func decodeDrcpPdu(data []byte, p gopacket.PacketBuilder) error {
	pdu := &DrcpPdu{}
	if err := pdu.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(pdu)
	return nil
}

func (d *DrcpPdu) vectorsPresent() bool { return d.Flags&DrcpFlagVectorsPresent != 0 }

// SerializeTo writes the PDU in wire order, TLV by TLV, ending with the
// terminator.
func (d *DrcpPdu) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	size := 2 + 4 + 26 + 18 + 12 + 18 + 12 + 2
	if d.vectorsPresent() {
		size += 2 + 1024
	}
	bytes, err := b.PrependBytes(size)
	if err != nil {
		return err
	}
	for i := range bytes {
		bytes[i] = 0
	}

	bytes[0] = DrcpSubType
	bytes[1] = d.Version
	off := 2

	bytes[off] = DrcpTlvState
	bytes[off+1] = 4
	bytes[off+2] = d.DrState
	bytes[off+3] = d.Flags
	off += 4

	bytes[off] = DrcpTlvHomePortal
	bytes[off+1] = 26
	binary.BigEndian.PutUint16(bytes[off+2:], d.HomeSystem.ActorSystemPriority)
	copy(bytes[off+4:off+10], d.HomeSystem.ActorSystem[:])
	binary.BigEndian.PutUint16(bytes[off+10:], d.HomeKey)
	binary.BigEndian.PutUint16(bytes[off+12:], d.PortalSystem.ActorSystemPriority)
	copy(bytes[off+14:off+20], d.PortalSystem.ActorSystem[:])
	binary.BigEndian.PutUint16(bytes[off+20:], d.PortalKey)
	binary.BigEndian.PutUint32(bytes[off+22:], uint32(d.GatewayAlg))
	off += 26

	bytes[off] = DrcpTlvGatewayDigest
	bytes[off+1] = 18
	copy(bytes[off+2:off+18], d.GatewayDigest[:])
	off += 18

	if d.vectorsPresent() {
		bytes[off] = DrcpTlvGatewayVectors
		bytes[off+1] = 0 // body exceeds the length octet: fixed 1024 octets
		off += 2
		copy(bytes[off:off+512], d.GatewayEnable[:])
		copy(bytes[off+512:off+1024], d.GatewayPreference[:])
		off += 1024
	}

	bytes[off] = DrcpTlvAggregatorInfo
	bytes[off+1] = 12
	binary.BigEndian.PutUint16(bytes[off+2:], d.AggPartnerSystem.ActorSystemPriority)
	copy(bytes[off+4:off+10], d.AggPartnerSystem.ActorSystem[:])
	binary.BigEndian.PutUint16(bytes[off+10:], d.AggPartnerKey)
	off += 12

	bytes[off] = DrcpTlvPortConvDigest
	bytes[off+1] = 18
	copy(bytes[off+2:off+18], d.PortConvDigest[:])
	off += 18

	bytes[off] = DrcpTlvSequence
	bytes[off+1] = 12
	binary.BigEndian.PutUint32(bytes[off+2:], d.Sequence)
	binary.BigEndian.PutUint32(bytes[off+6:], d.Ack)
	off += 12

	// terminator TLV: type 0, length 0
	return nil
}

var errMalformedDrcpPdu = errors.New("malformed DRCPDU")

func (d *DrcpPdu) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 4 || data[0] != DrcpSubType {
		return errMalformedDrcpPdu
	}
	d.Version = data[1]

	off := 2
	for off+2 <= len(data) {
		tlvType := data[off]
		tlvLen := int(data[off+1])
		if tlvType == DrcpTlvTerminator {
			return nil
		}
		if tlvType == DrcpTlvGatewayVectors {
			// fixed oversized body
			if off+2+1024 > len(data) {
				return errMalformedDrcpPdu
			}
			copy(d.GatewayEnable[:], data[off+2:off+514])
			copy(d.GatewayPreference[:], data[off+514:off+1026])
			off += 2 + 1024
			continue
		}
		if tlvLen < 2 || off+tlvLen > len(data) {
			return errMalformedDrcpPdu
		}
		switch tlvType {
		case DrcpTlvState:
			if tlvLen != 4 {
				return errMalformedDrcpPdu
			}
			d.DrState = data[off+2]
			d.Flags = data[off+3]
		case DrcpTlvHomePortal:
			if tlvLen != 26 {
				return errMalformedDrcpPdu
			}
			d.HomeSystem.ActorSystemPriority = binary.BigEndian.Uint16(data[off+2:])
			copy(d.HomeSystem.ActorSystem[:], data[off+4:off+10])
			d.HomeKey = binary.BigEndian.Uint16(data[off+10:])
			d.PortalSystem.ActorSystemPriority = binary.BigEndian.Uint16(data[off+12:])
			copy(d.PortalSystem.ActorSystem[:], data[off+14:off+20])
			d.PortalKey = binary.BigEndian.Uint16(data[off+20:])
			d.GatewayAlg = lacp.LagAlgorithm(binary.BigEndian.Uint32(data[off+22:]))
		case DrcpTlvGatewayDigest:
			if tlvLen != 18 {
				return errMalformedDrcpPdu
			}
			copy(d.GatewayDigest[:], data[off+2:off+18])
		case DrcpTlvAggregatorInfo:
			if tlvLen != 12 {
				return errMalformedDrcpPdu
			}
			d.AggPartnerSystem.ActorSystemPriority = binary.BigEndian.Uint16(data[off+2:])
			copy(d.AggPartnerSystem.ActorSystem[:], data[off+4:off+10])
			d.AggPartnerKey = binary.BigEndian.Uint16(data[off+10:])
		case DrcpTlvPortConvDigest:
			if tlvLen != 18 {
				return errMalformedDrcpPdu
			}
			copy(d.PortConvDigest[:], data[off+2:off+18])
		case DrcpTlvSequence:
			if tlvLen != 12 {
				return errMalformedDrcpPdu
			}
			d.Sequence = binary.BigEndian.Uint32(data[off+2:])
			d.Ack = binary.BigEndian.Uint32(data[off+6:])
		default:
			// unknown TLV: skip
		}
		off += tlvLen
	}
	return nil
}

// EncodeDrcpPdu serializes the PDU to wire bytes.
func EncodeDrcpPdu(pdu *DrcpPdu) []byte {
	buf := gopacket.NewSerializeBuffer()
	if err := pdu.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return nil
	}
	return buf.Bytes()
}

// DecodeDrcpPdu parses wire bytes; nil on any malformation.
func DecodeDrcpPdu(data []byte) *DrcpPdu {
	pdu := &DrcpPdu{}
	if err := pdu.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil
	}
	return pdu
}

// IsDrcpFrame reports whether the frame is a DRCPDU.
func IsDrcpFrame(f *sim.Frame) bool {
	return f.Da == sim.DrcpDA &&
		f.EtherType == sim.SlowProtocolsEtherType &&
		len(f.Payload) > 0 && f.Payload[0] == DrcpSubType
}
