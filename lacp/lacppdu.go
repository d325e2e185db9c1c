// lacppdu
//
// Byte-exact 802.1ax-2014 Section 6.4.2 LACPDU framing, implemented as a
// gopacket SerializableLayer with a registered layer decoder; decoding goes
// through DecodeFromBytes.
package lacp

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket"

	"github.com/srhaddock/drni/sim"
)

const LacpSubType uint8 = 1

// TLV types, 802.1ax Section 6.4.2.3 and 6.4.2.4
const (
	LacpTlvTerminator               uint8 = 0x00
	LacpTlvActorInfo                uint8 = 0x01
	LacpTlvPartnerInfo              uint8 = 0x02
	LacpTlvCollectorInfo            uint8 = 0x03
	LacpTlvPortAlgorithm            uint8 = 0x04
	LacpTlvPortConversationDigest   uint8 = 0x05
	LacpTlvPortConversationMask1    uint8 = 0x06
	LacpTlvPortConversationMask2    uint8 = 0x07
	LacpTlvPortConversationMask3    uint8 = 0x08
	LacpTlvPortConversationMask4    uint8 = 0x09
	LacpTlvConvServiceMappingDigest uint8 = 0x0A
)

const lacpV1PduLength = 110

var LayerTypeLacp = gopacket.RegisterLayerType(2001,
	gopacket.LayerTypeMetadata{Name: "LACP", Decoder: gopacket.DecodeFunc(decodeLacpPdu)})

// LacpPdu carries the field set of a version 1 or version 2 LACPDU.
// Version 2 adds the Port Algorithm, Port Conversation ID Digest and,
// in conversation-sensitive mode, the Port Conversation Mask TLVs.
type LacpPdu struct {
	Version uint8

	Actor   LacpPortInfo
	Partner LacpPortInfo

	CollectorMaxDelay uint16

	// Version 2 TLVs
	PortAlgorithm  LagAlgorithm
	LinkNumberID   uint16
	ConvListDigest [16]byte
	HasV2Tlvs      bool

	// Port Conversation Mask, present on Long LACPDUs only
	HasConvMask   bool
	ConvMaskState uint8
	ConvMask      [512]byte
}

func (l *LacpPdu) LayerType() gopacket.LayerType { return LayerTypeLacp }
func (l *LacpPdu) LayerContents() []byte         { return nil }
func (l *LacpPdu) LayerPayload() []byte          { return nil }

func decodeLacpPdu(data []byte, p gopacket.PacketBuilder) error {
	pdu := &LacpPdu{}
	if err := pdu.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(pdu)
	return nil
}

func putPortInfo(b []byte, tlvType uint8, info *LacpPortInfo) {
	b[0] = tlvType
	b[1] = 20
	binary.BigEndian.PutUint16(b[2:], info.System.ActorSystemPriority)
	copy(b[4:10], info.System.ActorSystem[:])
	binary.BigEndian.PutUint16(b[10:], info.Key)
	binary.BigEndian.PutUint16(b[12:], info.PortPri)
	binary.BigEndian.PutUint16(b[14:], info.Port)
	b[16] = info.State
	// b[17:20] reserved
}

func getPortInfo(b []byte, info *LacpPortInfo) {
	info.System.ActorSystemPriority = binary.BigEndian.Uint16(b[2:])
	copy(info.System.ActorSystem[:], b[4:10])
	info.Key = binary.BigEndian.Uint16(b[10:])
	info.PortPri = binary.BigEndian.Uint16(b[12:])
	info.Port = binary.BigEndian.Uint16(b[14:])
	info.State = b[16]
}

// SerializeTo writes the PDU in wire order.  Version 1 PDUs are padded to
// the fixed 110 octet length; version 2 PDUs end with the terminator TLV.
func (l *LacpPdu) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	size := 2 + 20 + 20 + 16
	if l.Version >= 2 {
		size += 6 + 20
		if l.HasConvMask {
			size += 131 + 130 + 130 + 130
		}
	}
	size += 2 // terminator
	if l.Version < 2 && size < lacpV1PduLength {
		size = lacpV1PduLength
	}

	bytes, err := b.PrependBytes(size)
	if err != nil {
		return err
	}
	for i := range bytes {
		bytes[i] = 0
	}

	bytes[0] = LacpSubType
	bytes[1] = l.Version
	putPortInfo(bytes[2:22], LacpTlvActorInfo, &l.Actor)
	putPortInfo(bytes[22:42], LacpTlvPartnerInfo, &l.Partner)

	bytes[42] = LacpTlvCollectorInfo
	bytes[43] = 16
	binary.BigEndian.PutUint16(bytes[44:], l.CollectorMaxDelay)

	off := 58
	if l.Version >= 2 {
		bytes[off] = LacpTlvPortAlgorithm
		bytes[off+1] = 6
		binary.BigEndian.PutUint32(bytes[off+2:], uint32(l.PortAlgorithm))
		off += 6

		bytes[off] = LacpTlvPortConversationDigest
		bytes[off+1] = 20
		binary.BigEndian.PutUint16(bytes[off+2:], l.LinkNumberID)
		copy(bytes[off+4:off+20], l.ConvListDigest[:])
		off += 20

		if l.HasConvMask {
			bytes[off] = LacpTlvPortConversationMask1
			bytes[off+1] = 131
			bytes[off+2] = l.ConvMaskState
			copy(bytes[off+3:off+131], l.ConvMask[0:128])
			off += 131
			for i := 0; i < 3; i++ {
				bytes[off] = LacpTlvPortConversationMask2 + uint8(i)
				bytes[off+1] = 130
				copy(bytes[off+2:off+130], l.ConvMask[128*(i+1):128*(i+2)])
				off += 130
			}
		}
	}
	// terminator TLV: type 0, length 0; remaining bytes are padding
	return nil
}

var errMalformedLacpPdu = errors.New("malformed LACPDU")

// DecodeFromBytes parses the field set, ignoring padding and skipping
// well-formed TLVs it does not know.  A truncated or ill-lengthed TLV
// yields an error and the PDU is discarded by the caller.
func (l *LacpPdu) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 60 || data[0] != LacpSubType {
		return errMalformedLacpPdu
	}
	l.Version = data[1]
	l.HasV2Tlvs = false
	l.HasConvMask = false

	off := 2
	for off+2 <= len(data) {
		tlvType := data[off]
		tlvLen := int(data[off+1])
		if tlvType == LacpTlvTerminator {
			return nil
		}
		if tlvLen < 2 || off+tlvLen > len(data) {
			return errMalformedLacpPdu
		}
		switch tlvType {
		case LacpTlvActorInfo:
			if tlvLen != 20 {
				return errMalformedLacpPdu
			}
			getPortInfo(data[off:], &l.Actor)
		case LacpTlvPartnerInfo:
			if tlvLen != 20 {
				return errMalformedLacpPdu
			}
			getPortInfo(data[off:], &l.Partner)
		case LacpTlvCollectorInfo:
			if tlvLen != 16 {
				return errMalformedLacpPdu
			}
			l.CollectorMaxDelay = binary.BigEndian.Uint16(data[off+2:])
		case LacpTlvPortAlgorithm:
			if tlvLen != 6 {
				return errMalformedLacpPdu
			}
			l.PortAlgorithm = LagAlgorithm(binary.BigEndian.Uint32(data[off+2:]))
			l.HasV2Tlvs = true
		case LacpTlvPortConversationDigest:
			if tlvLen != 20 {
				return errMalformedLacpPdu
			}
			l.LinkNumberID = binary.BigEndian.Uint16(data[off+2:])
			copy(l.ConvListDigest[:], data[off+4:off+20])
			l.HasV2Tlvs = true
		case LacpTlvPortConversationMask1:
			if tlvLen != 131 {
				return errMalformedLacpPdu
			}
			l.ConvMaskState = data[off+2]
			copy(l.ConvMask[0:128], data[off+3:off+131])
			l.HasConvMask = true
		case LacpTlvPortConversationMask2, LacpTlvPortConversationMask3, LacpTlvPortConversationMask4:
			if tlvLen != 130 {
				return errMalformedLacpPdu
			}
			i := int(tlvType-LacpTlvPortConversationMask2) + 1
			copy(l.ConvMask[128*i:128*(i+1)], data[off+2:off+130])
		default:
			// unknown TLV with a credible length: skip
		}
		off += tlvLen
	}
	return nil
}

// EncodeLacpPdu serializes the PDU to wire bytes.
func EncodeLacpPdu(pdu *LacpPdu) []byte {
	buf := gopacket.NewSerializeBuffer()
	if err := pdu.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return nil
	}
	return buf.Bytes()
}

// DecodeLacpPdu parses wire bytes; nil on any malformation.
func DecodeLacpPdu(data []byte) *LacpPdu {
	pdu := &LacpPdu{}
	if err := pdu.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil
	}
	return pdu
}

// IsLacpFrame reports whether the frame is a LACPDU addressed to the given
// protocol destination address.
func IsLacpFrame(f *sim.Frame, protocolDA sim.MacAddr) bool {
	return f.EtherType == sim.SlowProtocolsEtherType &&
		f.Da == protocolDA &&
		len(f.Payload) > 0 && f.Payload[0] == LacpSubType
}
