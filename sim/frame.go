// frame
package sim

import (
	"fmt"
)

const (
	SlowProtocolsEtherType uint16 = 0x8809
	CVlanEtherType         uint16 = 0x8100
	SVlanEtherType         uint16 = 0x88A8
	// local experimental ethertype carried by generated test frames
	TestEtherType uint16 = 0x88B5
)

// group addresses used by the protocol entities
var (
	SlowProtocolsDA         = MacAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x02}
	NearestCustomerBridgeDA = MacAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x00}
	DrcpDA                  = MacAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x03}
	BroadcastDA             = MacAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

type MacAddr [6]byte

func (a MacAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

func (a MacAddr) IsGroup() bool {
	return a[0]&0x01 != 0
}

// VlanTag is one entry of a frame's tag stack, outermost first.
type VlanTag struct {
	EtherType uint16
	Vid       uint16
}

// Frame is an Ethernet PDU value.  Protocol PDUs travel as serialized bytes
// in Payload so every exchange passes through the wire codecs.
type Frame struct {
	Da        MacAddr
	Sa        MacAddr
	Tags      []VlanTag
	EtherType uint16
	Payload   []byte
}

// PushTag prepends a VLAN tag to the stack (the new outermost tag).
func (f *Frame) PushTag(t VlanTag) {
	f.Tags = append([]VlanTag{t}, f.Tags...)
}

// PopTag removes and returns the outermost tag.  ok is false on an
// untagged frame.
func (f *Frame) PopTag() (VlanTag, bool) {
	if len(f.Tags) == 0 {
		return VlanTag{}, false
	}
	t := f.Tags[0]
	f.Tags = f.Tags[1:]
	return t, true
}

// OuterVid returns the outermost VID with the given tag ethertype, or 0 on
// an untagged frame.
func (f *Frame) OuterVid(etherType uint16) uint16 {
	if len(f.Tags) > 0 && f.Tags[0].EtherType == etherType {
		return f.Tags[0].Vid
	}
	return 0
}

// Clone copies the frame including its tag stack so two receivers never
// share a queue entry.
func (f *Frame) Clone() *Frame {
	nf := &Frame{
		Da:        f.Da,
		Sa:        f.Sa,
		EtherType: f.EtherType,
	}
	nf.Tags = append(nf.Tags, f.Tags...)
	nf.Payload = append(nf.Payload, f.Payload...)
	return nf
}
