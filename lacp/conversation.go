// conversation
//
// Conversation ID to Link Number mapping, 802.1ax-2014 Section 8.2.
package lacp

import (
	"crypto/md5"
	"encoding/binary"
	"sort"
)

// ConvLinkMapType selects how the 4096 Conversation IDs spread over the
// distributing links of an Aggregator.
type ConvLinkMapType int

const (
	// ConvLinkMapEightLinkSpread is the default: a fixed per-CID priority
	// table over eight link-number slots.
	ConvLinkMapEightLinkSpread ConvLinkMapType = iota
	// ConvLinkMapCidModN maps CID modulo the distributing link count over
	// the ascending link numbers.
	ConvLinkMapCidModN
	// ConvLinkMapEvenOdd splits even and odd CIDs over the two
	// lowest-numbered links.
	ConvLinkMapEvenOdd
	// ConvLinkMapActiveStandby carries every CID on the lowest-numbered
	// link; the others are hot standby.
	ConvLinkMapActiveStandby
	// ConvLinkMapAdminTable scans each CID's administered link preference
	// list for the first distributing link.
	ConvLinkMapAdminTable
)

var ConvLinkMapStrMap = map[ConvLinkMapType]string{
	ConvLinkMapEightLinkSpread: "EIGHT_LINK_SPREAD",
	ConvLinkMapCidModN:         "CID_MOD_N",
	ConvLinkMapEvenOdd:         "EVEN_ODD",
	ConvLinkMapActiveStandby:   "ACTIVE_STANDBY",
	ConvLinkMapAdminTable:      "ADMIN_TABLE",
}

// eightLinkSpread holds, per CID modulo eight, the slot preference order.
// Link numbers fold into the eight slots as ((n-1) mod 8) + 1; when two
// links land in the same slot the lower link number carries it.
var eightLinkSpread = [8][8]uint16{
	{3, 1, 6, 8, 5, 2, 7, 4},
	{1, 6, 4, 2, 8, 3, 5, 7},
	{3, 2, 5, 7, 1, 8, 4, 6},
	{3, 4, 8, 6, 1, 7, 5, 2},
	{4, 2, 5, 1, 7, 3, 6, 8},
	{3, 5, 2, 8, 6, 1, 4, 7},
	{1, 7, 6, 3, 2, 4, 8, 5},
	{2, 1, 5, 4, 8, 6, 3, 7},
}

func spreadSlot(linkNumber uint16) uint16 {
	return (linkNumber-1)%8 + 1
}

// BuildConvLinkMap produces the full CID to link-number vector for the
// given distributing links.  activeLinks must be ascending and non-empty
// entries only; adminTable is consulted for ADMIN_TABLE alone.  An
// unmappable CID yields link 0 (discard).
func BuildConvLinkMap(mapType ConvLinkMapType, activeLinks []uint16, adminTable map[uint16][]uint16) [4096]uint16 {
	var conv [4096]uint16
	n := len(activeLinks)
	if n == 0 {
		return conv
	}
	sorted := append([]uint16(nil), activeLinks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	switch mapType {
	case ConvLinkMapCidModN:
		for cid := 0; cid < 4096; cid++ {
			conv[cid] = sorted[cid%n]
		}
	case ConvLinkMapEvenOdd:
		for cid := 0; cid < 4096; cid++ {
			conv[cid] = sorted[(cid&1)%n]
		}
	case ConvLinkMapActiveStandby:
		for cid := 0; cid < 4096; cid++ {
			conv[cid] = sorted[0]
		}
	case ConvLinkMapAdminTable:
		active := make(map[uint16]bool, n)
		for _, l := range sorted {
			active[l] = true
		}
		for cid := 0; cid < 4096; cid++ {
			for _, l := range adminTable[uint16(cid)] {
				if active[l] {
					conv[cid] = l
					break
				}
			}
		}
	default: // EIGHT_LINK_SPREAD
		// fold links into slots; lower link number wins a collision
		var slotLink [9]uint16
		for _, l := range sorted {
			s := spreadSlot(l)
			if slotLink[s] == 0 || l < slotLink[s] {
				slotLink[s] = l
			}
		}
		for cid := 0; cid < 4096; cid++ {
			row := &eightLinkSpread[cid%8]
			for _, s := range row {
				if slotLink[s] != 0 {
					conv[cid] = slotLink[s]
					break
				}
			}
		}
	}
	return conv
}

// ConvListDigest computes the 128-bit digest of the conversation selection
// policy carried in the Port Conversation ID Digest TLV: MD5 over the map
// algorithm and, for ADMIN_TABLE, the canonicalized per-CID preference
// lists.  Both ends must bit-match before a conversation may flow.
func ConvListDigest(mapType ConvLinkMapType, adminTable map[uint16][]uint16) [16]byte {
	h := md5.New()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(mapType))
	h.Write(hdr[:])

	if mapType == ConvLinkMapAdminTable {
		var row [2]byte
		for cid := 0; cid < 4096; cid++ {
			links := adminTable[uint16(cid)]
			if len(links) == 0 {
				continue
			}
			binary.BigEndian.PutUint16(row[:], uint16(cid))
			h.Write(row[:])
			for _, l := range links {
				binary.BigEndian.PutUint16(row[:], l)
				h.Write(row[:])
			}
		}
	}

	var digest [16]byte
	copy(digest[:], h.Sum(nil))
	return digest
}
