package worker

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
)

const (
	ethAddrLen = 12 // dst + src
	dot1qLen   = 4
)

func tagged(data []byte) bool {
	return len(data) >= ethAddrLen+dot1qLen &&
		layers.EthernetType(binary.BigEndian.Uint16(data[ethAddrLen:])) == layers.EthernetTypeDot1Q
}

func tci(vid, pcp int) uint16 {
	if pcp < 0 {
		pcp = 0
	}
	return uint16(pcp)<<13 | uint16(vid)&0x0fff
}

// addVlanTag inserts an 802.1Q tag, or rewrites the outer one if the frame
// is already tagged.
func addVlanTag(p *dataplane.Packet, vid, pcp int) {
	d := p.Data
	if len(d) < ethAddrLen+2 {
		return
	}
	if tagged(d) {
		binary.BigEndian.PutUint16(d[ethAddrLen+2:], tci(vid, pcp))
		return
	}
	out := make([]byte, len(d)+dot1qLen)
	copy(out, d[:ethAddrLen])
	binary.BigEndian.PutUint16(out[ethAddrLen:], uint16(layers.EthernetTypeDot1Q))
	binary.BigEndian.PutUint16(out[ethAddrLen+2:], tci(vid, pcp))
	copy(out[ethAddrLen+dot1qLen:], d[ethAddrLen:])
	p.Data = out
}

// delVlanTag strips the outer 802.1Q tag if present.
func delVlanTag(p *dataplane.Packet) {
	d := p.Data
	if !tagged(d) {
		return
	}
	copy(d[dot1qLen:], d[:ethAddrLen])
	p.Data = d[dot1qLen:]
}

// applyAbilities runs a port's abilities over a burst.
func applyAbilities(pkts []*dataplane.Packet, abs []mgmt.Ability) {
	for _, a := range abs {
		switch a.Op {
		case mgmt.OpAddVlanTag:
			for _, p := range pkts {
				addVlanTag(p, a.VID, a.PCP)
			}
		case mgmt.OpDelVlanTag:
			for _, p := range pkts {
				delVlanTag(p)
			}
		}
	}
}
