package worker

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
)

// classTable maps classifier keys to tx port views of one classifier
// component generation.
type classTable struct {
	view     *mgmt.ComponentView
	byClass  map[mgmt.ClassID]*mgmt.PortView
	defaults map[int]*mgmt.PortView // by vid
}

func newClassTable(v *mgmt.ComponentView) *classTable {
	t := &classTable{
		view:     v,
		byClass:  make(map[mgmt.ClassID]*mgmt.PortView),
		defaults: make(map[int]*mgmt.PortView),
	}
	defMAC, _ := mgmt.ParseMAC(mgmt.DefaultClassMAC)
	for _, pv := range v.Tx {
		if !pv.Class.Used() {
			continue
		}
		if pv.Class.MAC == defMAC {
			t.defaults[pv.Class.VID] = pv
			continue
		}
		t.byClass[pv.Class] = pv
	}
	return t
}

// frameKey extracts the destination MAC and vid of a frame. Untagged frames
// use the mac-only vid.
type frameKey struct {
	dst       uint64
	vid       int
	multicast bool
}

type decoder struct {
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newDecoder() *decoder {
	d := &decoder{}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &d.eth, &d.dot1q)
	d.parser.IgnoreUnsupported = true
	return d
}

func (d *decoder) key(data []byte) (frameKey, bool) {
	if err := d.parser.DecodeLayers(data, &d.decoded); err != nil {
		return frameKey{}, false
	}
	k := frameKey{vid: mgmt.MaxVID}
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeEthernet:
			for _, b := range d.eth.DstMAC {
				k.dst = k.dst<<8 | uint64(b)
			}
			k.multicast = len(d.eth.DstMAC) > 0 && d.eth.DstMAC[0]&0x01 != 0
		case layers.LayerTypeDot1Q:
			k.vid = int(d.dot1q.VLANIdentifier)
			return k, true
		}
	}
	return k, true
}

// classify sorts a burst into per-port output queues. Multicast and
// broadcast frames are copied to every tx port of the same vid; unknown
// unicast goes to the default port for the vid, if any.
func (t *classTable) classify(dec *decoder, pkts []*dataplane.Packet, out map[*mgmt.PortView][]*dataplane.Packet) int {
	dropped := 0
	for _, p := range pkts {
		k, ok := dec.key(p.Data)
		if !ok {
			dropped++
			continue
		}
		if k.multicast {
			sent := false
			for _, pv := range t.view.Tx {
				if pv.Class.Used() && pv.Class.VID == k.vid {
					if sent {
						out[pv] = append(out[pv], p.Clone())
					} else {
						out[pv] = append(out[pv], p)
						sent = true
					}
				}
			}
			if !sent {
				dropped++
			}
			continue
		}
		if pv, ok := t.byClass[mgmt.ClassID{MAC: k.dst, VID: k.vid}]; ok {
			out[pv] = append(out[pv], p)
			continue
		}
		if pv, ok := t.defaults[k.vid]; ok {
			out[pv] = append(out[pv], p)
			continue
		}
		dropped++
	}
	return dropped
}
