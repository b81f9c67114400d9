// Package dpdk is a dataplane backend that attaches to a running DPDK
// primary process as a secondary and moves packets with rte_eth bursts.
//
// Builds without the "dpdk" tag register a backend that refuses to open.
package dpdk

import (
	"fmt"

	"github.com/psaab/spp/pkg/dataplane"
)

// Ethdev names for the non-phy interface types, as created by the primary.
const (
	VhostDevPrefix = "eth_vhost"
	RingDevPrefix  = "net_ring_eth_ring"
)

func init() {
	dataplane.RegisterBackend("dpdk", func(opts dataplane.BackendOptions) (dataplane.Backend, error) {
		return New(opts)
	})
}

// devName is the ethdev name looked up for a vhost or ring port.
func devName(id dataplane.PortID) (string, error) {
	switch id.Type {
	case dataplane.IfaceVhost:
		return fmt.Sprintf("%s%d", VhostDevPrefix, id.No), nil
	case dataplane.IfaceRing:
		return fmt.Sprintf("%s%d", RingDevPrefix, id.No), nil
	}
	return "", fmt.Errorf("%s has no device name", id)
}

// ealArgs builds the EAL argument vector for a secondary process.
func ealArgs(extra []string) []string {
	args := []string{"spp", "--proc-type=secondary"}
	return append(args, extra...)
}
