// spp_vf is the virtual-function process: classifiers, forwarders,
// mergers and VLAN tag handling between phy, vhost and ring ports.
//
// It runs as a secondary process and takes its commands from the SPP
// controller given with -s.
package main

import (
	"github.com/psaab/spp/pkg/daemon"
	"github.com/psaab/spp/pkg/mgmt"
)

func main() {
	daemon.Main(mgmt.ProcVF)
}
