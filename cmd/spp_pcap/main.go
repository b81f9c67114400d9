// spp_pcap captures the traffic of one port into rotating LZ4
// compressed pcap files.
//
// It runs as a secondary process and takes its commands from the SPP
// controller given with -s.
package main

import (
	"github.com/psaab/spp/pkg/daemon"
	"github.com/psaab/spp/pkg/mgmt"
)

func main() {
	daemon.Main(mgmt.ProcPcap)
}
