// spp_mirror duplicates traffic from one port onto several ports.
//
// It runs as a secondary process and takes its commands from the SPP
// controller given with -s.
package main

import (
	"github.com/psaab/spp/pkg/daemon"
	"github.com/psaab/spp/pkg/mgmt"
)

func main() {
	daemon.Main(mgmt.ProcMirror)
}
