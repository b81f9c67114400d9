package daemon

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/psaab/spp/pkg/config"
	"github.com/psaab/spp/pkg/logging"
	"github.com/psaab/spp/pkg/mgmt"
)

// Main is the entry point shared by the secondary binaries. It exits the
// program: 0 on a clean stop or -h, 2 on bad arguments, 1 on a runtime
// failure.
func Main(process mgmt.ProcessType) {
	name := "spp_" + process.String()
	opts, err := config.Load(process, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(2)
	}

	h, err := logging.Setup(os.Stderr, logging.Options{
		Debug:  opts.Debug,
		Syslog: opts.Syslog,
		Tag:    name,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: syslog: %v\n", name, err)
		os.Exit(2)
	}

	err = New(opts).Run(context.Background())
	h.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}
