// Package config resolves the options of a secondary process from command
// line flags and an optional INI file. Flags given explicitly win over file
// values; file values win over defaults.
package config

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
	"github.com/psaab/spp/pkg/pcap"
)

// Defaults.
const (
	DefaultServer   = "127.0.0.1:6666"
	DefaultAPIAddr  = "127.0.0.1:8080"
	DefaultGRPCAddr = "127.0.0.1:50051"
	DefaultBackend  = "ring"
	DefaultPhyPorts = 2
)

// Options is the resolved process configuration.
type Options struct {
	Process    mgmt.ProcessType
	ConfigFile string

	ClientID int
	Server   string
	Lcores   []int

	Backend   string
	PhyIfaces []string
	PhyPorts  int
	RingSize  int
	ProcArgs  []string
	PinLcores bool

	// pcap only
	CapturePort   dataplane.PortID
	Output        string
	LimitFileSize uint64

	APIAddr  string
	APIToken string
	GRPCAddr string
	Journal  string

	Syslog string
	Debug  bool
}

// flagValues holds the raw flag strings before conversion.
type flagValues struct {
	clientID   int
	server     string
	lcores     string
	backend    string
	phy        string
	phyPorts   int
	ringSize   int
	procArgs   string
	pinLcores  bool
	port       string
	output     string
	limit      uint64
	apiAddr    string
	apiToken   string
	grpcAddr   string
	journal    string
	syslog     string
	debug      bool
	configFile string
}

// Load parses args (without the program name) for the given process type.
func Load(process mgmt.ProcessType, args []string) (*Options, error) {
	name := "spp_" + process.String()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var v flagValues
	fs.StringVar(&v.configFile, "config", "", "INI configuration file")
	fs.IntVar(&v.clientID, "client-id", -1, "client id assigned by the controller")
	fs.StringVar(&v.server, "s", DefaultServer, "controller address ip:port")
	fs.StringVar(&v.lcores, "lcores", "", "worker lcores, e.g. 1,2 or 1-3")
	fs.StringVar(&v.backend, "backend", DefaultBackend, "dataplane backend (ring, kernel, dpdk)")
	fs.StringVar(&v.phy, "phy", "", "comma separated netdevs for phy:0, phy:1, ... (kernel backend)")
	fs.IntVar(&v.phyPorts, "phy-ports", DefaultPhyPorts, "number of phy ports present at startup")
	fs.IntVar(&v.ringSize, "ring-size", dataplane.DefaultRingSize, "ring port capacity in packets")
	fs.StringVar(&v.procArgs, "eal-args", "", "extra EAL arguments, space separated (dpdk backend)")
	fs.BoolVar(&v.pinLcores, "pin-lcores", false, "pin each worker thread to its lcore")
	fs.StringVar(&v.apiAddr, "api-addr", DefaultAPIAddr, "HTTP API listen address (empty to disable)")
	fs.StringVar(&v.apiToken, "api-token", "", "bearer token required by HTTP command requests")
	fs.StringVar(&v.grpcAddr, "grpc-addr", DefaultGRPCAddr, "gRPC listen address (empty to disable)")
	fs.StringVar(&v.journal, "journal", "", "append committed commands to this file")
	fs.StringVar(&v.syslog, "syslog", "", "forward logs to a remote syslog host:port")
	fs.BoolVar(&v.debug, "debug", false, "enable debug logging")
	if process == mgmt.ProcPcap {
		fs.StringVar(&v.port, "i", "", "capture port, phy:N or ring:N")
		fs.StringVar(&v.output, "output", pcap.DefaultDir, "capture file directory")
		fs.Uint64Var(&v.limit, "limit-file-size", pcap.DefaultLimit, "rotate capture files above this size in bytes")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if v.configFile != "" {
		if err := applyFile(&v, v.configFile, set, process); err != nil {
			return nil, err
		}
	}

	o, err := v.resolve(process)
	if err != nil {
		return nil, err
	}
	o.ConfigFile = v.configFile
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// applyFile fills every value whose flag was not given explicitly from the
// INI file at path.
func applyFile(v *flagValues, path string, set map[string]bool, process mgmt.ProcessType) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}
	type binding struct {
		section, key, flag string
		apply           func(*ini.Key) error
	}
	str := func(dst *string) func(*ini.Key) error {
		return func(k *ini.Key) error { *dst = k.String(); return nil }
	}
	bindings := []binding{
		{"spp", "client_id", "client-id", func(k *ini.Key) (err error) { v.clientID, err = k.Int(); return }},
		{"spp", "server", "s", str(&v.server)},
		{"spp", "lcores", "lcores", str(&v.lcores)},
		{"dataplane", "backend", "backend", str(&v.backend)},
		{"dataplane", "phy", "phy", str(&v.phy)},
		{"dataplane", "phy_ports", "phy-ports", func(k *ini.Key) (err error) { v.phyPorts, err = k.Int(); return }},
		{"dataplane", "ring_size", "ring-size", func(k *ini.Key) (err error) { v.ringSize, err = k.Int(); return }},
		{"dataplane", "eal_args", "eal-args", str(&v.procArgs)},
		{"dataplane", "pin_lcores", "pin-lcores", func(k *ini.Key) (err error) { v.pinLcores, err = k.Bool(); return }},
		{"api", "http", "api-addr", str(&v.apiAddr)},
		{"api", "token", "api-token", str(&v.apiToken)},
		{"api", "grpc", "grpc-addr", str(&v.grpcAddr)},
		{"api", "journal", "journal", str(&v.journal)},
		{"log", "syslog", "syslog", str(&v.syslog)},
		{"log", "debug", "debug", func(k *ini.Key) (err error) { v.debug, err = k.Bool(); return }},
	}
	if process == mgmt.ProcPcap {
		bindings = append(bindings,
			binding{"pcap", "port", "i", str(&v.port)},
			binding{"pcap", "output", "output", str(&v.output)},
			binding{"pcap", "limit_file_size", "limit-file-size", func(k *ini.Key) (err error) { v.limit, err = k.Uint64(); return }},
		)
	}
	for _, b := range bindings {
		if set[b.flag] {
			continue
		}
		sec := cfg.Section(b.section)
		if !sec.HasKey(b.key) {
			continue
		}
		if err := b.apply(sec.Key(b.key)); err != nil {
			return errors.Wrapf(err, "%s: [%s] %s", path, b.section, b.key)
		}
	}
	return nil
}

func (v *flagValues) resolve(process mgmt.ProcessType) (*Options, error) {
	lcores, err := ParseLcores(v.lcores)
	if err != nil {
		return nil, err
	}
	o := &Options{
		Process:       process,
		ClientID:      v.clientID,
		Server:        v.server,
		Lcores:        lcores,
		Backend:       v.backend,
		PhyIfaces:     splitList(v.phy),
		PhyPorts:      v.phyPorts,
		RingSize:      v.ringSize,
		ProcArgs:      strings.Fields(v.procArgs),
		PinLcores:     v.pinLcores,
		Output:        v.output,
		LimitFileSize: v.limit,
		APIAddr:       v.apiAddr,
		APIToken:      v.apiToken,
		GRPCAddr:      v.grpcAddr,
		Journal:       v.journal,
		Syslog:        v.syslog,
		Debug:         v.debug,
	}
	if len(o.PhyIfaces) > 0 {
		o.PhyPorts = len(o.PhyIfaces)
	}
	if process == mgmt.ProcPcap {
		if v.port == "" {
			return nil, fmt.Errorf("capture port (-i) is required")
		}
		p, err := dataplane.ParsePortID(v.port)
		if err != nil {
			return nil, errors.Wrapf(err, "capture port %q", v.port)
		}
		o.CapturePort = p
	}
	return o, nil
}

// Validate checks the resolved options.
func (o *Options) Validate() error {
	if o.ClientID < 0 {
		return fmt.Errorf("client id (-client-id) is required")
	}
	if _, _, err := net.SplitHostPort(o.Server); err != nil {
		return errors.Wrapf(err, "controller address %q", o.Server)
	}
	if len(o.Lcores) == 0 {
		return fmt.Errorf("no worker lcores given (-lcores)")
	}
	for _, l := range o.Lcores {
		if l >= mgmt.MaxLcore {
			return fmt.Errorf("lcore %d out of range (max %d)", l, mgmt.MaxLcore-1)
		}
	}
	if o.PhyPorts < 0 || o.PhyPorts > mgmt.MaxEthPorts {
		return fmt.Errorf("phy port count %d out of range", o.PhyPorts)
	}
	if o.RingSize <= 0 {
		return fmt.Errorf("ring size must be positive")
	}
	if o.Process == mgmt.ProcPcap {
		if len(o.Lcores) < 2 {
			return fmt.Errorf("pcap needs at least two lcores (receive and write), got %d", len(o.Lcores))
		}
		switch o.CapturePort.Type {
		case dataplane.IfacePhy, dataplane.IfaceRing:
		default:
			return fmt.Errorf("capture port %s: only phy and ring can be captured", o.CapturePort)
		}
		if o.LimitFileSize == 0 {
			return fmt.Errorf("limit-file-size must be positive")
		}
	}
	return nil
}

// ParseLcores parses a DPDK style lcore list such as "1,2" or "1-3,5".
func ParseLcores(s string) ([]int, error) {
	var out []int
	seen := make(map[int]bool)
	for _, part := range splitList(s) {
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil || first < 0 {
			return nil, fmt.Errorf("bad lcore %q", part)
		}
		last := first
		if isRange {
			last, err = strconv.Atoi(hi)
			if err != nil || last < first {
				return nil, fmt.Errorf("bad lcore range %q", part)
			}
		}
		for l := first; l <= last; l++ {
			if seen[l] {
				return nil, fmt.Errorf("lcore %d listed twice", l)
			}
			seen[l] = true
			out = append(out, l)
		}
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// BackendOptions converts the dataplane settings.
func (o *Options) BackendOptions() dataplane.BackendOptions {
	return dataplane.BackendOptions{
		PhyIfaces: o.PhyIfaces,
		RingSize:  o.RingSize,
		ProcArgs:  o.ProcArgs,
	}
}
