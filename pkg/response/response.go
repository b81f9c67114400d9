// Package response renders command results and status info as the JSON
// documents returned to the controller.
package response

import (
	"encoding/json"
	"slices"
	"strconv"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
)

// Result codes of a single command.
const (
	Success = "success"
	Error   = "error"
	Invalid = "invalid"
)

// ExecFailedMessage is reported for a command that parsed but failed.
const ExecFailedMessage = "error occur"

// ErrorDetails carries the message of a failed command.
type ErrorDetails struct {
	Message string `json:"message"`
}

// Result is the outcome of one command in a request.
type Result struct {
	Result       string        `json:"result"`
	ErrorDetails *ErrorDetails `json:"error_details,omitempty"`
}

// Response is the document sent back for one request.
type Response struct {
	Results     []Result `json:"results"`
	ClientID    *int     `json:"client_id,omitempty"`
	ProcessType string   `json:"process_type,omitempty"`
	Info        any      `json:"info,omitempty"`
}

// Marshal encodes the response.
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ParseFailed builds the results of a request whose command at index bad
// did not decode: that slot is an error, every other slot is invalid.
func ParseFailed(n, bad int, msg string) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = Result{Result: Invalid}
	}
	if bad >= 0 && bad < n {
		out[bad] = Result{Result: Error, ErrorDetails: &ErrorDetails{Message: msg}}
	}
	return out
}

// ExecFailed builds the results of a request where commands before bad
// succeeded, bad failed and the rest never ran.
func ExecFailed(n, bad int) []Result {
	out := make([]Result, n)
	for i := range out {
		switch {
		case i < bad:
			out[i] = Result{Result: Success}
		case i == bad:
			out[i] = Result{Result: Error, ErrorDetails: &ErrorDetails{Message: ExecFailedMessage}}
		default:
			out[i] = Result{Result: Invalid}
		}
	}
	return out
}

// AllSucceeded returns n success results.
func AllSucceeded(n int) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = Result{Result: Success}
	}
	return out
}

// PortRef names one port in a core entry.
type PortRef struct {
	Port string    `json:"port"`
	Vlan *VlanInfo `json:"vlan,omitempty"`
}

// VlanInfo describes the tag ability configured on a port direction.
type VlanInfo struct {
	Operation string `json:"operation"`
	ID        int    `json:"id"`
	PCP       int    `json:"pcp"`
}

// CoreEntry is one component, or one idle core, in status info. Idle
// cores carry no name or port lists.
type CoreEntry struct {
	Core   int        `json:"core"`
	Name   string     `json:"name,omitempty"`
	Type   string     `json:"type"`
	RxPort *[]PortRef `json:"rx_port,omitempty"`
	TxPort *[]PortRef `json:"tx_port,omitempty"`
}

// ClassifierEntry is one classifier table row.
type ClassifierEntry struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Port  string `json:"port"`
}

// Info is the status document of a mirror or vf process.
type Info struct {
	ClientID        int               `json:"client-id"`
	Phy             []int             `json:"phy"`
	Vhost           []int             `json:"vhost"`
	Ring            []int             `json:"ring"`
	Core            []CoreEntry       `json:"core"`
	ClassifierTable []ClassifierEntry `json:"classifier_table,omitempty"`
}

// BuildInfo renders a published topology. Port vlan details and the
// classifier table are included for vf processes only.
func BuildInfo(t mgmt.Topology) *Info {
	info := &Info{
		ClientID: t.ClientID,
		Phy:      []int{},
		Vhost:    []int{},
		Ring:     []int{},
		Core:     []CoreEntry{},
	}
	vf := t.Process == mgmt.ProcVF
	ports := make(map[dataplane.PortID]mgmt.Port, len(t.Ports))
	for _, p := range t.Ports {
		ports[p.ID] = p
		switch p.ID.Type {
		case dataplane.IfacePhy:
			info.Phy = append(info.Phy, p.ID.No)
		case dataplane.IfaceVhost:
			info.Vhost = append(info.Vhost, p.ID.No)
		case dataplane.IfaceRing:
			info.Ring = append(info.Ring, p.ID.No)
		}
		if vf && p.Class.Used() {
			info.ClassifierTable = append(info.ClassifierTable, classifierEntry(p))
		}
	}
	if vf && info.ClassifierTable == nil {
		info.ClassifierTable = []ClassifierEntry{}
	}

	for _, c := range t.Cores {
		if len(c.Components) == 0 {
			info.Core = append(info.Core, CoreEntry{Core: c.ID, Type: mgmt.CompNone.String()})
			continue
		}
		for _, v := range c.Components {
			rx, tx := []PortRef{}, []PortRef{}
			for _, pv := range v.Rx {
				rx = append(rx, portRef(ports[pv.ID], pv.ID, mgmt.DirRx, vf))
			}
			for _, pv := range v.Tx {
				tx = append(tx, portRef(ports[pv.ID], pv.ID, mgmt.DirTx, vf))
			}
			info.Core = append(info.Core, CoreEntry{
				Core:   c.ID,
				Name:   v.Name,
				Type:   v.Type.String(),
				RxPort: &rx,
				TxPort: &tx,
			})
		}
	}
	return info
}

func portRef(p mgmt.Port, id dataplane.PortID, dir mgmt.Direction, vlan bool) PortRef {
	ref := PortRef{Port: id.String()}
	if !vlan {
		return ref
	}
	ref.Vlan = &VlanInfo{Operation: mgmt.OpNone.String()}
	if abs := p.AbilitiesFor(dir); len(abs) > 0 {
		a := abs[0]
		ref.Vlan = &VlanInfo{Operation: a.Op.String(), ID: a.VID, PCP: a.PCP}
	}
	return ref
}

func classifierEntry(p mgmt.Port) ClassifierEntry {
	mac := mgmt.FormatMAC(p.Class.MAC)
	if p.Class.VID == mgmt.MaxVID {
		return ClassifierEntry{Type: "mac", Value: mac, Port: p.ID.String()}
	}
	return ClassifierEntry{
		Type:  "vlan",
		Value: strconv.Itoa(p.Class.VID) + "/" + mac,
		Port:  p.ID.String(),
	}
}

// CaptureRxPort names one port the pcap receiver reads.
type CaptureRxPort struct {
	Port string `json:"port"`
}

// CaptureCore is one pcap thread in status info.
type CaptureCore struct {
	Core     int             `json:"core"`
	Role     string          `json:"role"`
	RxPort   []CaptureRxPort `json:"rx_port,omitempty"`
	Filename string          `json:"filename,omitempty"`
}

// CaptureInfo is the status document of a pcap process.
type CaptureInfo struct {
	ClientID int           `json:"client-id"`
	Status   string        `json:"status"`
	Core     []CaptureCore `json:"core"`
}

// SortCaptureCores orders pcap cores by id.
func SortCaptureCores(cores []CaptureCore) {
	slices.SortFunc(cores, func(a, b CaptureCore) int { return a.Core - b.Core })
}
