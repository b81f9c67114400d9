// Package command decodes controller command strings into typed commands.
//
// A command line is a space-delimited token sequence. Token 0 selects a
// descriptor from the process's grammar table; each following token is
// decoded by an ordered list of typed field decoders. The first failing
// decoder aborts the line with a DecodeError naming the field.
package command

import (
	"fmt"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
)

// Kind identifies the variant held by a Command.
type Kind int

const (
	KindClientID Kind = iota + 1
	KindStatus
	KindExit
	KindComponent
	KindPort
	KindClassifierTable
	KindStartCapture
	KindStopCapture
)

var kindNames = map[Kind]string{
	KindClientID:        "_get_client_id",
	KindStatus:          "status",
	KindExit:            "exit",
	KindComponent:       "component",
	KindPort:            "port",
	KindClassifierTable: "classifier_table",
	KindStartCapture:    "start",
	KindStopCapture:     "stop",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Command is one decoded command.
type Command interface {
	Kind() Kind
}

// Action is the verb of a component, port or classifier_table command.
type Action int

const (
	ActionNone Action = iota
	ActionStart
	ActionStop
	ActionAdd
	ActionDel
)

var actionNames = [...]string{"none", "start", "stop", "add", "del"}

func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

func parseAction(s string) Action {
	for i, n := range actionNames {
		if i > 0 && n == s {
			return Action(i)
		}
	}
	return ActionNone
}

// ClientIDCommand is "_get_client_id".
type ClientIDCommand struct{}

// StatusCommand is "status".
type StatusCommand struct{}

// ExitCommand is "exit".
type ExitCommand struct{}

// StartCaptureCommand is the pcap "start".
type StartCaptureCommand struct{}

// StopCaptureCommand is the pcap "stop".
type StopCaptureCommand struct{}

// ComponentCommand is "component start <name> <core> <type>" or
// "component stop <name>".
type ComponentCommand struct {
	Action Action
	Name   string
	Core   int
	Type   mgmt.ComponentType
}

// PortCommand is "port add|del <port> <rx|tx> <component> [vlan-op [vid [pcp]]]".
type PortCommand struct {
	Action  Action
	Port    dataplane.PortID
	Dir     mgmt.Direction
	Name    string
	Ability mgmt.Ability
}

// ClassifierType selects the classifier_table key form.
type ClassifierType int

const (
	ClassifierNone ClassifierType = iota
	ClassifierMAC
	ClassifierVLAN
)

func (c ClassifierType) String() string {
	switch c {
	case ClassifierMAC:
		return "mac"
	case ClassifierVLAN:
		return "vlan"
	}
	return "none"
}

// ClassifierTableCommand is "classifier_table add|del mac <mac> <port>" or
// "classifier_table add|del vlan <vid> <mac> <port>".
type ClassifierTableCommand struct {
	Action Action
	Type   ClassifierType
	VID    int
	MAC    string
	Port   dataplane.PortID
}

// ClassID returns the classifier key the command binds or removes.
func (c *ClassifierTableCommand) ClassID() (mgmt.ClassID, error) {
	mac, err := mgmt.ParseMAC(c.MAC)
	if err != nil {
		return mgmt.ClassID{}, err
	}
	return mgmt.ClassID{MAC: mac, VID: c.VID}, nil
}

func (ClientIDCommand) Kind() Kind         { return KindClientID }
func (StatusCommand) Kind() Kind           { return KindStatus }
func (ExitCommand) Kind() Kind             { return KindExit }
func (StartCaptureCommand) Kind() Kind     { return KindStartCapture }
func (StopCaptureCommand) Kind() Kind      { return KindStopCapture }
func (*ComponentCommand) Kind() Kind       { return KindComponent }
func (*PortCommand) Kind() Kind            { return KindPort }
func (*ClassifierTableCommand) Kind() Kind { return KindClassifierTable }
