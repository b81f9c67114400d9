package cmdtree

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/psaab/spp/pkg/command"
	"github.com/psaab/spp/pkg/mgmt"
)

func names(cs []Candidate) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

func TestTreeMatchesGrammar(t *testing.T) {
	for _, proc := range []mgmt.ProcessType{mgmt.ProcMirror, mgmt.ProcVF, mgmt.ProcPcap} {
		p := command.NewParser(proc, nil)
		tree := Tree(p)
		want := p.Commands()
		sort.Strings(want)
		got := make([]string, 0, len(tree))
		for k := range tree {
			got = append(got, k)
		}
		sort.Strings(got)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s tree commands mismatch (-want +got):\n%s", proc, diff)
		}
	}
}

func TestComplete(t *testing.T) {
	vf := Tree(command.NewParser(mgmt.ProcVF, nil))
	mirror := Tree(command.NewParser(mgmt.ProcMirror, nil))
	dyn := Dynamic{Components: []string{"cls1", "fwd1"}, Ports: []string{"phy:0", "ring:0"}}

	tests := []struct {
		name    string
		tree    map[string]*Node
		words   []string
		partial string
		want    []string
	}{
		{"top level prefix", vf, nil, "c", []string{"classifier_table", "component"}},
		{"component actions", vf, []string{"component"}, "", []string{"start", "stop"}},
		{"stop offers components", vf, []string{"component", "stop"}, "f", []string{"fwd1"}},
		{"start placeholder", vf, []string{"component", "start"}, "", []string{"<name>"}},
		{"vf types", vf, []string{"component", "start", "x", "2"}, "", []string{"classifier_mac", "forward", "merge"}},
		{"mirror types", mirror, []string{"component", "start", "x", "2"}, "", []string{"mirror"}},
		{"port dirs", vf, []string{"port", "add", "ring:0"}, "", []string{"rx", "tx"}},
		{"port names", vf, []string{"port", "add", "ring:0", "tx"}, "c", []string{"cls1"}},
		{"vlan ops", vf, []string{"port", "add", "ring:0", "tx", "fwd1"}, "", []string{"add_vlantag", "del_vlantag"}},
		{"del has no vlan", vf, []string{"port", "del", "ring:0", "tx", "fwd1"}, "", nil},
		{"classifier mac", vf, []string{"classifier_table", "add", "mac"}, "d", []string{"default"}},
		{"classifier vlan port", vf, []string{"classifier_table", "add", "vlan", "10", "default"}, "p", []string{"phy:0"}},
		{"past the end", vf, []string{"status", "x"}, "", nil},
	}
	for _, tt := range tests {
		got := names(Complete(tt.tree, tt.words, tt.partial, dyn))
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s: Complete(%v, %q) mismatch (-want +got):\n%s", tt.name, tt.words, tt.partial, diff)
		}
	}
}

func TestPcapTree(t *testing.T) {
	tree := Tree(command.NewParser(mgmt.ProcPcap, nil))
	got := names(Complete(tree, nil, "st", Dynamic{}))
	if diff := cmp.Diff([]string{"start", "status", "stop"}, got); diff != "" {
		t.Errorf("pcap completions mismatch (-want +got):\n%s", diff)
	}
	if _, ok := tree["component"]; ok {
		t.Error("pcap tree should not offer component")
	}
}

func TestWriteHelp(t *testing.T) {
	var buf bytes.Buffer
	WriteHelp(&buf, []Candidate{{Name: "status", Desc: "Show process status"}, {Name: "exit"}})
	out := buf.String()
	if !strings.HasPrefix(out, "Possible completions:\n") {
		t.Errorf("header missing: %q", out)
	}
	if !strings.Contains(out, "  status               Show process status\n") {
		t.Errorf("aligned line missing: %q", out)
	}
}

func TestCommonPrefix(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"classifier_table", "component"}, "c"},
		{[]string{"start", "status", "stop"}, "st"},
		{[]string{"exit"}, "exit"},
	}
	for _, tt := range tests {
		if got := CommonPrefix(tt.in); got != tt.want {
			t.Errorf("CommonPrefix(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
