package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/psaab/spp/pkg/cmdtree"
)

func TestSplitInput(t *testing.T) {
	tests := []struct {
		text    string
		words   []string
		partial string
	}{
		{"", nil, ""},
		{"sta", nil, "sta"},
		{"component ", []string{"component"}, ""},
		{"component st", []string{"component"}, "st"},
		{"status; comp", nil, "comp"},
		{"status;component start ", []string{"component", "start"}, ""},
	}
	for _, tt := range tests {
		words, partial := splitInput(tt.text)
		if diff := cmp.Diff(tt.words, words, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("splitInput(%q) words mismatch (-want +got):\n%s", tt.text, diff)
		}
		if partial != tt.partial {
			t.Errorf("splitInput(%q) partial = %q, want %q", tt.text, partial, tt.partial)
		}
	}
}

func TestDynamicFromStatus(t *testing.T) {
	raw := `{"client-id":1,"phy":[0,1],"vhost":[],"ring":[3],
		"core":[{"core":2,"name":"mr1","type":"mirror"},{"core":3,"type":"unuse"},{"core":4,"name":"fw1","type":"forward"}]}`
	dyn, err := dynamicFromStatus(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := cmdtree.Dynamic{
		Components: []string{"fw1", "mr1"},
		Ports:      []string{"phy:0", "phy:1", "ring:3"},
	}
	if diff := cmp.Diff(want, dyn); diff != "" {
		t.Errorf("dynamicFromStatus mismatch (-want +got):\n%s", diff)
	}
	if _, err := dynamicFromStatus("not json"); err == nil {
		t.Error("dynamicFromStatus accepted bad input")
	}
}

func TestProcessByName(t *testing.T) {
	for _, name := range []string{"mirror", "vf", "pcap"} {
		p, err := processByName(name)
		if err != nil || p.String() != name {
			t.Errorf("processByName(%q) = %v, %v", name, p, err)
		}
	}
	if _, err := processByName("nfv"); err == nil {
		t.Error("processByName accepted an unknown type")
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printJSON(&buf, `{"results":[{"result":"success"}]}`); err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"results\": [\n    {\n      \"result\": \"success\"\n    }\n  ]\n}\n"
	if buf.String() != want {
		t.Errorf("printJSON = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	printJSON(&buf, "plain")
	if strings.TrimSpace(buf.String()) != "plain" {
		t.Errorf("printJSON passthrough = %q", buf.String())
	}
}
