// Package cmdtree builds the completion and help trees for the command
// grammars of the secondary processes. The interactive shell walks a tree
// to offer tab completion and "?" help.
package cmdtree

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/psaab/spp/pkg/command"
)

// Node is one keyword in a tree.
type Node struct {
	Desc     string
	Children map[string]*Node
	// Arg accepts any word at this position when no child matches.
	Arg *Arg
}

// Arg is a free-form parameter position.
type Arg struct {
	Name string // placeholder shown in help, e.g. "<core>"
	Desc string
	// Values offers live completions; nil offers none.
	Values func(Dynamic) []string
	Next   *Node
}

// Dynamic carries live values for completion, taken from the process
// status.
type Dynamic struct {
	Components []string
	Ports      []string
}

// Candidate holds a completion and its description for display.
// Placeholder candidates are shown in help but never inserted.
type Candidate struct {
	Name        string
	Desc        string
	Placeholder bool
}

func components(d Dynamic) []string { return d.Components }
func ports(d Dynamic) []string { return d.Ports }

// Tree returns the top-level nodes of the grammar p parses.
func Tree(p *command.Parser) map[string]*Node {
	types := map[string]*Node{}
	for _, t := range p.ComponentTypes() {
		types[t] = &Node{Desc: "Component type"}
	}
	vlan := map[string]*Node{
		"add_vlantag": {Desc: "Push a vlan tag", Arg: &Arg{
			Name: "<vid>", Desc: "Vlan id 0-4095",
			Next: &Node{Arg: &Arg{Name: "<pcp>", Desc: "Priority 0-7"}},
		}},
		"del_vlantag": {Desc: "Pop the vlan tag"},
	}
	portDir := func(next map[string]*Node) map[string]*Node {
		name := &Arg{Name: "<name>", Desc: "Component name", Values: components, Next: &Node{Children: next}}
		return map[string]*Node{
			"rx": {Desc: "Receive side", Arg: name},
			"tx": {Desc: "Transmit side", Arg: name},
		}
	}
	all := map[string]*Node{
		"_get_client_id": {Desc: "Show the client id and process type"},
		"status":         {Desc: "Show process status"},
		"exit":           {Desc: "Terminate the process"},
		"component": {Desc: "Start or stop a component", Children: map[string]*Node{
			"start": {Desc: "Start a component", Arg: &Arg{
				Name: "<name>", Desc: "New component name",
				Next: &Node{Arg: &Arg{
					Name: "<core>", Desc: "Lcore id",
					Next: &Node{Children: types},
				}},
			}},
			"stop": {Desc: "Stop a component", Arg: &Arg{Name: "<name>", Desc: "Component name", Values: components}},
		}},
		"port": {Desc: "Attach or detach a port", Children: map[string]*Node{
			"add": {Desc: "Attach a port", Arg: &Arg{
				Name: "<port>", Desc: "phy:N, vhost:N or ring:N", Values: ports,
				Next: &Node{Children: portDir(vlan)},
			}},
			"del": {Desc: "Detach a port", Arg: &Arg{
				Name: "<port>", Desc: "phy:N, vhost:N or ring:N", Values: ports,
				Next: &Node{Children: portDir(nil)},
			}},
		}},
		"classifier_table": {Desc: "Edit the classifier table", Children: classifierActions()},
		"start":            {Desc: "Start capturing"},
		"stop":             {Desc: "Stop capturing"},
	}

	tree := make(map[string]*Node)
	for _, name := range p.Commands() {
		if n, ok := all[name]; ok {
			tree[name] = n
		}
	}
	return tree
}

func classifierActions() map[string]*Node {
	port := func() *Node {
		return &Node{Arg: &Arg{Name: "<port>", Desc: "Destination port", Values: ports}}
	}
	mac := func() *Node {
		return &Node{Arg: &Arg{Name: "<mac>", Desc: "MAC address or default", Values: func(Dynamic) []string { return []string{"default"} }, Next: port()}}
	}
	types := func() map[string]*Node {
		return map[string]*Node{
			"mac":  {Desc: "Match destination MAC", Arg: mac().Arg},
			"vlan": {Desc: "Match vlan id and destination MAC", Arg: &Arg{Name: "<vid>", Desc: "Vlan id", Next: mac()}},
		}
	}
	return map[string]*Node{
		"add": {Desc: "Add an entry", Children: types()},
		"del": {Desc: "Delete an entry", Children: types()},
	}
}

// Complete returns the candidates for partial after the complete words.
func Complete(tree map[string]*Node, words []string, partial string, dyn Dynamic) []Candidate {
	cur := &Node{Children: tree}
	for _, w := range words {
		if child, ok := cur.Children[w]; ok {
			cur = child
			continue
		}
		if cur.Arg == nil || cur.Arg.Next == nil {
			return nil
		}
		cur = cur.Arg.Next
	}

	var out []Candidate
	for name, n := range cur.Children {
		if strings.HasPrefix(name, partial) {
			out = append(out, Candidate{Name: name, Desc: n.Desc})
		}
	}
	if a := cur.Arg; a != nil {
		if a.Values != nil {
			for _, v := range FilterPrefix(a.Values(dyn), partial) {
				out = append(out, Candidate{Name: v, Desc: a.Desc})
			}
		}
		if partial == "" {
			out = append(out, Candidate{Name: a.Name, Desc: a.Desc, Placeholder: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WriteHelp prints aligned candidates to w in one write.
func WriteHelp(w io.Writer, candidates []Candidate) {
	width := 20
	for _, c := range candidates {
		if len(c.Name)+2 > width {
			width = len(c.Name) + 2
		}
	}
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, c := range candidates {
		if c.Desc != "" {
			fmt.Fprintf(&sb, "  %-*s %s\n", width, c.Name, c.Desc)
		} else {
			fmt.Fprintf(&sb, "  %s\n", c.Name)
		}
	}
	io.WriteString(w, sb.String())
}

// CommonPrefix returns the longest shared prefix among items.
func CommonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := items[0]
	for _, s := range items[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

// FilterPrefix returns the items that start with prefix.
func FilterPrefix(items []string, prefix string) []string {
	if prefix == "" {
		return items
	}
	var out []string
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			out = append(out, item)
		}
	}
	return out
}
