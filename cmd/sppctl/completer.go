package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/psaab/spp/pkg/cmdtree"
)

// shellCommands are handled by sppctl itself and never sent.
var shellCommands = map[string]string{
	"help":    "Show top-level commands",
	"history": "Show committed commands",
	"quit":    "Leave sppctl",
}

// splitInput returns the complete words and the partial word of the last
// command in a ';' separated line.
func splitInput(text string) (words []string, partial string) {
	if i := strings.LastIndexByte(text, ';'); i >= 0 {
		text = text[i+1:]
	}
	words = strings.Fields(text)
	if len(words) > 0 && !strings.HasSuffix(text, " ") {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}
	return words, partial
}

// statusDoc is the subset of the status document used for completion.
type statusDoc struct {
	Phy   []int `json:"phy"`
	Vhost []int `json:"vhost"`
	Ring  []int `json:"ring"`
	Core  []struct {
		Name string `json:"name"`
	} `json:"core"`
}

// dynamicFromStatus extracts component names and port strings.
func dynamicFromStatus(raw string) (cmdtree.Dynamic, error) {
	var doc statusDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return cmdtree.Dynamic{}, err
	}
	var dyn cmdtree.Dynamic
	for _, c := range doc.Core {
		if c.Name != "" {
			dyn.Components = append(dyn.Components, c.Name)
		}
	}
	for _, set := range []struct {
		typ string
		ids []int
	}{{"phy", doc.Phy}, {"vhost", doc.Vhost}, {"ring", doc.Ring}} {
		for _, id := range set.ids {
			dyn.Ports = append(dyn.Ports, fmt.Sprintf("%s:%d", set.typ, id))
		}
	}
	sort.Strings(dyn.Components)
	return dyn, nil
}

func (c *ctl) dynamic() cmdtree.Dynamic {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := c.client.Status(ctx)
	if err != nil {
		return cmdtree.Dynamic{}
	}
	dyn, _ := dynamicFromStatus(raw)
	return dyn
}

// candidates returns completions for the text before the cursor.
func (c *ctl) candidates(text string) []cmdtree.Candidate {
	words, partial := splitInput(text)
	out := cmdtree.Complete(c.tree, words, partial, c.dynamic())
	if len(words) == 0 && !strings.Contains(text, ";") {
		for name, desc := range shellCommands {
			if strings.HasPrefix(name, partial) {
				out = append(out, cmdtree.Candidate{Name: name, Desc: desc})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out
}

type completer struct {
	ctl *ctl
}

func (rc *completer) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])
	_, partial := splitInput(text)

	var names []string
	var shown []cmdtree.Candidate
	for _, cand := range rc.ctl.candidates(text) {
		shown = append(shown, cand)
		if !cand.Placeholder {
			names = append(names, cand.Name)
		}
	}
	if len(names) == 1 {
		return [][]rune{[]rune(names[0][len(partial):] + " ")}, len(partial)
	}
	if len(shown) > 0 {
		cmdtree.WriteHelp(rc.ctl.rl.Stdout(), shown)
	}
	cp := cmdtree.CommonPrefix(names)
	if len(cp) <= len(partial) {
		return nil, 0
	}
	return [][]rune{[]rune(cp[len(partial):])}, len(partial)
}
