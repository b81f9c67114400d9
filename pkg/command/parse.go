package command

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/mgmt"
)

// MaxTokens is the largest number of tokens a command line may have.
const MaxTokens = 8

// Checker answers the registry questions decoders ask. *mgmt.State
// satisfies it.
type Checker interface {
	ComponentByName(name string) (mgmt.Component, bool)
	PortAdded(id dataplane.PortID) bool
	PortInUse(id dataplane.PortID, dir mgmt.Direction) bool
	Port(id dataplane.PortID) (mgmt.Port, bool)
}

// descriptor is one grammar table row. Lines whose first token equals name
// and whose token count lies in [min, max] are decoded by decode, which
// gets every token after the name. override is set when the line uses the
// longest form the descriptor allows.
type descriptor struct {
	name     string
	min, max int
	decode   func(p *Parser, args []string, override bool) (Command, error)
}

// param is one positional field decoder for a command of type T.
type param[T any] struct {
	name   string
	decode func(cmd *T, tok string, override bool) error
}

// Parser decodes command lines for one process variant.
type Parser struct {
	process mgmt.ProcessType
	check   Checker
	grammar []descriptor
}

// NewParser returns a parser for the grammar of process, consulting check
// for registry state.
func NewParser(process mgmt.ProcessType, check Checker) *Parser {
	p := &Parser{process: process, check: check}
	switch process {
	case mgmt.ProcVF:
		p.grammar = vfGrammar
	case mgmt.ProcPcap:
		p.grammar = pcapGrammar
	default:
		p.grammar = mirrorGrammar
	}
	return p
}

// Commands lists the command names the parser accepts, in grammar order.
func (p *Parser) Commands() []string {
	var out []string
	seen := make(map[string]bool)
	for _, d := range p.grammar {
		if !seen[d.name] {
			seen[d.name] = true
			out = append(out, d.name)
		}
	}
	return out
}

// Tokenize splits a command line on spaces, ignoring runs of spaces.
func Tokenize(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool { return r == ' ' })
}

// Parse decodes one command line. The returned error is always a
// *DecodeError.
func (p *Parser) Parse(line string) (Command, error) {
	toks := Tokenize(line)
	if len(toks) == 0 || len(toks) > MaxTokens {
		slog.Error("parse failed, bad token count", "line", line, "tokens", len(toks))
		return nil, &DecodeError{Code: ErrWrongFormat}
	}

	arityMismatch := false
	for i := range p.grammar {
		d := &p.grammar[i]
		if d.name != toks[0] {
			continue
		}
		if len(toks) < d.min || len(toks) > d.max {
			arityMismatch = true
			continue
		}
		cmd, err := d.decode(p, toks[1:], len(toks) == d.max)
		if err != nil {
			return nil, err
		}
		return cmd, nil
	}

	if arityMismatch {
		slog.Error("parse failed, wrong token count", "command", toks[0], "tokens", len(toks))
		return nil, &DecodeError{Code: ErrWrongFormat}
	}
	slog.Error("parse failed, unknown command", "command", toks[0])
	return nil, &DecodeError{Code: ErrUnknownCommand, Value: toks[0], Name: "command"}
}

// decodeParams runs params over args in order. Tokens beyond the table are
// ignored; the first failure aborts.
func decodeParams[T any](params []param[T], cmd *T, args []string, override bool) error {
	for i, tok := range args {
		if i >= len(params) {
			break
		}
		if err := params[i].decode(cmd, tok, override); err != nil {
			slog.Error("bad value in command",
				"name", params[i].name, "index", i+1, "value", tok, "err", err)
			if de, ok := err.(*DecodeError); ok {
				de.Value, de.Name = tok, params[i].name
				return de
			}
			return &DecodeError{Code: ErrWrongValue, Value: tok, Name: params[i].name}
		}
	}
	return nil
}

// decodeInt parses a numeric field (0x and 0 prefixes select hex and
// octal) and checks it against [lo, hi]. A token that is not a number at
// all is a type error.
func decodeInt(tok string, lo, hi int) (int, error) {
	n, err := dataplane.ParseNumber(tok)
	if err != nil {
		if errors.Is(err, strconv.ErrSyntax) {
			return 0, &DecodeError{Code: ErrWrongType}
		}
		return 0, errors.Wrap(err, "integer")
	}
	if n < int64(lo) || n > int64(hi) {
		return 0, errors.Errorf("%d out of range [%d, %d]", n, lo, hi)
	}
	return int(n), nil
}

func noParam(name string) error {
	slog.Error("missing parameter in command", "name", name)
	return &DecodeError{Code: ErrNoParam, Name: name}
}

var (
	clientIDDescriptor = descriptor{name: "_get_client_id", min: 1, max: 1, decode: constant(ClientIDCommand{})}
	statusDescriptor   = descriptor{name: "status", min: 1, max: 1, decode: constant(StatusCommand{})}
	exitDescriptor     = descriptor{name: "exit", min: 1, max: 1, decode: constant(ExitCommand{})}
)

var mirrorGrammar = []descriptor{
	clientIDDescriptor,
	statusDescriptor,
	exitDescriptor,
	{name: "component", min: 3, max: 5, decode: (*Parser).decodeComponent},
	{name: "port", min: 5, max: 8, decode: (*Parser).decodePort},
}

var vfGrammar = []descriptor{
	{name: "classifier_table", min: 5, max: 5, decode: (*Parser).decodeClassifierMAC},
	{name: "classifier_table", min: 6, max: 6, decode: (*Parser).decodeClassifierVLAN},
	clientIDDescriptor,
	statusDescriptor,
	exitDescriptor,
	{name: "component", min: 3, max: 5, decode: (*Parser).decodeComponent},
	{name: "port", min: 5, max: 8, decode: (*Parser).decodePort},
}

var pcapGrammar = []descriptor{
	clientIDDescriptor,
	statusDescriptor,
	exitDescriptor,
	{name: "start", min: 1, max: 1, decode: constant(StartCaptureCommand{})},
	{name: "stop", min: 1, max: 1, decode: constant(StopCaptureCommand{})},
}

func constant(c Command) func(*Parser, []string, bool) (Command, error) {
	return func(*Parser, []string, bool) (Command, error) { return c, nil }
}
