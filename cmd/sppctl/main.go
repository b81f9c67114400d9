// sppctl is an interactive shell for an SPP secondary process.
//
// It connects to the process's gRPC API and sends command requests with
// tab completion and "?" help for the process's grammar.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/psaab/spp/pkg/cmdtree"
	"github.com/psaab/spp/pkg/command"
	"github.com/psaab/spp/pkg/config"
	"github.com/psaab/spp/pkg/grpcapi"
	"github.com/psaab/spp/pkg/mgmt"
)

const callTimeout = 5 * time.Second

func main() {
	addr := flag.String("addr", config.DefaultGRPCAddr, "secondary process gRPC address")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: sppctl [-addr host:port] [command[;command...]]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sppctl: connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &ctl{client: grpcapi.NewClient(conn), out: os.Stdout}
	if err := c.identify(); err != nil {
		fmt.Fprintf(os.Stderr, "sppctl: cannot reach process at %s: %v\n", *addr, err)
		os.Exit(1)
	}

	if flag.NArg() > 0 {
		if err := c.dispatch(strings.Join(flag.Args(), " ")); err != nil && !errors.Is(err, errQuit) {
			fmt.Fprintf(os.Stderr, "sppctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		HistoryFile:     "/tmp/sppctl_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    &completer{ctl: c},
		Stdin:           os.Stdin,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		Listener: readline.FuncListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
			if key != '?' || pos < 1 {
				return line, pos, false
			}
			// Strip the '?' that readline already inserted.
			clean := make([]rune, 0, len(line)-1)
			clean = append(clean, line[:pos-1]...)
			clean = append(clean, line[pos:]...)
			cands := c.candidates(string(clean[:pos-1]))
			if len(cands) == 0 {
				fmt.Fprintln(c.rl.Stdout(), "  (no help available)")
			} else {
				cmdtree.WriteHelp(c.rl.Stdout(), cands)
			}
			return clean, pos - 1, true
		}),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sppctl: readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()
	c.rl = rl
	c.out = rl.Stdout()

	fmt.Printf("sppctl: connected to spp_%s client %d at %s\n", c.process, c.clientID, *addr)
	fmt.Println("Type '?' for help, 'quit' to leave")

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := c.dispatch(line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

type ctl struct {
	client   *grpcapi.Client
	rl       *readline.Instance
	out      io.Writer
	process  mgmt.ProcessType
	clientID int
	tree     map[string]*cmdtree.Node
}

// identify asks the process for its id and type and builds the matching
// completion tree.
func (c *ctl) identify() error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	raw, err := c.client.Execute(ctx, "_get_client_id")
	if err != nil {
		return err
	}
	var resp struct {
		ClientID    *int   `json:"client_id"`
		ProcessType string `json:"process_type"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return fmt.Errorf("decoding client id response: %w", err)
	}
	p, err := processByName(resp.ProcessType)
	if err != nil {
		return err
	}
	c.process = p
	if resp.ClientID != nil {
		c.clientID = *resp.ClientID
	}
	c.tree = cmdtree.Tree(command.NewParser(p, nil))
	return nil
}

func processByName(name string) (mgmt.ProcessType, error) {
	for _, p := range []mgmt.ProcessType{mgmt.ProcMirror, mgmt.ProcVF, mgmt.ProcPcap} {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown process type %q", name)
}

func (c *ctl) prompt() string {
	return fmt.Sprintf("spp_%s:%d> ", c.process, c.clientID)
}

// dispatch runs one input line: a shell keyword or a command request.
func (c *ctl) dispatch(line string) error {
	switch line {
	case "quit":
		return errQuit
	case "help":
		cmdtree.WriteHelp(c.out, c.candidates(""))
		return nil
	case "history":
		return c.call(c.client.History)
	case "status":
		return c.call(c.client.Status)
	}
	return c.call(func(ctx context.Context) (string, error) {
		return c.client.Execute(ctx, line)
	})
}

func (c *ctl) call(fn func(ctx context.Context) (string, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	raw, err := fn(ctx)
	if err != nil {
		return err
	}
	return printJSON(c.out, raw)
}

// printJSON indents a JSON document for the terminal.
func printJSON(w io.Writer, raw string) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		_, werr := fmt.Fprintln(w, raw)
		return werr
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
