package debug

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/SingingData/CNTK/graph"
	"github.com/expr-lang/expr/vm"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"k8s.io/klog/v2"
)

// pass is the direction of the evaluation currently intercepted.
type pass int

const (
	passForward pass = iota
	passBackward
)

func (p pass) String() string {
	if p == passForward {
		return "forward"
	}
	return "backward"
}

// Session holds the stepping state shared by every debug node of a wrapped
// model: the stack of pending commands and the last pass seen, so that a
// single 'n 10' or 'c' applies coherently across the whole graph traversal.
//
// It is safe to use from concurrent forward/backward hook invocations.
type Session struct {
	mu       sync.Mutex
	in       *bufio.Scanner
	out      io.Writer
	commands []command
	lastPass pass
	programs map[string]*vm.Program

	exit       func(code int)
	breakpoint func()
}

// NewSession creates a session reading commands from stdin and writing to
// stdout.
func NewSession() *Session {
	return &Session{
		in:         bufio.NewScanner(os.Stdin),
		out:        os.Stdout,
		programs:   make(map[string]*vm.Program),
		exit:       os.Exit,
		breakpoint: runtime.Breakpoint,
	}
}

// WithInput redirects where the session reads commands from.
func (s *Session) WithInput(r io.Reader) *Session {
	s.in = bufio.NewScanner(r)
	return s
}

// WithOutput redirects where the session writes its transcript.
func (s *Session) WithOutput(w io.Writer) *Session {
	s.out = w
	return s
}

// WithExitFunc replaces the handler of the 'q' command (default os.Exit).
func (s *Session) WithExitFunc(fn func(code int)) *Session {
	s.exit = fn
	return s
}

// WithBreakpointFunc replaces the handler of the 'd' command (default
// runtime.Breakpoint, which stops an attached delve/gdb session).
func (s *Session) WithBreakpointFunc(fn func()) *Session {
	s.breakpoint = fn
	return s
}

// step runs the command loop for one node of one pass. It blocks until a
// command lets execution proceed.
func (s *Session) step(p pass, node graph.Node, state graph.State, data *tensors.Tensor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.printStatus(p, node)

	done := false
	for !done {
		if len(s.commands) == 0 {
			s.commands = s.waitForInput(p)
		}
		top := s.commands[len(s.commands)-1]
		switch top.kind {
		case cmdContinue:
			// Stays on the stack: runs to the end.
			done = true

		case cmdNext:
			s.pop()
			done = true

		case cmdUntilBackward:
			if p == passBackward {
				s.pop()
			}
			done = true

		case cmdUntilForward:
			if p == passForward {
				s.pop()
			}
			done = true

		case cmdPrint:
			s.printData(p, state, data)
			s.pop()

		case cmdBreakpoint:
			s.pop()
			s.breakpoint()
			done = true

		case cmdPredicate:
			if s.matches(top, node, data) {
				s.pop()
			} else {
				done = true
			}
		}
	}
	s.lastPass = p
}

func (s *Session) pop() {
	s.commands = s.commands[:len(s.commands)-1]
}

// waitForInput prompts until it reads something it understands. EOF on the
// input behaves like 'c': the rest of the evaluation runs without stops.
func (s *Session) waitForInput(p pass) []command {
	prompt := fmt.Sprintf("[CNTK %s] >>> ", p)
	for {
		fmt.Fprint(s.out, prompt)
		if !s.in.Scan() {
			klog.V(1).Info("debug session input closed, continuing to completion")
			return []command{{kind: cmdContinue}}
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		cmds, err := s.parseCommand(line)
		if err != nil {
			fmt.Fprintf(s.out, "%v\n", err)
			fmt.Fprint(s.out, helpText)
			continue
		}
		if cmds[0].kind == cmdQuit {
			s.exit(0)
			return []command{{kind: cmdContinue}}
		}
		return cmds
	}
}

func (s *Session) printStatus(p pass, node graph.Node) {
	const bar = "========================================"
	if p != s.lastPass {
		if p == passForward {
			fmt.Fprintf(s.out, "\n%s forward  %s\n", bar, bar)
		} else {
			fmt.Fprintf(s.out, "%s backward %s\n", bar, bar)
		}
	}
	if p == passForward {
		fmt.Fprintf(s.out, "Forward after %s\n", formatStatus(node))
	} else {
		fmt.Fprintf(s.out, "Backward before %s\n", formatStatus(node))
	}
}

// printData implements the 'p' command: the node input in the forward pass,
// the state and root gradients in the backward pass.
func (s *Session) printData(p pass, state graph.State, data *tensors.Tensor) {
	if p == passForward {
		fmt.Fprintln(s.out, "Input:")
	} else {
		fmt.Fprintf(s.out, "State: %v\n", state)
		fmt.Fprintln(s.out, "Root gradients:")
	}
	if data == nil {
		fmt.Fprintln(s.out, "<no data>")
		return
	}
	fmt.Fprintf(s.out, "%v\n", data.Value())
	if stats, ok := summarize(data); ok {
		fmt.Fprintf(s.out, "(%s)\n", stats)
	}
}
