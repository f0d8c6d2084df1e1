package debug

import (
	"strconv"
	"strings"

	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

type commandKind int

const (
	cmdNext commandKind = iota
	cmdContinue
	cmdUntilForward
	cmdUntilBackward
	cmdPrint
	cmdBreakpoint
	cmdPredicate
	cmdQuit
)

// command is one entry of the session's pending-command stack.
type command struct {
	kind commandKind

	// source and program are set for cmdPredicate only.
	source  string
	program *vm.Program
}

const helpText = `Commands:
    n - execute the next node
    n <number> - execute the next <number> nodes
    n <expression> - execute until the expression is true. Examples:
                     Until a Times node is hit:
                         n node.OpName == "Times"
                     Until a node with 3 static axes is hit:
                         n node.Rank == 3
                     Until the variance of the input exceeds 1:
                         n arg.Variance > 1.0
    f - run until forward pass (like 'n' when already in forward pass)
    b - run until backward pass (like 'n' when already in backward pass)
    c - run until end
    p - print input (forward) or root gradients (backward)
    d - break into an attached debugger (delve)
    q - quit
`

// parseCommand turns one input line into the commands to push on the stack.
// 'n <number>' expands to that many single steps, mirroring how repeated 'n'
// commands are consumed one node at a time.
func (s *Session) parseCommand(line string) ([]command, error) {
	switch line {
	case "b":
		return []command{{kind: cmdUntilBackward}}, nil
	case "c":
		return []command{{kind: cmdContinue}}, nil
	case "d":
		return []command{{kind: cmdBreakpoint}}, nil
	case "f":
		return []command{{kind: cmdUntilForward}}, nil
	case "p":
		return []command{{kind: cmdPrint}}, nil
	case "q":
		return []command{{kind: cmdQuit}}, nil
	case "n":
		return []command{{kind: cmdNext}}, nil
	}

	if !strings.HasPrefix(line, "n") {
		return nil, errors.Errorf("unknown command %q", line)
	}
	rest := strings.TrimSpace(line[1:])
	if count, err := strconv.Atoi(rest); err == nil {
		if count < 1 {
			return nil, errors.Errorf("step count must be positive, got %d", count)
		}
		cmds := make([]command, count)
		for ii := range cmds {
			cmds[ii] = command{kind: cmdNext}
		}
		return cmds, nil
	}

	program, err := s.compilePredicate(rest)
	if err != nil {
		return nil, err
	}
	return []command{{kind: cmdPredicate, source: rest, program: program}}, nil
}
