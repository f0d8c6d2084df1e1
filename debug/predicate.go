package debug

import (
	"fmt"

	"github.com/SingingData/CNTK/graph"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// compilePredicate compiles a step expression, caching compiled programs so
// that re-entering the same expression doesn't recompile it.
func (s *Session) compilePredicate(source string) (*vm.Program, error) {
	if program, found := s.programs[source]; found {
		return program, nil
	}
	program, err := expr.Compile(source, expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid step expression %q", source)
	}
	s.programs[source] = program
	return program, nil
}

// matches evaluates a step predicate at the current node. Runtime failures
// are reported and count as "not matched", so execution keeps running.
func (s *Session) matches(cmd command, node graph.Node, data *tensors.Tensor) bool {
	result, err := expr.Run(cmd.program, predicateEnv(node, data))
	if err != nil {
		fmt.Fprintf(s.out, "step expression %q failed: %v\n", cmd.source, err)
		return false
	}
	matched, ok := result.(bool)
	return ok && matched
}

// predicateEnv builds the expression environment: 'node' describes the graph
// node being stepped over, 'arg' the tensor flowing through it (the input in
// the forward pass, the root gradients in the backward pass).
func predicateEnv(node graph.Node, data *tensors.Tensor) map[string]any {
	shape := node.Shape()
	env := map[string]any{
		"node": map[string]any{
			"OpName":      node.OpName(),
			"Name":        node.Name(),
			"UID":         node.UID(),
			"Kind":        node.Kind().String(),
			"Rank":        shape.Rank(),
			"Dims":        shape.Dimensions,
			"DType":       shape.DType.String(),
			"DynamicAxes": node.DynamicAxes(),
			"Sparse":      node.IsSparse(),
		},
	}
	arg := map[string]any{
		"Rank": 0,
		"Dims": []int(nil),
		"Size": 0,
	}
	if data != nil {
		dataShape := data.Shape()
		arg["Rank"] = dataShape.Rank()
		arg["Dims"] = dataShape.Dimensions
		arg["Size"] = dataShape.Size()
		if stats, ok := summarize(data); ok {
			arg["Min"] = stats.Min
			arg["Max"] = stats.Max
			arg["Mean"] = stats.Mean
			arg["Variance"] = stats.Variance
			arg["NaNs"] = stats.NaNs
		}
	}
	env["arg"] = arg
	return env
}
