// Package graph defines the contract through which this module talks to the
// host deep-learning framework.
//
//   - Node: read-only metadata surface of a node in the host's computation
//     graph (uid, name, op type, shape, dynamic axes, inputs).
//   - UserFunction: a pluggable node the host splices into its graph and
//     invokes during forward and backward evaluation.
//   - Host: the graph-rewriting and serialization operations supplied by the
//     host framework (clone with shared parameters, legacy model saving).
//
// The host's execution engine, autodiff and device management are out of
// scope here: anything that implements these interfaces can be debugged.
package graph

import (
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Kind classifies a node in the host graph.
type Kind int

const (
	// KindOperation is a computed node (e.g. a matrix multiplication).
	KindOperation Kind = iota

	// KindInput is a graph input fed at evaluation time.
	KindInput

	// KindParameter is a trainable parameter.
	KindParameter

	// KindConstant is a fixed value baked into the graph.
	KindConstant
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindOperation:
		return "Operation"
	case KindInput:
		return "Input"
	case KindParameter:
		return "Parameter"
	case KindConstant:
		return "Constant"
	}
	return "Invalid"
}

// Node is the metadata surface of a node in the host framework's graph.
//
// Implementations are expected to be cheap: all methods are called while the
// debugger renders status lines, potentially once per node per pass.
type Node interface {
	// UID uniquely identifies the node within its graph, e.g. "Times29".
	UID() string

	// Name is the user-assigned name of the node. May be empty.
	Name() string

	// OpName is the operation type of the node, e.g. "Times" or "Tanh".
	// For parameters and constants it matches the Kind name.
	OpName() string

	// Kind classifies the node.
	Kind() Kind

	// Shape describes the static axes and dtype of the node's output.
	Shape() shapes.Shape

	// DynamicAxes is the number of dynamic (batch, sequence, ...) axes in
	// front of the static ones.
	DynamicAxes() int

	// IsSparse reports whether the node's output uses a sparse layout.
	IsSparse() bool

	// Inputs returns the nodes feeding this one.
	Inputs() []Node
}

// Output describes one inferred output of a UserFunction.
type Output struct {
	Shape       shapes.Shape
	DynamicAxes int
}

// State is an opaque value a UserFunction forwards from its Forward call to
// the matching Backward call. The host stores it, never inspects it.
type State any

// UserFunction is the host framework's extension point: custom code spliced
// into the graph as if it were a native operation.
//
// The host invokes Forward during the forward pass with the materialized
// value of the function's input, and Backward during the backward pass with
// the gradients flowing into the function's output.
type UserFunction interface {
	// Forward consumes the input value and produces the output value, plus
	// any state needed by Backward.
	Forward(arg *tensors.Tensor) (State, *tensors.Tensor)

	// Backward consumes the state from Forward and the gradients with respect
	// to the function's output, and produces the gradients with respect to
	// its input.
	Backward(state State, rootGradients *tensors.Tensor) *tensors.Tensor

	// InferOutputs describes the outputs of the function, so the host can
	// wire it into the graph without evaluating it.
	InferOutputs() []Output
}

// Host exposes the graph-rewriting and serialization machinery of the host
// framework.
type Host interface {
	// CloneShared returns a structurally modified copy of the graph rooted at
	// root: every node present in wrappers has its user function spliced in
	// immediately downstream, so consumers of the node see the function's
	// output instead. Trainable parameters stay aliased to the original
	// graph.
	CloneShared(root Node, wrappers map[Node]UserFunction) (Node, error)

	// SaveLegacyModel serializes the graph rooted at root using the host's
	// own legacy format.
	SaveLegacyModel(root Node, path string) error
}
