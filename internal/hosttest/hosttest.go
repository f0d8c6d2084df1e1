// Package hosttest implements the graph contract with a deliberately small
// host: float32 tensors, rank <= 2, and just enough ops (Times, Plus, Tanh)
// to build networks that exercise forward and backward hooks.
//
// It plays the role gomlx's graphtest plays for graph tests: it is test
// support, not an execution engine anyone should train models on.
package hosttest

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/SingingData/CNTK/graph"
	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Graph builds and evaluates a small computation graph.
type Graph struct {
	seq int
}

// New creates an empty graph builder.
func New() *Graph {
	return &Graph{}
}

// Node is a node of the test host graph. It implements graph.Node.
type Node struct {
	g       *Graph
	uid     string
	name    string
	op      string
	kind    graph.Kind
	shape   shapes.Shape
	dynAxes int
	sparse  bool
	inputs  []*Node

	// value holds the data of parameters and constants. Clones alias it.
	value *tensors.Tensor

	// fn is set on nodes spliced in by CloneShared.
	fn graph.UserFunction
}

func (n *Node) UID() string         { return n.uid }
func (n *Node) Name() string        { return n.name }
func (n *Node) OpName() string      { return n.op }
func (n *Node) Kind() graph.Kind    { return n.kind }
func (n *Node) Shape() shapes.Shape { return n.shape }
func (n *Node) DynamicAxes() int    { return n.dynAxes }
func (n *Node) IsSparse() bool      { return n.sparse }

// Inputs implements graph.Node.
func (n *Node) Inputs() []graph.Node {
	if len(n.inputs) == 0 {
		return nil
	}
	out := make([]graph.Node, len(n.inputs))
	for ii, input := range n.inputs {
		out[ii] = input
	}
	return out
}

// Value returns the tensor backing a parameter or constant, nil otherwise.
// Mutating it is how tests verify clones share parameters.
func (n *Node) Value() *tensors.Tensor { return n.value }

func (g *Graph) newNode(op string, kind graph.Kind, shape shapes.Shape, dynAxes int, inputs ...*Node) *Node {
	g.seq++
	return &Node{
		g:       g,
		uid:     fmt.Sprintf("%s%d", op, g.seq),
		op:      op,
		kind:    kind,
		shape:   shape,
		dynAxes: dynAxes,
		inputs:  inputs,
	}
}

func checkFloat32(op string, nodes ...*Node) {
	for _, n := range nodes {
		if n.shape.DType != dtypes.Float32 {
			exceptions.Panicf("hosttest.%s: only Float32 supported, got %s from %q", op, n.shape.DType, n.uid)
		}
	}
}

// Input declares a graph input fed at evaluation time.
func (g *Graph) Input(name string, shape shapes.Shape, dynamicAxes int) *Node {
	n := g.newNode("Input", graph.KindInput, shape, dynamicAxes)
	n.name = name
	return n
}

// Parameter declares a trainable parameter holding value.
func (g *Graph) Parameter(name string, value *tensors.Tensor) *Node {
	n := g.newNode("Parameter", graph.KindParameter, value.Shape(), 0)
	n.name = name
	n.value = value
	return n
}

// Constant declares a fixed value baked into the graph.
func (g *Graph) Constant(value *tensors.Tensor) *Node {
	n := g.newNode("Constant", graph.KindConstant, value.Shape(), 0)
	n.value = value
	return n
}

// Times is a 2-D matrix multiplication: [m,k] x [k,n] -> [m,n].
func (g *Graph) Times(a, b *Node) *Node {
	checkFloat32("Times", a, b)
	aDims, bDims := a.shape.Dimensions, b.shape.Dimensions
	if len(aDims) != 2 || len(bDims) != 2 || aDims[1] != bDims[0] {
		exceptions.Panicf("hosttest.Times: incompatible shapes %s and %s", a.shape, b.shape)
	}
	shape := shapes.Make(dtypes.Float32, aDims[0], bDims[1])
	return g.newNode("Times", graph.KindOperation, shape, max(a.dynAxes, b.dynAxes), a, b)
}

// Plus is an element-wise sum of two same-shaped nodes.
func (g *Graph) Plus(a, b *Node) *Node {
	checkFloat32("Plus", a, b)
	if !a.shape.Equal(b.shape) {
		exceptions.Panicf("hosttest.Plus: incompatible shapes %s and %s", a.shape, b.shape)
	}
	return g.newNode("Plus", graph.KindOperation, a.shape, max(a.dynAxes, b.dynAxes), a, b)
}

// Tanh is an element-wise hyperbolic tangent.
func (g *Graph) Tanh(a *Node) *Node {
	checkFloat32("Tanh", a)
	return g.newNode("Tanh", graph.KindOperation, a.shape, a.dynAxes, a)
}

// CloneShared implements graph.Host: it rebuilds the graph rooted at root,
// splicing the user function of every wrapped node immediately downstream of
// its clone. Parameter and constant values stay aliased to the original.
func (g *Graph) CloneShared(root graph.Node, wrappers map[graph.Node]graph.UserFunction) (graph.Node, error) {
	rootNode, ok := root.(*Node)
	if !ok {
		return nil, errors.Errorf("hosttest.CloneShared: root %T is not a hosttest node", root)
	}
	memo := make(map[*Node]*Node)
	return g.cloneNode(rootNode, wrappers, memo), nil
}

func (g *Graph) cloneNode(n *Node, wrappers map[graph.Node]graph.UserFunction, memo map[*Node]*Node) *Node {
	if c, found := memo[n]; found {
		return c
	}
	clone := &Node{
		g:       g,
		uid:     n.uid,
		name:    n.name,
		op:      n.op,
		kind:    n.kind,
		shape:   n.shape,
		dynAxes: n.dynAxes,
		sparse:  n.sparse,
		value:   n.value,
	}
	for _, input := range n.inputs {
		clone.inputs = append(clone.inputs, g.cloneNode(input, wrappers, memo))
	}
	result := clone
	if fn := wrappers[graph.Node(n)]; fn != nil {
		outs := fn.InferOutputs()
		if len(outs) != 1 {
			exceptions.Panicf("hosttest.CloneShared: user function on %q inferred %d outputs, want 1", n.uid, len(outs))
		}
		splice := g.newNode("UserFunction", graph.KindOperation, outs[0].Shape, outs[0].DynamicAxes, clone)
		splice.fn = fn
		result = splice
	}
	memo[n] = result
	return result
}

// SaveLegacyModel implements graph.Host. The format belongs to this test
// host only: a gob of the parameter tensors reachable from root.
func (g *Graph) SaveLegacyModel(root graph.Node, path string) error {
	type legacyTensor struct {
		Dims []int
		Data []float32
	}
	params := make(map[string]legacyTensor)
	for _, n := range graph.DepthFirstSearch(root, func(n graph.Node) bool { return n.Kind() == graph.KindParameter }) {
		hn := n.(*Node)
		lt := legacyTensor{Dims: hn.shape.Dimensions}
		tensors.ConstFlatData[float32](hn.value, func(flat []float32) {
			lt.Data = append([]float32(nil), flat...)
		})
		params[hn.name] = lt
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "hosttest.SaveLegacyModel(%q)", path)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(params); err != nil {
		return errors.Wrapf(err, "hosttest.SaveLegacyModel(%q)", path)
	}
	return nil
}

// Evaluation holds the results of a forward pass, and can run the matching
// backward pass.
type Evaluation struct {
	root   *Node
	values map[*Node]*tensors.Tensor
	states map[*Node]graph.State
	order  []*Node
}

// Eval runs the forward pass of the graph rooted at root, feeding inputs by
// name. Spliced user functions have their Forward hook invoked in graph
// order.
func (g *Graph) Eval(root graph.Node, feeds map[string]*tensors.Tensor) (ev *Evaluation, err error) {
	rootNode, ok := root.(*Node)
	if !ok {
		return nil, errors.Errorf("hosttest.Eval: root %T is not a hosttest node", root)
	}
	ev = &Evaluation{
		root:   rootNode,
		values: make(map[*Node]*tensors.Tensor),
		states: make(map[*Node]graph.State),
	}
	err = exceptions.TryCatch[error](func() { ev.forward(rootNode, feeds) })
	if err != nil {
		return nil, errors.WithMessage(err, "hosttest.Eval")
	}
	return ev, nil
}

// Output returns the value of the root node.
func (ev *Evaluation) Output() *tensors.Tensor {
	return ev.values[ev.root]
}

func (ev *Evaluation) forward(n *Node, feeds map[string]*tensors.Tensor) *tensors.Tensor {
	if v, found := ev.values[n]; found {
		return v
	}
	var v *tensors.Tensor
	switch {
	case n.kind == graph.KindInput:
		v = feeds[n.name]
		if v == nil {
			exceptions.Panicf("no feed given for input %q", n.name)
		}
		if !v.Shape().Equal(n.shape) {
			exceptions.Panicf("feed for input %q has shape %s, want %s", n.name, v.Shape(), n.shape)
		}
	case n.kind == graph.KindParameter || n.kind == graph.KindConstant:
		v = n.value
	case n.fn != nil:
		arg := ev.forward(n.inputs[0], feeds)
		var state graph.State
		state, v = n.fn.Forward(arg)
		ev.states[n] = state
	default:
		args := make([]*tensors.Tensor, len(n.inputs))
		for ii, input := range n.inputs {
			args[ii] = ev.forward(input, feeds)
		}
		switch n.op {
		case "Times":
			v = matmul(args[0], args[1])
		case "Plus":
			v = add(args[0], args[1])
		case "Tanh":
			v = unaryMap(args[0], math32.Tanh)
		default:
			exceptions.Panicf("hosttest: unknown op %q", n.op)
		}
	}
	ev.values[n] = v
	ev.order = append(ev.order, n)
	return v
}

// Backprop runs the backward pass from the root with the given root
// gradients, invoking the Backward hook of spliced user functions, and
// returns the accumulated gradients keyed by parameter name.
func (ev *Evaluation) Backprop(rootGradients *tensors.Tensor) (grads map[string]*tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() { grads = ev.backprop(rootGradients) })
	if err != nil {
		return nil, errors.WithMessage(err, "hosttest.Backprop")
	}
	return grads, nil
}

func (ev *Evaluation) backprop(rootGradients *tensors.Tensor) map[string]*tensors.Tensor {
	if len(ev.order) == 0 {
		exceptions.Panicf("backprop called before forward")
	}
	nodeGrads := make(map[*Node]*tensors.Tensor)
	nodeGrads[ev.root] = rootGradients
	accumulate := func(n *Node, grad *tensors.Tensor) {
		if prev, found := nodeGrads[n]; found {
			nodeGrads[n] = add(prev, grad)
		} else {
			nodeGrads[n] = grad
		}
	}
	for ii := len(ev.order) - 1; ii >= 0; ii-- {
		n := ev.order[ii]
		grad := nodeGrads[n]
		if grad == nil {
			continue
		}
		switch {
		case n.fn != nil:
			accumulate(n.inputs[0], n.fn.Backward(ev.states[n], grad))
		case n.op == "Times":
			a, b := ev.values[n.inputs[0]], ev.values[n.inputs[1]]
			accumulate(n.inputs[0], matmul(grad, transpose(b)))
			accumulate(n.inputs[1], matmul(transpose(a), grad))
		case n.op == "Plus":
			accumulate(n.inputs[0], grad)
			accumulate(n.inputs[1], grad)
		case n.op == "Tanh":
			y := ev.values[n]
			accumulate(n.inputs[0], binaryMap(grad, y, func(dy, yv float32) float32 {
				return dy * (1 - yv*yv)
			}))
		}
	}
	grads := make(map[string]*tensors.Tensor)
	for n, grad := range nodeGrads {
		if n.kind == graph.KindParameter {
			grads[n.name] = grad
		}
	}
	return grads
}

func matmul(a, b *tensors.Tensor) *tensors.Tensor {
	aDims, bDims := a.Shape().Dimensions, b.Shape().Dimensions
	m, k, n := aDims[0], aDims[1], bDims[1]
	if bDims[0] != k {
		exceptions.Panicf("matmul: incompatible shapes %s and %s", a.Shape(), b.Shape())
	}
	out := make([]float32, m*n)
	tensors.ConstFlatData[float32](a, func(aFlat []float32) {
		tensors.ConstFlatData[float32](b, func(bFlat []float32) {
			for i := range m {
				for p := range k {
					av := aFlat[i*k+p]
					if av == 0 {
						continue
					}
					for j := range n {
						out[i*n+j] += av * bFlat[p*n+j]
					}
				}
			}
		})
	})
	return tensors.FromFlatDataAndDimensions(out, m, n)
}

func transpose(a *tensors.Tensor) *tensors.Tensor {
	dims := a.Shape().Dimensions
	m, n := dims[0], dims[1]
	out := make([]float32, m*n)
	tensors.ConstFlatData[float32](a, func(flat []float32) {
		for i := range m {
			for j := range n {
				out[j*m+i] = flat[i*n+j]
			}
		}
	})
	return tensors.FromFlatDataAndDimensions(out, n, m)
}

func add(a, b *tensors.Tensor) *tensors.Tensor {
	return binaryMap(a, b, func(x, y float32) float32 { return x + y })
}

func unaryMap(a *tensors.Tensor, fn func(float32) float32) *tensors.Tensor {
	var out []float32
	tensors.ConstFlatData[float32](a, func(flat []float32) {
		out = make([]float32, len(flat))
		for ii, v := range flat {
			out[ii] = fn(v)
		}
	})
	return tensors.FromFlatDataAndDimensions(out, a.Shape().Dimensions...)
}

func binaryMap(a, b *tensors.Tensor, fn func(x, y float32) float32) *tensors.Tensor {
	if !a.Shape().Equal(b.Shape()) {
		exceptions.Panicf("incompatible shapes %s and %s", a.Shape(), b.Shape())
	}
	var out []float32
	tensors.ConstFlatData[float32](a, func(aFlat []float32) {
		tensors.ConstFlatData[float32](b, func(bFlat []float32) {
			out = make([]float32, len(aFlat))
			for ii := range aFlat {
				out[ii] = fn(aFlat[ii], bFlat[ii])
			}
		})
	})
	return tensors.FromFlatDataAndDimensions(out, a.Shape().Dimensions...)
}
