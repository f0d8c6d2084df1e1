package hosttest

import (
	"path/filepath"
	"testing"

	"github.com/SingingData/CNTK/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardTimes(t *testing.T) {
	g := New()
	x := g.Input("x", shapes.Make(dtypes.Float32, 1, 2), 1)
	w := g.Parameter("w", tensors.FromAnyValue([][]float32{{1, 2}, {3, 4}}))
	y := g.Times(x, w)

	ev, err := g.Eval(y, map[string]*tensors.Tensor{
		"x": tensors.FromAnyValue([][]float32{{1, 1}}),
	})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{4, 6}}, ev.Output().Value())
}

func TestForwardMissingFeed(t *testing.T) {
	g := New()
	x := g.Input("x", shapes.Make(dtypes.Float32, 1, 2), 1)
	y := g.Tanh(x)

	_, err := g.Eval(y, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no feed given for input "x"`)
}

func TestBackwardTimesGradients(t *testing.T) {
	// y = x . w, dy/dw = x^T . dy
	g := New()
	x := g.Input("x", shapes.Make(dtypes.Float32, 1, 2), 1)
	w := g.Parameter("w", tensors.FromAnyValue([][]float32{{1, 0}, {0, 1}}))
	y := g.Times(x, w)

	ev, err := g.Eval(y, map[string]*tensors.Tensor{
		"x": tensors.FromAnyValue([][]float32{{2, 3}}),
	})
	require.NoError(t, err)

	grads, err := ev.Backprop(tensors.FromAnyValue([][]float32{{1, 1}}))
	require.NoError(t, err)
	require.Contains(t, grads, "w")
	assert.Equal(t, [][]float32{{2, 2}, {3, 3}}, grads["w"].Value())
}

func TestBackwardTanh(t *testing.T) {
	g := New()
	w := g.Parameter("w", tensors.FromAnyValue([][]float32{{0, 0}}))
	y := g.Tanh(w)

	ev, err := g.Eval(y, nil)
	require.NoError(t, err)
	grads, err := ev.Backprop(tensors.FromAnyValue([][]float32{{1, 1}}))
	require.NoError(t, err)
	// tanh'(0) = 1.
	assert.Equal(t, [][]float32{{1, 1}}, grads["w"].Value())
}

func TestBackwardFanOutAccumulates(t *testing.T) {
	// y = w + w doubles the gradient.
	g := New()
	w := g.Parameter("w", tensors.FromAnyValue([][]float32{{1, 2}}))
	y := g.Plus(w, w)

	ev, err := g.Eval(y, nil)
	require.NoError(t, err)
	grads, err := ev.Backprop(tensors.FromAnyValue([][]float32{{1, 1}}))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 2}}, grads["w"].Value())
}

func TestBuilderShapeChecks(t *testing.T) {
	g := New()
	a := g.Parameter("a", tensors.FromAnyValue([][]float32{{1, 2}}))
	b := g.Parameter("b", tensors.FromAnyValue([][]float32{{1, 2}}))
	assert.Panics(t, func() { g.Times(a, b) })  // [1,2] x [1,2]
	assert.NotPanics(t, func() { g.Plus(a, b) })

	c := g.Parameter("c", tensors.FromAnyValue([][]float32{{1, 2, 3}}))
	assert.Panics(t, func() { g.Plus(a, c) })
}

// recordingFunction is a pass-through user function that records its calls.
type recordingFunction struct {
	after    graph.Node
	forward  int
	backward int
}

func (r *recordingFunction) Forward(arg *tensors.Tensor) (graph.State, *tensors.Tensor) {
	r.forward++
	return "state", arg
}

func (r *recordingFunction) Backward(state graph.State, rootGradients *tensors.Tensor) *tensors.Tensor {
	if state == "state" {
		r.backward++
	}
	return rootGradients
}

func (r *recordingFunction) InferOutputs() []graph.Output {
	return []graph.Output{{Shape: r.after.Shape(), DynamicAxes: r.after.DynamicAxes()}}
}

func TestCloneSharedSplicesWrappers(t *testing.T) {
	g := New()
	x := g.Input("x", shapes.Make(dtypes.Float32, 1, 2), 1)
	w := g.Parameter("w", tensors.FromAnyValue([][]float32{{1, 0}, {0, 1}}))
	y := g.Times(x, w)

	fns := map[graph.Node]*recordingFunction{}
	wrappers := map[graph.Node]graph.UserFunction{}
	for _, n := range graph.AllNodes(y) {
		fn := &recordingFunction{after: n}
		fns[n] = fn
		wrappers[n] = fn
	}
	wrapped, err := g.CloneShared(y, wrappers)
	require.NoError(t, err)

	feeds := map[string]*tensors.Tensor{"x": tensors.FromAnyValue([][]float32{{5, 7}})}
	ev, err := g.Eval(wrapped, feeds)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5, 7}}, ev.Output().Value())

	_, err = ev.Backprop(tensors.FromAnyValue([][]float32{{1, 1}}))
	require.NoError(t, err)

	for n, fn := range fns {
		assert.Equal(t, 1, fn.forward, "forward calls for %s", n.UID())
	}
	// Every function on the root-to-input path sees the backward pass.
	assert.Equal(t, 1, fns[graph.Node(y)].backward)
}

func TestCloneSharedAliasesParameters(t *testing.T) {
	g := New()
	w := g.Parameter("w", tensors.FromAnyValue([][]float32{{1, 2}}))
	y := g.Tanh(w)

	clone, err := g.CloneShared(y, nil)
	require.NoError(t, err)

	var cloneParam *Node
	for _, n := range graph.DepthFirstSearch(clone, func(n graph.Node) bool { return n.Kind() == graph.KindParameter }) {
		cloneParam = n.(*Node)
	}
	require.NotNil(t, cloneParam)
	assert.Same(t, w.Value(), cloneParam.Value())
	assert.Equal(t, w.UID(), cloneParam.UID())
}

func TestCloneSharedRejectsForeignNodes(t *testing.T) {
	g := New()
	_, err := g.CloneShared(foreignNode{}, nil)
	assert.Error(t, err)
}

type foreignNode struct{}

func (foreignNode) UID() string          { return "foreign" }
func (foreignNode) Name() string         { return "" }
func (foreignNode) OpName() string       { return "Foreign" }
func (foreignNode) Kind() graph.Kind     { return graph.KindOperation }
func (foreignNode) Shape() shapes.Shape  { return shapes.Shape{} }
func (foreignNode) DynamicAxes() int     { return 0 }
func (foreignNode) IsSparse() bool       { return false }
func (foreignNode) Inputs() []graph.Node { return nil }

func TestSaveLegacyModel(t *testing.T) {
	g := New()
	w := g.Parameter("w", tensors.FromAnyValue([][]float32{{1, 2}}))
	y := g.Tanh(w)

	path := filepath.Join(t.TempDir(), "model.legacy")
	require.NoError(t, g.SaveLegacyModel(y, path))
}
