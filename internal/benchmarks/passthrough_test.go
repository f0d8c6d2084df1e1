// Benchmarks for the overhead of the debug pass-through nodes: the same
// forward/backward round is measured on a bare model and on a wrapped model
// whose session auto-continues into io.Discard.
//
// Run with:
//
//	go test ./internal/benchmarks -test.v -bench_duration=1s
package benchmarks

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/SingingData/CNTK/debug"
	"github.com/SingingData/CNTK/internal/hosttest"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/janpfeifer/go-benchmarks"
	"github.com/janpfeifer/must"
)

var flagBenchDuration = flag.Duration("bench_duration", 0, "Duration of each benchmark; 0 skips them.")

const (
	featureDim = 32
	hiddenDim  = 32
)

// buildMLP returns a 2-layer tanh MLP and its input feed.
func buildMLP(g *hosttest.Graph) (root *hosttest.Node, feeds map[string]*tensors.Tensor) {
	x := g.Input("x", shapes.Make(dtypes.Float32, 1, featureDim), 1)
	w1 := g.Parameter("w1", constMatrix(featureDim, hiddenDim, 0.01))
	w2 := g.Parameter("w2", constMatrix(hiddenDim, featureDim, 0.01))
	root = g.Tanh(g.Times(g.Tanh(g.Times(x, w1)), w2))
	feeds = map[string]*tensors.Tensor{"x": constMatrix(1, featureDim, 0.5)}
	return
}

func constMatrix(rows, cols int, value float32) *tensors.Tensor {
	flat := make([]float32, rows*cols)
	for ii := range flat {
		flat[ii] = value
	}
	return tensors.FromFlatDataAndDimensions(flat, rows, cols)
}

func TestBenchPassthrough(t *testing.T) {
	if *flagBenchDuration == 0 {
		t.Skip("Benchmarks disabled, enable them with -bench_duration")
	}

	g := hosttest.New()
	bare, feeds := buildMLP(g)

	session := debug.NewSession().
		WithInput(strings.NewReader("c\n")).
		WithOutput(io.Discard)
	wrapped := must.M1(debug.WrapWithSession(bare, g, session))

	rootGrads := constMatrix(1, featureDim, 1)
	roundTrip := func(root *hosttest.Node) {
		ev := must.M1(g.Eval(root, feeds))
		must.M1(ev.Backprop(rootGrads))
	}

	// Warm the session past its single prompt before measuring.
	roundTrip(wrapped.(*hosttest.Node))

	bareFn := benchmarks.NamedFunction{
		Name: fmt.Sprintf("Forward+Backward/bare/%dx%d:", featureDim, hiddenDim),
		Func: func() { roundTrip(bare) },
	}
	wrappedFn := benchmarks.NamedFunction{
		Name: fmt.Sprintf("Forward+Backward/debug/%dx%d:", featureDim, hiddenDim),
		Func: func() { roundTrip(wrapped.(*hosttest.Node)) },
	}

	benchmarks.New(bareFn).
		WithWarmUps(16).
		WithDuration(*flagBenchDuration).
		Done()
	benchmarks.New(wrappedFn).
		WithWarmUps(16).
		WithDuration(*flagBenchDuration).
		WithHeader(false).
		Done()
}
