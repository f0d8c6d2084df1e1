// graphdbg runs an interactive step-through debugging session over a small
// demo network, to try out the command-line interface without a real model:
//
//	graphdbg --hidden=8
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/SingingData/CNTK/debug"
	"github.com/SingingData/CNTK/internal/hosttest"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	flagFeatures = 4
	flagHidden   = 8
	flagSeed     = uint64(42)
)

func main() {
	cmd := &cobra.Command{
		Use:   "graphdbg",
		Short: "Step through the forward and backward pass of a demo network",
		Long: `graphdbg builds a 2-layer tanh network on the test host, wraps it with
debug nodes and runs one forward and one backward pass. Execution pauses at
every graph node; type 'help' at the prompt for the available commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	cmd.Flags().IntVar(&flagFeatures, "features", flagFeatures, "Number of input features.")
	cmd.Flags().IntVar(&flagHidden, "hidden", flagHidden, "Size of the hidden layer.")
	cmd.Flags().Uint64Var(&flagSeed, "seed", flagSeed, "Seed for the random input and parameters.")
	klog.InitFlags(nil)
	cmd.Flags().AddGoFlagSet(flag.CommandLine)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	rng := rand.New(rand.NewPCG(flagSeed, 0))
	randMatrix := func(rows, cols int) *tensors.Tensor {
		flat := make([]float32, rows*cols)
		for ii := range flat {
			flat[ii] = rng.Float32() - 0.5
		}
		return tensors.FromFlatDataAndDimensions(flat, rows, cols)
	}

	g := hosttest.New()
	x := g.Input("x", shapes.Make(dtypes.Float32, 1, flagFeatures), 1)
	w1 := g.Parameter("w1", randMatrix(flagFeatures, flagHidden))
	w2 := g.Parameter("w2", randMatrix(flagHidden, flagFeatures))
	model := g.Tanh(g.Times(g.Tanh(g.Times(x, w1)), w2))

	wrapped, err := debug.Wrap(model, g)
	if err != nil {
		return err
	}

	feeds := map[string]*tensors.Tensor{"x": randMatrix(1, flagFeatures)}
	ev, err := g.Eval(wrapped, feeds)
	if err != nil {
		return err
	}
	fmt.Printf("\nOutput: %v\n\n", ev.Output().Value())

	grads, err := ev.Backprop(onesLike(ev.Output()))
	if err != nil {
		return err
	}
	for name, grad := range grads {
		fmt.Printf("Gradient of %s: %v\n", name, grad.Value())
	}
	return nil
}

func onesLike(t *tensors.Tensor) *tensors.Tensor {
	dims := t.Shape().Dimensions
	size := t.Shape().Size()
	flat := make([]float32, size)
	for ii := range flat {
		flat[ii] = 1
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...)
}
