// Package debug implements an interactive, step-through debugger for
// computation graphs.
//
// To debug a graph, wrap its root node:
//
//	model, err := debug.Wrap(model, host)
//
// When the wrapped model is evaluated or trained (that is, when the host
// framework drives its forward or backward pass), execution pauses at every
// node and a command-line interface appears:
//
//	Forward after Parameter node with uid='Parameter2' shape=[](2)
//	[CNTK forward] >>> help
//	Commands:
//	    n - execute the next node
//	    n <number> - execute the next <number> nodes
//	    n <expression> - execute until the expression is true. Examples:
//	                     Until a Times node is hit:
//	                         n node.OpName == "Times"
//	                     Until a node with 3 static axes is hit:
//	                         n node.Rank == 3
//	                     Until the variance of the input exceeds 1:
//	                         n arg.Variance > 1.0
//	    f - run until forward pass (like 'n' when already in forward pass)
//	    b - run until backward pass (like 'n' when already in backward pass)
//	    c - run until end
//	    p - print input (forward) or root gradients (backward)
//	    d - break into an attached debugger (delve)
//	    q - quit
//
//	[CNTK forward] >>> n
//	Forward after Times node with uid='Times3' shape=[*](4)
//	[CNTK forward] >>> n
//	======================================== backward ========================================
//	Backward before Times node with uid='Times3' shape=[*](4)
//
// At every stop the following information is given:
//   - forward or backward pass
//   - node type (e.g. 'Times')
//   - name, if one was given, otherwise omitted
//   - uid, a unique reference within the graph
//   - shape, in the format [dynamic axes](static axes): "[*,*](2)" means two
//     dynamic axes (batch and sequence) and one static axis of dimension 2
package debug

import (
	"github.com/SingingData/CNTK/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DebugNode is a user function that forwards its input unchanged, pausing at
// every forward and backward invocation to run the session command loop.
type DebugNode struct {
	session *Session
	after   graph.Node
}

// NewDebugNode creates a debug node intercepting evaluation right after the
// given node. All debug nodes of one wrapped model share a session, so
// stepping is coherent across the whole graph traversal.
func NewDebugNode(after graph.Node, session *Session) *DebugNode {
	return &DebugNode{session: session, after: after}
}

// After returns the node this debug node wraps.
func (d *DebugNode) After() graph.Node { return d.after }

// Forward implements graph.UserFunction. It is a pass-through: the argument
// is returned unchanged after the command loop runs.
func (d *DebugNode) Forward(arg *tensors.Tensor) (graph.State, *tensors.Tensor) {
	d.session.step(passForward, d.after, nil, arg)
	return nil, arg
}

// Backward implements graph.UserFunction, passing root gradients through
// unchanged after the command loop runs.
func (d *DebugNode) Backward(state graph.State, rootGradients *tensors.Tensor) *tensors.Tensor {
	d.session.step(passBackward, d.after, state, rootGradients)
	return rootGradients
}

// InferOutputs implements graph.UserFunction: the output mirrors the wrapped
// node's shape and dynamic axes.
func (d *DebugNode) InferOutputs() []graph.Output {
	return []graph.Output{{Shape: d.after.Shape(), DynamicAxes: d.after.DynamicAxes()}}
}

// Wrap returns a clone of the model rooted at root with debug nodes inserted
// after every node. When the clone is evaluated or trained, the nodes pause
// execution and accept commands on stdin. Trainable parameters stay shared
// with the original model.
func Wrap(root graph.Node, host graph.Host) (graph.Node, error) {
	return WrapWithSession(root, host, NewSession())
}

// WrapWithSession is Wrap with an explicit session, letting callers redirect
// the command-line interface or share one session across several models.
func WrapWithSession(root graph.Node, host graph.Host, session *Session) (graph.Node, error) {
	if root == nil {
		return nil, errors.New("debug.Wrap: nil root node")
	}
	nodes := graph.AllNodes(root)
	klog.V(1).Infof("debug.Wrap: inserting debug nodes after %d nodes of the graph rooted at %q", len(nodes), root.UID())
	wrappers := make(map[graph.Node]graph.UserFunction, len(nodes))
	for _, n := range nodes {
		wrappers[n] = NewDebugNode(n, session)
	}
	wrapped, err := host.CloneShared(root, wrappers)
	if err != nil {
		return nil, errors.WithMessage(err, "debug.Wrap")
	}
	return wrapped, nil
}

// SaveAsLegacyModel saves the network of root in path, using the host's own
// legacy serializer. For debugging purposes only, very likely to be
// deprecated in the future.
func SaveAsLegacyModel(host graph.Host, root graph.Node, path string) error {
	return host.SaveLegacyModel(root, path)
}
