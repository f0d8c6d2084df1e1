package debug

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/SingingData/CNTK/graph"
)

// formatStatus renders the metadata of a node the way stop lines show it,
// e.g. `Times node with name='h1' uid='Times29' shape=[*,*](2)`.
func formatStatus(node graph.Node) string {
	var buf bytes.Buffer
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}

	var nodeType string
	switch node.Kind() {
	case graph.KindConstant:
		nodeType = "Constant"
	case graph.KindParameter:
		nodeType = "Parameter"
	default:
		nodeType = node.OpName()
	}
	if node.IsSparse() {
		nodeType += " (sparse)"
	}
	w("%s node with ", nodeType)
	if name := node.Name(); name != "" {
		w("name='%s' ", name)
	}
	w("uid='%s' shape=%s%s", node.UID(),
		formatDynamicAxes(node.DynamicAxes()),
		formatStaticAxes(node.Shape().Dimensions))
	return buf.String()
}

// formatDynamicAxes renders one '*' per dynamic axis: "[*,*]", "[]" for none.
func formatDynamicAxes(n int) string {
	if n <= 0 {
		return "[]"
	}
	stars := make([]string, n)
	for ii := range stars {
		stars[ii] = "*"
	}
	return "[" + strings.Join(stars, ",") + "]"
}

// formatStaticAxes renders the static dimensions: "(2, 3)", "()" for scalars.
func formatStaticAxes(dims []int) string {
	if len(dims) == 0 {
		return "()"
	}
	parts := make([]string, len(dims))
	for ii, dim := range dims {
		parts[ii] = strconv.Itoa(dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
