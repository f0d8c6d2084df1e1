package graph

// DepthFirstSearch walks the graph rooted at root and returns, in visit
// order, every reachable node for which pred returns true.
//
// A node is visited before its inputs, each node exactly once; nodes shared
// by several consumers appear a single time. A nil root yields nil.
func DepthFirstSearch(root Node, pred func(Node) bool) []Node {
	if root == nil {
		return nil
	}
	var found []Node
	visited := make(map[Node]bool)
	var visit func(n Node)
	visit = func(n Node) {
		if n == nil || visited[n] {
			return
		}
		visited[n] = true
		if pred(n) {
			found = append(found, n)
		}
		for _, input := range n.Inputs() {
			visit(input)
		}
	}
	visit(root)
	return found
}

// AllNodes returns every node reachable from root, in visit order.
func AllNodes(root Node) []Node {
	return DepthFirstSearch(root, func(Node) bool { return true })
}
