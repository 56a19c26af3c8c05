package agent

// wouldCreateCycle checks whether setting candidate's reportsTo to
// proposedManager would introduce a cycle in the reports-to graph, given
// the current edges. Per spec.md §9: reconstruct the graph from truth on
// every call rather than maintaining one across calls.
func wouldCreateCycle(edges map[string]string, candidate, proposedManager string) bool {
	visited := map[string]bool{candidate: true}
	current := proposedManager

	for current != "" {
		if visited[current] {
			return true
		}
		visited[current] = true
		next, ok := edges[current]
		if !ok {
			return false
		}
		current = next
	}
	return false
}

// countHeads returns how many manifests in edges have no manager ("" reportsTo).
func countHeads(edges map[string]string) int {
	count := 0
	for _, reportsTo := range edges {
		if reportsTo == "" {
			count++
		}
	}
	return count
}

// headID returns the id of the agent with no manager in edges.
func headID(edges map[string]string) (string, bool) {
	for id, reportsTo := range edges {
		if reportsTo == "" {
			return id, true
		}
	}
	return "", false
}
