package engine

import (
	"sort"
	"strings"
	"time"

	"registrar-backend/internal/catalog"
)

// CycleSeverity grades how directly a course is affected by a circular
// dependency.
type CycleSeverity string

const (
	SeverityCritical CycleSeverity = "critical" // course sits on the cycle itself
	SeverityHigh     CycleSeverity = "high"     // prerequisite chain reaches a cycle within two edges
	SeverityMedium   CycleSeverity = "medium"   // chain reaches a cycle further out
)

// CircularDependencyResult is one finding from a catalog integrity scan.
// Findings persist until an administrator marks them resolved after fixing
// the offending rules.
type CircularDependencyResult struct {
	ID         string        `json:"id"`
	CourseCode string        `json:"course_code"`
	Path       []string      `json:"path"`
	Severity   CycleSeverity `json:"severity"`
	IsResolved bool          `json:"is_resolved"`
	DetectedAt time.Time     `json:"detected_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy string        `json:"resolved_by,omitempty"`
}

// CatalogAnalysis is the outcome of one full scan of the prerequisite graph.
type CatalogAnalysis struct {
	Cycles   [][]string                 `json:"cycles"`
	Findings []CircularDependencyResult `json:"findings"`
}

// HasCritical reports whether any finding blocks validation.
func (a *CatalogAnalysis) HasCritical() bool {
	for _, f := range a.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// CriticalCourses returns the set of courses sitting on a cycle.
func (a *CatalogAnalysis) CriticalCourses() map[string]bool {
	out := make(map[string]bool)
	for _, f := range a.Findings {
		if f.Severity == SeverityCritical {
			out[f.CourseCode] = true
		}
	}
	return out
}

// BuildDependencyGraph extracts the course dependency graph from the active
// prerequisite rules. An edge A -> B means A requires B. OR branches still
// contribute edges: a cycle through any branch is a catalog defect even if
// another branch offers a way around it.
func BuildDependencyGraph(reg *catalog.Registry) map[string][]string {
	graph := make(map[string][]string)
	for _, course := range reg.AllCourses() {
		required := reg.RequiredCourses(course.Code)
		if len(required) == 0 {
			continue
		}
		sort.Strings(required)
		graph[course.Code] = required
	}
	return graph
}

// dfs colors
const (
	white = 0 // unvisited
	gray  = 1 // on the current path
	black = 2 // fully explored
)

// detectCycles finds all distinct cycles via depth-first search. A back edge
// to a gray node closes a cycle; the cycle is the path segment from that node
// forward. Cycles are deduplicated by canonical rotation.
func detectCycles(graph map[string][]string) [][]string {
	color := make(map[string]int)
	var path []string
	seen := make(map[string]bool)
	var cycles [][]string

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		path = append(path, node)

		for _, dep := range graph[node] {
			switch color[dep] {
			case gray:
				// Back edge: slice the cycle out of the current path.
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), path[start:]...)
				key := canonicalCycle(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			case white:
				visit(dep)
			}
		}

		path = path[:len(path)-1]
		color[node] = black
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

// canonicalCycle rotates a cycle to start at its smallest node so the same
// cycle discovered from different entry points keys identically.
func canonicalCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	min := 0
	for i, n := range cycle {
		if n < cycle[min] {
			min = i
		}
	}
	rotated := make([]string, 0, len(cycle))
	rotated = append(rotated, cycle[min:]...)
	rotated = append(rotated, cycle[:min]...)
	return strings.Join(rotated, ">")
}

// AnalyzeCatalog runs a full cycle scan over the active prerequisite graph
// and grades every affected course: critical when the course is on a cycle,
// high when its chain reaches a cycle within two edges, medium beyond that.
func AnalyzeCatalog(reg *catalog.Registry) *CatalogAnalysis {
	graph := BuildDependencyGraph(reg)
	cycles := detectCycles(graph)

	analysis := &CatalogAnalysis{Cycles: cycles}
	if len(cycles) == 0 {
		return analysis
	}

	// Index which cycle each on-cycle node belongs to.
	cycleOf := make(map[string]int)
	for i, cycle := range cycles {
		for _, n := range cycle {
			if _, ok := cycleOf[n]; !ok {
				cycleOf[n] = i
			}
		}
	}

	now := time.Now().UTC()
	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	for _, node := range nodes {
		dist, entry, chain := distanceToCycle(graph, cycleOf, node)
		if dist < 0 {
			continue
		}

		var severity CycleSeverity
		switch {
		case dist == 0:
			severity = SeverityCritical
		case dist <= 2:
			severity = SeverityHigh
		default:
			severity = SeverityMedium
		}

		analysis.Findings = append(analysis.Findings, CircularDependencyResult{
			CourseCode: node,
			Path:       findingPath(chain, cycles[cycleOf[entry]], entry),
			Severity:   severity,
			DetectedAt: now,
		})
	}
	return analysis
}

// distanceToCycle BFS-walks the dependency edges from node to the nearest
// on-cycle course. Returns -1 when no cycle is reachable, otherwise the edge
// count, the cycle node reached, and the chain from node to it.
func distanceToCycle(graph map[string][]string, cycleOf map[string]int, node string) (int, string, []string) {
	if _, ok := cycleOf[node]; ok {
		return 0, node, []string{node}
	}

	type queueEntry struct {
		node string
		dist int
	}
	parent := map[string]string{node: ""}
	queue := []queueEntry{{node, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, dep := range graph[cur.node] {
			if _, visited := parent[dep]; visited {
				continue
			}
			parent[dep] = cur.node
			if _, ok := cycleOf[dep]; ok {
				chain := []string{dep}
				for p := cur.node; p != ""; p = parent[p] {
					chain = append([]string{p}, chain...)
				}
				return cur.dist + 1, dep, chain
			}
			queue = append(queue, queueEntry{dep, cur.dist + 1})
		}
	}
	return -1, "", nil
}

// findingPath joins the chain from the affected course to the cycle with the
// cycle itself, rotated to enter at the reached node and closed at the end.
func findingPath(chain []string, cycle []string, entry string) []string {
	start := 0
	for i, n := range cycle {
		if n == entry {
			start = i
			break
		}
	}
	path := append([]string(nil), chain[:len(chain)-1]...)
	path = append(path, cycle[start:]...)
	path = append(path, cycle[:start]...)
	path = append(path, entry)
	return path
}
