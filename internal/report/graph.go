package report

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-resilience/internal/models"
)

// Node categories.
const (
	CategoryRoot      = "root"
	CategoryAffected  = "affected"
	CategoryResilient = "resilient"
	CategoryComponent = "component"
	CategoryPrimary   = "primary"
	CategorySecondary = "secondary"
	CategoryFallback  = "fallback"
)

// Node is a graph vertex.
type Node struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// Edge is a labelled directed edge.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// Graph is a toolkit-neutral node/edge list.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// RenderCascadeGraph draws root -> effect edges ("cascades") and root -> resilient edges ("contained").
// A component is categorised root over affected over resilient.
func RenderCascadeGraph(cascades []models.FailureCascade) Graph {
	rank := map[string]int{CategoryResilient: 0, CategoryAffected: 1, CategoryRoot: 2}
	category := make(map[string]string)
	mark := func(name, cat string) {
		if cur, ok := category[name]; !ok || rank[cat] > rank[cur] {
			category[name] = cat
		}
	}

	type edgeKey struct{ from, to, label string }
	counts := make(map[edgeKey]int)
	for _, c := range cascades {
		if len(c.Effects) > 0 {
			mark(c.Root, CategoryRoot)
		} else {
			mark(c.Root, CategoryResilient)
		}
		for _, e := range c.Effects {
			mark(e, CategoryAffected)
			counts[edgeKey{c.Root, e, "cascades"}]++
		}
		for _, r := range c.ResilientComponents {
			mark(r, CategoryResilient)
			counts[edgeKey{c.Root, r, "contained"}]++
		}
	}

	g := Graph{Nodes: make([]Node, 0, len(category)), Edges: make([]Edge, 0, len(counts))}
	for name, cat := range category {
		g.Nodes = append(g.Nodes, Node{ID: nodeID(name), Label: name, Category: cat})
	}
	for k, n := range counts {
		label := k.label
		if n > 1 {
			label = fmt.Sprintf("%s x%d", k.label, n)
		}
		g.Edges = append(g.Edges, Edge{From: nodeID(k.from), To: nodeID(k.to), Label: label})
	}
	g.sort()
	return g
}

// RenderRecoveryGraph draws each component's ordered strategies: component -> primary -> secondary -> fallback.
func RenderRecoveryGraph(paths []models.RecoveryPath) Graph {
	g := Graph{Nodes: make([]Node, 0), Edges: make([]Edge, 0)}
	seen := make(map[string]bool)
	addNode := func(n Node) {
		if !seen[n.ID] {
			seen[n.ID] = true
			g.Nodes = append(g.Nodes, n)
		}
	}

	for _, p := range paths {
		if p.Component == "" || p.Primary == "" {
			continue
		}
		compID := nodeID(p.Component)
		addNode(Node{ID: compID, Label: p.Component, Category: CategoryComponent})

		failure := p.FailureType
		if failure == "" {
			failure = "any"
		}
		prefix := compID + "_" + nodeID(failure)

		tiers := []struct{ strategy, category string }{
			{p.Primary, CategoryPrimary},
			{p.Secondary, CategorySecondary},
			{p.Fallback, CategoryFallback},
		}
		prev := compID
		for i, tier := range tiers {
			if tier.strategy == "" {
				continue
			}
			id := prefix + "_" + tier.category
			label := tier.strategy
			edgeLabel := "then"
			if i == 0 {
				edgeLabel = failure
				if p.RecoveryTimeMs > 0 {
					label = fmt.Sprintf("%s (%.0fms)", tier.strategy, p.RecoveryTimeMs)
				}
			}
			addNode(Node{ID: id, Label: label, Category: tier.category})
			g.Edges = append(g.Edges, Edge{From: prev, To: id, Label: edgeLabel})
			prev = id
		}
	}
	g.sort()
	return g
}

// Mermaid encodes the graph as a Mermaid flowchart.
func (g Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %s[\"%s\"]:::%s\n", n.ID, escapeQuotes(n.Label), n.Category)
	}
	for _, e := range g.Edges {
		if e.Label == "" {
			fmt.Fprintf(&b, "  %s --> %s\n", e.From, e.To)
			continue
		}
		fmt.Fprintf(&b, "  %s -->|%s| %s\n", e.From, escapeQuotes(e.Label), e.To)
	}
	return b.String()
}

// DOT encodes the graph in Graphviz DOT.
func (g Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph resilience {\n  rankdir=LR;\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %s [label=%q, class=%q];\n", n.ID, n.Label, n.Category)
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "  %s -> %s [label=%q];\n", e.From, e.To, e.Label)
	}
	b.WriteString("}\n")
	return b.String()
}

func (g *Graph) sort() {
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
}

// nodeID maps a name onto identifier-safe characters. A name that needed rewriting gets a
// hash suffix of the original so distinct names never share an id.
func nodeID(name string) string {
	var b strings.Builder
	rewritten := name == ""
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
			rewritten = true
		}
	}
	if !rewritten {
		return b.String()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return fmt.Sprintf("%s_x%08x", b.String(), h.Sum32())
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}
