package graph

import (
	"cmp"
	"slices"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
)

const (
	baseNodeSize = 10.0
	nodeSizeStep = 4.0
	maxNodeSize  = 40.0
)

// builder accumulates nodes and edges, merging repeats, and shapes the
// result into a capped subgraph.
type builder struct {
	nodes     map[string]*common.GraphNode
	nodeOrder []string
	edges     map[string]*common.GraphEdge
	edgeOrder []string
	degree    map[string]int
	seeds     map[string]bool
}

func newBuilder(seeds []string) *builder {
	b := &builder{
		nodes:  make(map[string]*common.GraphNode),
		edges:  make(map[string]*common.GraphEdge),
		degree: make(map[string]int),
		seeds:  make(map[string]bool),
	}
	for _, s := range seeds {
		b.seeds[entityID(s)] = true
	}
	return b
}

// entityID is the identity of a named entity: its folded surface form.
func entityID(name string) string {
	return "e:" + util.Fold(name)
}

func documentID(id string) string {
	return "d:" + id
}

// isSeed reports whether id is a seed or a node whose name contains a seed,
// so "Oswaldo Olivo" also seeds "Oswaldo Olivo Pérez".
func (b *builder) isSeed(id string) bool {
	if b.seeds[id] {
		return true
	}
	n, ok := b.nodes[id]
	if !ok {
		return false
	}
	for s := range b.seeds {
		if util.ContainsFold(n.Name, s[len("e:"):]) {
			return true
		}
	}
	return false
}

func (b *builder) node(id, name, typ string) *common.GraphNode {
	if n, ok := b.nodes[id]; ok {
		if n.Type == "" {
			n.Type = typ
		}
		return n
	}
	n := &common.GraphNode{ID: id, Name: name, Type: typ}
	b.nodes[id] = n
	b.nodeOrder = append(b.nodeOrder, id)
	return n
}

// edge adds or merges the edge source-kind-target. A repeated edge keeps its
// highest weight and collects the documents it was seen in.
func (b *builder) edge(source, target, kind string, weight float64, document string, meta map[string]any) {
	if source == target {
		return
	}
	key := source + "|" + target + "|" + kind
	if e, ok := b.edges[key]; ok {
		e.Weight = max(e.Weight, weight)
		if document != "" {
			docs, _ := e.Metadata["documents"].([]string)
			if !slices.Contains(docs, document) {
				e.Metadata["documents"] = append(docs, document)
			}
		}
		return
	}
	if meta == nil {
		meta = make(map[string]any)
	}
	if document != "" {
		meta["documents"] = []string{document}
	}
	b.edges[key] = &common.GraphEdge{
		Source:   source,
		Target:   target,
		Type:     kind,
		Weight:   weight,
		Label:    edgeLabel(kind),
		Metadata: meta,
	}
	b.edgeOrder = append(b.edgeOrder, key)
	b.degree[source]++
	b.degree[target]++
}

// finish keeps at most maxNodes nodes, seeds first and then by degree, drops
// the edges that lost an endpoint and sizes the nodes.
func (b *builder) finish(title string, maxNodes int) common.SubGraph {
	ids := slices.Clone(b.nodeOrder)
	slices.SortStableFunc(ids, func(x, y string) int {
		sx, sy := b.isSeed(x), b.isSeed(y)
		if sx != sy {
			if sx {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.degree[y], b.degree[x]); c != 0 {
			return c
		}
		return cmp.Compare(b.nodes[x].Name, b.nodes[y].Name)
	})
	if maxNodes > 0 && len(ids) > maxNodes {
		ids = ids[:maxNodes]
	}
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}

	g := common.SubGraph{
		Nodes:  make([]common.GraphNode, 0, len(ids)),
		Edges:  make([]common.GraphEdge, 0, len(b.edgeOrder)),
		Config: Config(title),
	}
	weight := make(map[string]float64, len(ids))
	degree := make(map[string]int, len(ids))
	for _, key := range b.edgeOrder {
		e := b.edges[key]
		if !keep[e.Source] || !keep[e.Target] {
			continue
		}
		g.Edges = append(g.Edges, *e)
		weight[e.Source] += e.Weight
		weight[e.Target] += e.Weight
		degree[e.Source]++
		degree[e.Target]++
	}
	for _, id := range ids {
		n := *b.nodes[id]
		if n.Type == "" {
			n.Type = common.NodePerson
		}
		n.Level = levels[n.Type]
		n.Size = min(baseNodeSize+nodeSizeStep*float64(degree[id]), maxNodeSize)
		n.Weight = weight[id]
		if b.isSeed(id) {
			if n.Metadata == nil {
				n.Metadata = make(map[string]any)
			}
			n.Metadata["seed"] = true
		}
		g.Nodes = append(g.Nodes, n)
	}
	return g
}

func emptyGraph(title string) common.SubGraph {
	return common.SubGraph{Nodes: []common.GraphNode{}, Edges: []common.GraphEdge{}, Config: Config(title)}
}
