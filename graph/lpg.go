package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cartograph-io/cartograph/types"
)

// Vertex is one labeled node in the exported property graph.
type Vertex struct {
	ID         string         `json:"~id"`
	Label      string         `json:"~label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge connects two vertices in the exported property graph.
type Edge struct {
	ID    string `json:"~id"`
	Label string `json:"~label"`
	From  string `json:"~from"`
	To    string `json:"~to"`
}

// PropertyGraph is a labeled-property-graph rendering of a validated graph
// set, suitable for bulk load into an LPG store.
type PropertyGraph struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	ScanID    string   `json:"scan_id"`
	StartTime int64    `json:"start_time"`
	EndTime   int64    `json:"end_time"`
	Vertices  []Vertex `json:"vertices"`
	Edges     []Edge   `json:"edges"`
}

// ToPropertyGraph flattens a validated graph set into vertices and edges.
// Each resource becomes a vertex keyed by its resource id; simple links and
// tags become vertex properties, multi links become child vertices joined
// by an edge named after their predicate, and resource links become edges.
// Transient links whose target is absent are dropped rather than producing
// a dangling edge.
func (v *ValidatedGraphSet) ToPropertyGraph(scanID string) *PropertyGraph {
	f := v.Fragment()
	pg := &PropertyGraph{
		Name:      f.Name,
		Version:   f.Version,
		ScanID:    scanID,
		StartTime: f.StartTime,
		EndTime:   f.EndTime,
	}

	present := make(map[string]struct{}, len(f.Resources))
	for _, res := range f.Resources {
		present[res.ID] = struct{}{}
	}

	for _, res := range f.Resources {
		pg.addResource(res, present)
	}
	return pg
}

func (pg *PropertyGraph) addResource(res types.Resource, present map[string]struct{}) {
	vertex := Vertex{ID: res.ID, Label: res.Type, Properties: map[string]any{}}
	for _, l := range res.Links.SimpleLinks {
		vertex.Properties[l.Pred] = l.Obj
	}
	for _, l := range res.Links.TagLinks {
		vertex.Properties[fmt.Sprintf("tag:%s", l.Pred)] = l.Obj
	}
	pg.Vertices = append(pg.Vertices, vertex)

	for _, l := range res.Links.MultiLinks {
		childID := uuid.NewString()
		pg.addChild(childID, l.Pred, l.Obj)
		pg.Edges = append(pg.Edges, Edge{
			ID:    uuid.NewString(),
			Label: l.Pred,
			From:  res.ID,
			To:    childID,
		})
	}
	for _, l := range res.Links.ResourceLinks {
		pg.Edges = append(pg.Edges, Edge{
			ID:    uuid.NewString(),
			Label: l.Pred,
			From:  res.ID,
			To:    l.Obj,
		})
	}
	for _, l := range res.Links.TransientResourceLinks {
		if _, ok := present[l.Obj]; !ok {
			continue
		}
		pg.Edges = append(pg.Edges, Edge{
			ID:    uuid.NewString(),
			Label: l.Pred,
			From:  res.ID,
			To:    l.Obj,
		})
	}
}

func (pg *PropertyGraph) addChild(id, label string, links types.LinkCollection) {
	vertex := Vertex{ID: id, Label: label, Properties: map[string]any{}}
	for _, l := range links.SimpleLinks {
		vertex.Properties[l.Pred] = l.Obj
	}
	for _, l := range links.TagLinks {
		vertex.Properties[fmt.Sprintf("tag:%s", l.Pred)] = l.Obj
	}
	pg.Vertices = append(pg.Vertices, vertex)

	for _, l := range links.MultiLinks {
		childID := uuid.NewString()
		pg.addChild(childID, l.Pred, l.Obj)
		pg.Edges = append(pg.Edges, Edge{
			ID:    uuid.NewString(),
			Label: l.Pred,
			From:  id,
			To:    childID,
		})
	}
	for _, l := range links.ResourceLinks {
		pg.Edges = append(pg.Edges, Edge{
			ID:    uuid.NewString(),
			Label: l.Pred,
			From:  id,
			To:    l.Obj,
		})
	}
}
