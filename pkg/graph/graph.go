// Package graph shapes extracted relations into visualizable subgraphs. The
// contextual graph of a set of seed entities comes from LLM relations, with a
// co-occurrence fallback; predefined subgraphs come from the property graph
// store, with relational fallbacks. No query failure reaches the caller.
package graph

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/store"
)

const (
	DefaultMaxNodes = 50
	MaxNodesCap     = 200
	// MinSemanticConfidence is the floor for relations drawn in a graph.
	MinSemanticConfidence = 0.6
	defaultHubs           = 10
)

// Relational is the relational store side of the adapter.
type Relational interface {
	RelationsForSeeds(ctx context.Context, seeds []string, method common.ExtractionMethod, minConfidence float64, limit int) ([]common.ExtractedRelation, error)
	CoOccurrences(ctx context.Context, seeds []string, limit int) ([]store.CoOccurrence, error)
	SeedMentions(ctx context.Context, seeds []string, limit int) ([]store.Mention, error)
	TopRelations(ctx context.Context, method common.ExtractionMethod, minConfidence float64, hubs int, limit int) ([]common.ExtractedRelation, error)
	PlaceMentions(ctx context.Context, places []string, limit int) ([]store.PlaceMention, error)
	DocumentEntities(ctx context.Context, documentID string) ([]common.Person, []common.Organization, []common.Place, error)
	Document(ctx context.Context, id string) (common.Document, error)
}

// Triples answers the predefined subgraph queries on the property graph.
type Triples interface {
	MostConnected(ctx context.Context, hubs, limit int) ([]Triple, error)
	Geographic(ctx context.Context, placeKeys []string, limit int) ([]Triple, error)
	DocumentMentions(ctx context.Context, documentID string, limit int) ([]Triple, error)
}

// Triple is one node-edge-node row returned by the property graph.
type Triple struct {
	Source      string
	SourceLabel string
	SourceRole  string
	Relation    string
	Target      string
	TargetLabel string
	Weight      float64
	DocumentID  string
}

// Property graph labels written by the loader.
const (
	LabelPerson       = "Person"
	LabelOrganization = "Organization"
	LabelPlace        = "Place"
	LabelDocument     = "Document"
)

type Adapter struct {
	rel     Relational
	triples Triples
	lex     *lexicon.Lexicon
}

// New builds an adapter. triples may be nil when no property graph is
// configured; predefined subgraphs then come from the relational store.
func New(rel Relational, triples Triples, lex *lexicon.Lexicon) *Adapter {
	return &Adapter{rel: rel, triples: triples, lex: lex}
}

func clampNodes(n int) int {
	if n <= 0 {
		return DefaultMaxNodes
	}
	return min(n, MaxNodesCap)
}

// Build returns the contextual subgraph around entities. LLM relations are
// preferred; when they yield no edge the graph is built from persons that
// share documents with the seeds.
func (a *Adapter) Build(ctx context.Context, entities []string, maxNodes int) common.SubGraph {
	seeds := seedNames(entities)
	maxNodes = clampNodes(maxNodes)
	title := "Red de relaciones"
	if len(seeds) > 0 {
		title += ": " + strings.Join(seeds, ", ")
	}
	if len(seeds) == 0 {
		return emptyGraph(title)
	}

	rels, err := a.rel.RelationsForSeeds(ctx, seeds, common.MethodLLM, MinSemanticConfidence, maxNodes*4)
	if err != nil {
		logger.Warn("[Graph] semantic relations failed, using co-occurrence", "seeds", seeds, "err", err)
	}
	if g, ok := a.fromRelations(seeds, rels, title, maxNodes); ok {
		return g
	}
	return a.coOccurrence(ctx, seeds, maxNodes)
}

func seedNames(entities []string) []string {
	out := make([]string, 0, len(entities))
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		e = strings.TrimSpace(e)
		k := util.Fold(e)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

type nodeRoles struct {
	victimSource bool
	victimTarget bool
	relative     bool
	memberTarget bool
}

// fromRelations draws rels, dropping victim_of edges aimed at a state
// institution. ok is false when no edge is left.
func (a *Adapter) fromRelations(seeds []string, rels []common.ExtractedRelation, title string, maxNodes int) (common.SubGraph, bool) {
	b := newBuilder(seeds)
	roles := make(map[string]*nodeRoles)
	role := func(id string) *nodeRoles {
		r, ok := roles[id]
		if !ok {
			r = &nodeRoles{}
			roles[id] = r
		}
		return r
	}

	for _, r := range rels {
		if r.Kind == common.KindVictimOf && a.lex.IsStateInstitution(r.Target) {
			continue
		}
		src, tgt := entityID(r.Source), entityID(r.Target)
		if src == tgt {
			continue
		}
		b.node(src, r.Source, "")
		b.node(tgt, r.Target, "")
		b.edge(src, tgt, r.Kind, r.Confidence, r.DocumentID, map[string]any{
			"evidence":          r.Evidence,
			"extraction_method": string(r.Method),
		})

		switch {
		case r.Kind == common.KindVictimOf:
			role(src).victimSource = true
			role(tgt).victimTarget = true
		case a.lex.IsFamilyKind(r.Kind):
			// the relative is the endpoint on the far side of the seed
			if !b.isSeed(src) {
				role(src).relative = true
			}
			if !b.isSeed(tgt) {
				role(tgt).relative = true
			}
		case r.Kind == common.KindMemberOf || r.Kind == common.KindMilitantOf || r.Kind == common.KindSympathizer:
			role(tgt).memberTarget = true
		}
	}
	if len(b.edges) == 0 {
		return common.SubGraph{}, false
	}
	for id, n := range b.nodes {
		r := roles[id]
		if r == nil {
			r = &nodeRoles{}
		}
		n.Type = a.nodeType(n.Name, *r)
	}
	return b.finish(title, maxNodes), true
}

// nodeType applies the type cascade: armed group, state institution,
// perpetrator, relative, victim, then organization for membership targets.
func (a *Adapter) nodeType(name string, r nodeRoles) string {
	switch {
	case a.lex.IsIllegalGroup(name):
		return common.NodeIllegalEntity
	case a.lex.IsStateInstitution(name):
		return common.NodeStateEntity
	case r.victimTarget:
		return common.NodePerpetrator
	case r.relative:
		return common.NodeRelative
	case r.victimSource:
		return common.NodeVictim
	case r.memberTarget:
		return common.NodeOrganization
	default:
		return common.NodePerson
	}
}

// personType types a person mention by its document role.
func (a *Adapter) personType(name string, role common.PersonRole) string {
	switch {
	case a.lex.IsIllegalGroup(name):
		return common.NodeIllegalEntity
	case a.lex.IsStateInstitution(name):
		return common.NodeStateEntity
	case role == common.RoleVictim:
		return common.NodeVictim
	case role == common.RolePerpetrator:
		return common.NodePerpetrator
	default:
		return common.NodePerson
	}
}

func (a *Adapter) orgType(name string, kind common.OrgKind) string {
	switch {
	case kind == common.OrgIllegalForce || a.lex.IsIllegalGroup(name):
		return common.NodeIllegalEntity
	case kind == common.OrgStateInstitution || a.lex.IsStateInstitution(name):
		return common.NodeStateEntity
	default:
		return common.NodeOrganization
	}
}

// coOccurrence links each seed to the persons named in the same documents,
// weighted by shared documents. When nobody shares a document the seeds are
// drawn with the documents that name them.
func (a *Adapter) coOccurrence(ctx context.Context, seeds []string, maxNodes int) common.SubGraph {
	title := "Co-ocurrencias: " + strings.Join(seeds, ", ")
	b := newBuilder(seeds)

	mentions, err := a.rel.SeedMentions(ctx, seeds, maxNodes*2)
	if err != nil {
		logger.Warn("[Graph] seed mentions failed", "seeds", seeds, "err", err)
	}
	roles := make(map[string]common.PersonRole, len(mentions))
	for _, m := range mentions {
		id := entityID(m.Name)
		if cur, ok := roles[id]; !ok || cur == common.RoleUnclassified {
			roles[id] = m.Role
		}
	}

	co, err := a.rel.CoOccurrences(ctx, seeds, maxNodes*2)
	if err != nil {
		logger.Warn("[Graph] co-occurrences failed", "seeds", seeds, "err", err)
	}
	for _, c := range co {
		src, tgt := entityID(c.Source), entityID(c.Target)
		b.node(src, c.Source, a.personType(c.Source, roles[src]))
		b.node(tgt, c.Target, a.personType(c.Target, roles[tgt]))
		b.edge(src, tgt, common.KindCoOccursWith, float64(c.SharedDocuments), "", map[string]any{
			"shared_documents": c.SharedDocuments,
			"documents":        c.DocumentIDs,
		})
	}
	if len(b.edges) == 0 {
		for _, m := range mentions {
			pid, did := entityID(m.Name), documentID(m.DocumentID)
			b.node(pid, m.Name, a.personType(m.Name, roles[pid]))
			doc := b.node(did, m.Filename, common.NodeDocument)
			doc.Metadata = map[string]any{"document_id": m.DocumentID}
			b.edge(pid, did, KindMentionedIn, 1, m.DocumentID, map[string]any{"role": string(m.Role)})
		}
	}
	return b.finish(title, maxNodes)
}

// MostConnected returns the relations around the most connected entities.
func (a *Adapter) MostConnected(ctx context.Context, maxNodes int) common.SubGraph {
	maxNodes = clampNodes(maxNodes)
	title := "Entidades más conectadas"
	hubs := max(maxNodes/5, defaultHubs)
	if a.triples != nil {
		triples, err := a.triples.MostConnected(ctx, hubs, maxNodes*4)
		if err == nil && len(triples) > 0 {
			return a.fromTriples(nil, triples, title, maxNodes)
		}
		if err != nil {
			logger.Warn("[Graph] most-connected query failed, using relational store", "err", err)
		}
	}
	rels, err := a.rel.TopRelations(ctx, common.MethodLLM, MinSemanticConfidence, hubs, maxNodes*4)
	if err != nil {
		logger.Warn("[Graph] top relations failed", "err", err)
		return emptyGraph(title)
	}
	if g, ok := a.fromRelations(nil, rels, title, maxNodes); ok {
		return g
	}
	return emptyGraph(title)
}

// Geographic returns the persons named in documents that mention the
// municipality, or the department when no municipality is given, under
// every curated variant of its name.
func (a *Adapter) Geographic(ctx context.Context, department, municipality string, maxNodes int) common.SubGraph {
	maxNodes = clampNodes(maxNodes)
	title := "Subgrafo geográfico"
	place := strings.TrimSpace(municipality)
	if place == "" {
		place = strings.TrimSpace(department)
	}
	if place == "" {
		return emptyGraph(title)
	}
	title += ": " + place
	places := a.lex.GeoVariants(place)
	keys := make([]string, 0, len(places))
	for _, p := range places {
		keys = append(keys, util.Fold(p))
	}

	if a.triples != nil {
		triples, err := a.triples.Geographic(ctx, keys, maxNodes*4)
		if err == nil && len(triples) > 0 {
			return a.fromTriples(nil, triples, title, maxNodes)
		}
		if err != nil {
			logger.Warn("[Graph] geographic query failed, using relational store", "err", err)
		}
	}
	mentions, err := a.rel.PlaceMentions(ctx, places, maxNodes*4)
	if err != nil {
		logger.Warn("[Graph] place mentions failed", "err", err)
		return emptyGraph(title)
	}
	b := newBuilder(nil)
	for _, m := range mentions {
		pl := b.node(entityID(m.Place), m.Place, common.NodePlace)
		pid := entityID(m.Name)
		b.node(pid, m.Name, a.personType(m.Name, m.Role))
		b.edge(pid, pl.ID, KindLocatedIn, 1, m.DocumentID, nil)
	}
	for _, e := range b.edges {
		if docs, ok := e.Metadata["documents"].([]string); ok {
			e.Weight = float64(len(docs))
		}
	}
	return b.finish(title, maxNodes)
}

// DocumentGraph returns the entities a document mentions.
func (a *Adapter) DocumentGraph(ctx context.Context, docID string, maxNodes int) common.SubGraph {
	maxNodes = clampNodes(maxNodes)
	title := "Menciones del documento " + docID
	if a.triples != nil {
		triples, err := a.triples.DocumentMentions(ctx, docID, maxNodes*2)
		if err == nil && len(triples) > 0 {
			return a.fromTriples(nil, triples, title, maxNodes)
		}
		if err != nil {
			logger.Warn("[Graph] document query failed, using relational store", "document", docID, "err", err)
		}
	}

	doc, err := a.rel.Document(ctx, docID)
	if err != nil {
		logger.Warn("[Graph] document lookup failed", "document", docID, "err", err)
		return emptyGraph(title)
	}
	persons, orgs, places, err := a.rel.DocumentEntities(ctx, docID)
	if err != nil {
		logger.Warn("[Graph] document entities failed", "document", docID, "err", err)
		return emptyGraph(title)
	}

	b := newBuilder(nil)
	d := b.node(documentID(doc.ID), doc.Filename, common.NodeDocument)
	d.Metadata = map[string]any{"document_id": doc.ID, "case_number": doc.CaseNumber}
	for _, p := range persons {
		id := entityID(p.Name)
		b.node(id, p.Name, a.personType(p.Name, p.Role))
		b.edge(id, d.ID, KindMentionedIn, 1, "", map[string]any{"role": string(p.Role)})
	}
	for _, o := range orgs {
		id := entityID(o.Name)
		b.node(id, o.Name, a.orgType(o.Name, o.Kind))
		b.edge(id, d.ID, KindMentionedIn, 1, "", nil)
	}
	for _, p := range places {
		id := entityID(p.Name)
		b.node(id, p.Name, common.NodePlace)
		b.edge(id, d.ID, KindMentionedIn, 1, "", map[string]any{"kind": string(p.Kind)})
	}
	// the document is the hub of its own graph
	b.seeds[d.ID] = true
	return b.finish(title, maxNodes)
}

// fromTriples parses property graph rows into a subgraph.
func (a *Adapter) fromTriples(seeds []string, triples []Triple, title string, maxNodes int) common.SubGraph {
	b := newBuilder(seeds)
	for _, t := range triples {
		if t.Relation == common.KindVictimOf && a.lex.IsStateInstitution(t.Target) {
			continue
		}
		src := a.tripleNode(b, t.Source, t.SourceLabel, t.SourceRole, t.DocumentID)
		tgt := a.tripleNode(b, t.Target, t.TargetLabel, "", t.DocumentID)
		b.edge(src, tgt, t.Relation, t.Weight, t.DocumentID, nil)
	}
	return b.finish(title, maxNodes)
}

func (a *Adapter) tripleNode(b *builder, name, label, role, docID string) string {
	switch label {
	case LabelDocument:
		n := b.node(documentID(docID), name, common.NodeDocument)
		n.Metadata = map[string]any{"document_id": docID}
		return n.ID
	case LabelPlace:
		return b.node(entityID(name), name, common.NodePlace).ID
	case LabelOrganization:
		return b.node(entityID(name), name, a.orgType(name, common.OrgUnspecified)).ID
	default:
		return b.node(entityID(name), name, a.personType(name, common.PersonRole(role))).ID
	}
}
