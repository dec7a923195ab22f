package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
)

// LoaderSource pages through everything the loader copies.
type LoaderSource interface {
	DocumentsAfter(ctx context.Context, afterID string, limit int) ([]common.Document, error)
	DocumentEntities(ctx context.Context, documentID string) ([]common.Person, []common.Organization, []common.Place, error)
	RelationsAfter(ctx context.Context, afterID int64, limit int) ([]common.ExtractedRelation, error)
}

// Writer executes write statements on the property graph.
type Writer interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
}

// LoadStats counts what a load wrote.
type LoadStats struct {
	Documents int
	Mentions  int
	Relations int
}

// Loader copies documents, their entity mentions and the extracted
// relations into the property graph. Every write is a MERGE on identity, so
// a load can be repeated.
type Loader struct {
	src   LoaderSource
	w     Writer
	lex   *lexicon.Lexicon
	batch int
}

func NewLoader(src LoaderSource, w Writer, lex *lexicon.Lexicon, batch int) *Loader {
	if batch <= 0 {
		batch = 200
	}
	return &Loader{src: src, w: w, lex: lex, batch: batch}
}

var schemaStatements = []string{
	`CREATE CONSTRAINT entity_key IF NOT EXISTS FOR (e:Entity) REQUIRE e.key IS UNIQUE`,
	`CREATE CONSTRAINT document_id IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
}

const mergeDocumentsCypher = `
UNWIND $rows AS row
MERGE (d:Document {id: row.id})
SET d.filename = row.filename, d.case_number = row.case_number, d.document_kind = row.document_kind`

// %s is one of the fixed entity labels.
const mergeMentionsCypher = `
UNWIND $rows AS row
MERGE (e:Entity {key: row.key})
ON CREATE SET e.name = row.name, e:%s
WITH e, row
MATCH (d:Document {id: row.document_id})
MERGE (e)-[m:MENTIONED_IN]->(d)
SET m.role = row.role`

// %s is one of the fixed entity labels.
const mergeEndpointsCypher = `
UNWIND $rows AS row
MERGE (e:Entity {key: row.key})
ON CREATE SET e.name = row.name, e:%s`

// %s is a relation label built by RelationLabel.
const mergeRelationsCypher = `
UNWIND $rows AS row
MATCH (a:Entity {key: row.source_key})
MATCH (b:Entity {key: row.target_key})
MERGE (a)-[r:%s {document_id: row.document_id, method: row.method}]->(b)
SET r.kind = row.kind, r.confidence = row.confidence, r.evidence = row.evidence`

// Load copies everything. Victim_of edges aimed at a state institution are
// never written.
func (l *Loader) Load(ctx context.Context) (LoadStats, error) {
	var stats LoadStats
	for _, stmt := range schemaStatements {
		if err := l.w.Write(ctx, stmt, nil); err != nil {
			logger.Warn("[Graph] schema statement failed, continuing", "err", err)
		}
	}
	if err := l.loadDocuments(ctx, &stats); err != nil {
		return stats, err
	}
	if err := l.loadRelations(ctx, &stats); err != nil {
		return stats, err
	}
	logger.Info("[Graph] load finished", "documents", stats.Documents, "mentions", stats.Mentions, "relations", stats.Relations)
	return stats, nil
}

func (l *Loader) loadDocuments(ctx context.Context, stats *LoadStats) error {
	after := ""
	for {
		docs, err := l.src.DocumentsAfter(ctx, after, l.batch)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		if len(docs) == 0 {
			return nil
		}
		rows := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			rows = append(rows, map[string]any{
				"id":            d.ID,
				"filename":      d.Filename,
				"case_number":   d.CaseNumber,
				"document_kind": d.DocumentKind,
			})
		}
		if err := l.w.Write(ctx, mergeDocumentsCypher, map[string]any{"rows": rows}); err != nil {
			return fmt.Errorf("merge documents: %w", err)
		}
		stats.Documents += len(docs)

		for _, d := range docs {
			n, err := l.loadMentions(ctx, d.ID)
			if err != nil {
				return err
			}
			stats.Mentions += n
		}
		after = docs[len(docs)-1].ID
	}
}

func (l *Loader) loadMentions(ctx context.Context, docID string) (int, error) {
	persons, orgs, places, err := l.src.DocumentEntities(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("entities of %s: %w", docID, err)
	}
	byLabel := map[string][]map[string]any{}
	add := func(label, name, role string) {
		if util.Fold(name) == "" {
			return
		}
		byLabel[label] = append(byLabel[label], map[string]any{
			"key":         util.Fold(name),
			"name":        name,
			"document_id": docID,
			"role":        role,
		})
	}
	for _, p := range persons {
		add(LabelPerson, p.Name, string(p.Role))
	}
	for _, o := range orgs {
		add(LabelOrganization, o.Name, string(o.Kind))
	}
	for _, p := range places {
		add(LabelPlace, p.Name, string(p.Kind))
	}

	n := 0
	for _, label := range []string{LabelPerson, LabelOrganization, LabelPlace} {
		rows := byLabel[label]
		if len(rows) == 0 {
			continue
		}
		if err := l.w.Write(ctx, fmt.Sprintf(mergeMentionsCypher, label), map[string]any{"rows": rows}); err != nil {
			return n, fmt.Errorf("merge %s mentions of %s: %w", label, docID, err)
		}
		n += len(rows)
	}
	return n, nil
}

func (l *Loader) loadRelations(ctx context.Context, stats *LoadStats) error {
	var after int64
	for {
		rels, err := l.src.RelationsAfter(ctx, after, l.batch)
		if err != nil {
			return fmt.Errorf("list relations: %w", err)
		}
		if len(rels) == 0 {
			return nil
		}
		after = rels[len(rels)-1].ID

		endpoints := map[string][]map[string]any{}
		seen := map[string]struct{}{}
		byLabel := map[string][]map[string]any{}
		for _, r := range rels {
			if r.Kind == common.KindVictimOf && l.lex.IsStateInstitution(r.Target) {
				continue
			}
			for _, name := range []string{r.Source, r.Target} {
				key := util.Fold(name)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				label := l.endpointLabel(name)
				endpoints[label] = append(endpoints[label], map[string]any{"key": key, "name": name})
			}
			label := RelationLabel(r.Kind)
			byLabel[label] = append(byLabel[label], map[string]any{
				"source_key":  util.Fold(r.Source),
				"target_key":  util.Fold(r.Target),
				"document_id": r.DocumentID,
				"method":      string(r.Method),
				"kind":        r.Kind,
				"confidence":  r.Confidence,
				"evidence":    r.Evidence,
			})
		}

		for _, label := range []string{LabelPerson, LabelOrganization, LabelPlace} {
			if rows := endpoints[label]; len(rows) > 0 {
				if err := l.w.Write(ctx, fmt.Sprintf(mergeEndpointsCypher, label), map[string]any{"rows": rows}); err != nil {
					return fmt.Errorf("merge endpoints: %w", err)
				}
			}
		}
		for _, label := range slices.Sorted(maps.Keys(byLabel)) {
			rows := byLabel[label]
			if err := l.w.Write(ctx, fmt.Sprintf(mergeRelationsCypher, label), map[string]any{"rows": rows}); err != nil {
				return fmt.Errorf("merge %s relations: %w", label, err)
			}
			stats.Relations += len(rows)
		}
	}
}

func (l *Loader) endpointLabel(name string) string {
	switch {
	case l.lex.IsIllegalGroup(name), l.lex.IsStateInstitution(name):
		return LabelOrganization
	case l.lex.IsKnownPlace(name):
		return LabelPlace
	default:
		return LabelPerson
	}
}

// RelationLabel turns a relation kind into a safe relationship type:
// "víctima de" becomes VICTIMA_DE. Anything outside [A-Z0-9_] is replaced,
// so the result can be spliced into a statement.
func RelationLabel(kind string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToUpper(util.Fold(kind)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	label := strings.TrimSuffix(b.String(), "_")
	if label == "" {
		return "RELATED_TO"
	}
	if unicode.IsDigit(rune(label[0])) {
		label = "R_" + label
	}
	return label
}
