package common

import (
	"encoding/json"
	"time"
)

// Document is a judicial artifact created by the ingestion pipeline. The core
// only reads it.
type Document struct {
	ID              string     `json:"document_id"`
	Filename        string     `json:"filename"`
	CaseNumber      string     `json:"case_number,omitempty"`
	Chamber         string     `json:"chamber,omitempty"`
	DocumentKind    string     `json:"document_kind,omitempty"`
	ProductionDate  *time.Time `json:"production_date,omitempty"`
	Pages           int        `json:"pages,omitempty"`
	FileHash        string     `json:"file_hash,omitempty"`
	AnalyticSummary string     `json:"analytic_summary,omitempty"`
	ExtractedText   string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PersonRole is the role a person mention plays inside one document.
type PersonRole string

const (
	RoleVictim         PersonRole = "victim"
	RolePerpetrator    PersonRole = "perpetrator"
	RoleDefense        PersonRole = "defense"
	RolePoliticalActor PersonRole = "political_actor"
	RoleWitness        PersonRole = "witness"
	RoleUnclassified   PersonRole = "unclassified"
)

// Person is a named mention scoped to a document. Identity across documents
// is the folded surface form, not a global id.
type Person struct {
	DocumentID     string     `json:"document_id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Role           PersonRole `json:"role"`
}

// OrgKind classifies an organization mention.
type OrgKind string

const (
	OrgLegitimateForce  OrgKind = "legitimate_force"
	OrgIllegalForce     OrgKind = "illegal_force"
	OrgStateInstitution OrgKind = "state_institution"
	OrgPolitical        OrgKind = "political"
	OrgOther            OrgKind = "other"
	OrgUnspecified      OrgKind = "unspecified"
)

type Organization struct {
	DocumentID     string  `json:"document_id"`
	Name           string  `json:"name"`
	NormalizedName string  `json:"normalized_name"`
	Kind           OrgKind `json:"org_kind"`
}

// PlaceKind classifies a place mention.
type PlaceKind string

const (
	PlaceDepartment   PlaceKind = "department"
	PlaceMunicipality PlaceKind = "municipality"
	PlaceVillage      PlaceKind = "village"
	PlaceDistrict     PlaceKind = "district"
	PlaceOther        PlaceKind = "other"
)

type Place struct {
	DocumentID     string    `json:"document_id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	Kind           PlaceKind `json:"kind"`
}

// ExtractionMethod tags where a relation came from. Consumers prefer
// MethodLLM when both exist.
type ExtractionMethod string

const (
	MethodLLM       ExtractionMethod = "llm"
	MethodHeuristic ExtractionMethod = "heuristic"
)

// MinRelationConfidence is the floor below which relations are never kept.
const MinRelationConfidence = 0.5

// Recognized relation kinds. The vocabulary is open; these are the ones the
// graph adapter and extractor treat specially.
const (
	KindSon          = "son"
	KindDaughter     = "daughter"
	KindBrother      = "brother"
	KindSister       = "sister"
	KindSpouse       = "spouse"
	KindParent       = "parent"
	KindMemberOf     = "member_of"
	KindMilitantOf   = "militant_of"
	KindSympathizer  = "sympathizer_of"
	KindVictimOf     = "victim_of"
	KindPerpetrator  = "perpetrator"
	KindCoOccursWith = "co_occurs_with"
	KindAppearsWith  = "appears_with"
)

// RecognizedKinds lists the recognized subset in a stable order.
var RecognizedKinds = []string{
	KindSon, KindDaughter, KindBrother, KindSister, KindSpouse, KindParent,
	KindMemberOf, KindMilitantOf, KindSympathizer,
	KindVictimOf, KindPerpetrator,
	KindCoOccursWith, KindAppearsWith,
}

// ExtractedRelation is a typed relation between two named endpoints, found
// in one document.
type ExtractedRelation struct {
	ID         int64            `json:"id,omitempty"`
	Source     string           `json:"source_entity"`
	Target     string           `json:"target_entity"`
	Kind       string           `json:"relation_kind"`
	DocumentID string           `json:"document_id"`
	Evidence   string           `json:"evidence_span"`
	Confidence float64          `json:"confidence"`
	Method     ExtractionMethod `json:"extraction_method"`
}

// FilterSet narrows structured and semantic queries. All fields are optional.
type FilterSet struct {
	CaseNumbers  []string   `json:"case_numbers,omitempty"`
	Department   string     `json:"department,omitempty"`
	Municipality string     `json:"municipality,omitempty"`
	DocumentKind string     `json:"document_kind,omitempty"`
	Chamber      string     `json:"chamber,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	PersonName   string     `json:"person_name,omitempty"`
	Page         int        `json:"page,omitempty"`
	PageSize     int        `json:"page_size,omitempty"`
}

// IsEmpty reports whether no narrowing field is set. Pagination does not count.
func (f FilterSet) IsEmpty() bool {
	return len(f.CaseNumbers) == 0 && f.Department == "" && f.Municipality == "" &&
		f.DocumentKind == "" && f.Chamber == "" && f.StartDate == nil && f.EndDate == nil &&
		f.PersonName == ""
}

// Chunk is a retrieved passage with its provenance.
type Chunk struct {
	ID              string  `json:"id"`
	DocumentID      string  `json:"document_id"`
	Filename        string  `json:"filename"`
	CaseNumber      string  `json:"case_number,omitempty"`
	DocumentKind    string  `json:"document_kind,omitempty"`
	Page            int     `json:"page"`
	Paragraph       int     `json:"paragraph"`
	Excerpt         string  `json:"excerpt"`
	AnalyticSnippet string  `json:"analytic_snippet,omitempty"`
	Similarity      float64 `json:"similarity_score"`
}

// Source is one cited entry of an answer. CitationID is the N of "[CITA-N]".
type Source struct {
	CitationID   int     `json:"citation_id"`
	DocumentID   string  `json:"document_id"`
	Filename     string  `json:"filename"`
	CaseNumber   string  `json:"case_number,omitempty"`
	DocumentKind string  `json:"document_kind,omitempty"`
	Page         int     `json:"page"`
	Paragraph    int     `json:"paragraph"`
	Similarity   float64 `json:"similarity"`
	Excerpt      string  `json:"excerpt"`
}

// Key identifies a source for deduplication across legs.
func (s Source) Key() string {
	if s.DocumentID == "" {
		return s.Filename
	}
	return s.DocumentID
}

// ResolutionMethod records how an answer was produced.
type ResolutionMethod string

const (
	ResolutionCache        ResolutionMethod = "cache"
	ResolutionMaterialized ResolutionMethod = "materialized"
	ResolutionStructured   ResolutionMethod = "structured"
	ResolutionSemantic     ResolutionMethod = "semantic"
	ResolutionHybrid       ResolutionMethod = "hybrid"
	ResolutionFallback     ResolutionMethod = "fallback"
	ResolutionError        ResolutionMethod = "error"
)

// VictimRow is one grouped victim in a structured listing.
type VictimRow struct {
	Name         string   `json:"name"`
	Mentions     int      `json:"mentions"`
	Documents    int      `json:"documents"`
	Departments  []string `json:"departments,omitempty"`
	Municipality []string `json:"municipalities,omitempty"`
}

// DocumentRef is a document listed by a structured query.
type DocumentRef struct {
	DocumentID     string     `json:"document_id"`
	Filename       string     `json:"filename"`
	CaseNumber     string     `json:"case_number,omitempty"`
	Chamber        string     `json:"chamber,omitempty"`
	DocumentKind   string     `json:"document_kind,omitempty"`
	ProductionDate *time.Time `json:"production_date,omitempty"`
	Pages          int        `json:"pages,omitempty"`
	FileHash       string     `json:"file_hash,omitempty"`
	Department     string     `json:"department,omitempty"`
	Municipality   string     `json:"municipality,omitempty"`
	Mentions       int        `json:"mentions,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// StructuredResult is the envelope returned by the structured query service.
type StructuredResult struct {
	AnswerText     string        `json:"answer_text"`
	Victims        []VictimRow   `json:"victims"`
	Sources        []DocumentRef `json:"sources"`
	AppliedFilters []string      `json:"applied_filters"`
	ExecutionKind  string        `json:"execution_kind"`
	Page           int           `json:"page,omitempty"`
	PageSize       int           `json:"page_size,omitempty"`
	Total          int           `json:"total,omitempty"`
}

// GraphSeed is the set of entities a contextual subgraph is built around.
type GraphSeed struct {
	Entities []string `json:"entities"`
	MaxNodes int      `json:"max_nodes"`
}

// Answer is the envelope returned for every user turn.
type Answer struct {
	QueryID           int64             `json:"query_id"`
	AnswerID          int64             `json:"answer_id,omitempty"`
	Classification    string            `json:"classification"`
	ResolutionMethod  ResolutionMethod  `json:"resolution_method"`
	AnswerText        string            `json:"answer_text"`
	Confidence        float64           `json:"confidence"`
	Sources           []Source          `json:"sources"`
	StructuredPayload *StructuredResult `json:"structured_payload,omitempty"`
	GraphSeed         *GraphSeed        `json:"graph_seed,omitempty"`
	RewrittenQuestion string            `json:"rewritten_question,omitempty"`
	LatencyMs         int64             `json:"latency_ms"`
}

// QueryRecord is persisted for every user-facing call.
type QueryRecord struct {
	ID               int64            `json:"query_id"`
	UserID           string           `json:"user_id"`
	SessionID        string           `json:"session_id,omitempty"`
	Text             string           `json:"text"`
	Timestamp        time.Time        `json:"timestamp"`
	Classification   string           `json:"classification"`
	ResolutionMethod ResolutionMethod `json:"resolution_method"`
	LatencyMs        int64            `json:"latency_ms"`
}

// AnswerRecord is one-to-one with a QueryRecord.
type AnswerRecord struct {
	ID                int64             `json:"answer_id"`
	QueryID           int64             `json:"query_id"`
	Text              string            `json:"text"`
	Confidence        float64           `json:"confidence"`
	Sources           []Source          `json:"sources"`
	LLMMetadata       json.RawMessage   `json:"llm_metadata,omitempty"`
	StructuredPayload *StructuredResult `json:"structured_payload,omitempty"`
}

// FeedbackRecord is a user's rating of one answer.
type FeedbackRecord struct {
	ID        int64          `json:"feedback_id"`
	QueryID   int64          `json:"query_id"`
	AnswerID  int64          `json:"answer_id"`
	Rating    int            `json:"rating"`
	Comment   string         `json:"comment,omitempty"`
	PerAspect map[string]int `json:"per_aspect,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LowSatisfaction is a query text whose answers are rated poorly.
type LowSatisfaction struct {
	Text        string    `json:"text"`
	Ratings     int       `json:"ratings"`
	MeanRating  float64   `json:"mean_rating"`
	LastQueryID int64     `json:"last_query_id"`
	LastRatedAt time.Time `json:"last_rated_at"`
}

// Node types used by the visualizer.
const (
	NodeVictim        = "victim"
	NodePerpetrator   = "perpetrator"
	NodeRelative      = "relative"
	NodeIllegalEntity = "illegal_entity"
	NodeStateEntity   = "state_entity"
	NodePerson        = "person"
	NodeOrganization  = "organization"
	NodePlace         = "place"
	NodeDocument      = "document"
)

// GraphNode is a node of a visualizable subgraph. Level groups nodes into
// Z-layers for 3D layouts.
type GraphNode struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Level    int            `json:"level"`
	Size     float64        `json:"size"`
	Weight   float64        `json:"weight"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type GraphEdge struct {
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Type     string         `json:"type"`
	Weight   float64        `json:"weight"`
	Label    string         `json:"label,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// GraphConfig carries the color maps that form the contract with the visualizer.
type GraphConfig struct {
	Title      string            `json:"title"`
	NodeColors map[string]string `json:"node_colors"`
	EdgeColors map[string]string `json:"edge_colors"`
}

type SubGraph struct {
	Nodes  []GraphNode `json:"nodes"`
	Edges  []GraphEdge `json:"edges"`
	Config GraphConfig `json:"config"`
}
