package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jClient runs the predefined subgraph queries and the loader writes
// against a Neo4j database.
//
// A Neo4jClient should be created using NewNeo4jClient.
type Neo4jClient struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

// NewNeo4jClientParams defines the connection to the property graph.
//
// Timeout bounds every query; a timed out query counts as a failure and the
// adapter falls back to the relational store.
type NewNeo4jClientParams struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
	MaxPool  int
}

// Neo4jParamsFromEnv reads NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD,
// NEO4J_DATABASE, NEO4J_TIMEOUT and NEO4J_MAX_POOL_SIZE.
func Neo4jParamsFromEnv() NewNeo4jClientParams {
	return NewNeo4jClientParams{
		URI:      util.GetEnv("NEO4J_URI"),
		User:     util.GetEnvString("NEO4J_USER", "neo4j"),
		Password: util.GetEnv("NEO4J_PASSWORD"),
		Database: util.GetEnv("NEO4J_DATABASE"),
		Timeout:  util.GetEnvDuration("NEO4J_TIMEOUT", 10*time.Second),
		MaxPool:  util.GetEnvInt("NEO4J_MAX_POOL_SIZE", 50),
	}
}

// NewNeo4jClient connects and verifies connectivity. It returns nil, nil
// when no URI is configured.
func NewNeo4jClient(ctx context.Context, params NewNeo4jClientParams) (*Neo4jClient, error) {
	if params.URI == "" {
		return nil, nil
	}
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	if params.MaxPool <= 0 {
		params.MaxPool = 50
	}

	auth := neo4j.BasicAuth(params.User, params.Password, "")
	driver, err := neo4j.NewDriverWithContext(params.URI, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = params.MaxPool
		cfg.SocketConnectTimeout = params.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jClient{driver: driver, database: params.Database, timeout: params.Timeout}, nil
}

func (c *Neo4jClient) Close(ctx context.Context) error {
	if c == nil || c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

func (c *Neo4jClient) read(ctx context.Context, cypher string, params map[string]any) ([]Triple, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	records, _ := res.([]*neo4j.Record)
	out := make([]Triple, 0, len(records))
	for _, rec := range records {
		out = append(out, parseTriple(rec))
	}
	return out, nil
}

// Write runs one write statement in a managed transaction.
func (c *Neo4jClient) Write(ctx context.Context, cypher string, params map[string]any) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func parseTriple(rec *neo4j.Record) Triple {
	return Triple{
		Source:      recordString(rec, "source"),
		SourceLabel: recordString(rec, "source_label"),
		SourceRole:  recordString(rec, "source_role"),
		Relation:    recordString(rec, "relation"),
		Target:      recordString(rec, "target"),
		TargetLabel: recordString(rec, "target_label"),
		Weight:      recordFloat(rec, "weight"),
		DocumentID:  recordString(rec, "document_id"),
	}
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordFloat(rec *neo4j.Record, key string) float64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

const nodeLabelExpr = `head([l IN labels(%s) WHERE l <> 'Entity'] + ['Person'])`

var mostConnectedCypher = fmt.Sprintf(`
MATCH (n:Entity)-[r]-(:Entity)
WHERE type(r) <> 'MENTIONED_IN' AND r.method = 'llm' AND r.confidence >= $min_confidence
WITH n, count(r) AS degree
ORDER BY degree DESC, n.key
LIMIT $hubs
MATCH (n)-[r]-(:Entity)
WHERE type(r) <> 'MENTIONED_IN' AND r.method = 'llm' AND r.confidence >= $min_confidence
WITH DISTINCT r, startNode(r) AS s, endNode(r) AS t
RETURN s.name AS source, %s AS source_label, '' AS source_role,
       r.kind AS relation, t.name AS target, %s AS target_label,
       toFloat(r.confidence) AS weight, r.document_id AS document_id
LIMIT $limit`, fmt.Sprintf(nodeLabelExpr, "s"), fmt.Sprintf(nodeLabelExpr, "t"))

const geographicCypher = `
MATCH (pl:Place)-[:MENTIONED_IN]->(d:Document)<-[m:MENTIONED_IN]-(p:Person)
WHERE pl.key IN $places
RETURN p.name AS source, 'Person' AS source_label, coalesce(m.role, '') AS source_role,
       'located_in' AS relation, pl.name AS target, 'Place' AS target_label,
       toFloat(count(DISTINCT d)) AS weight, '' AS document_id
ORDER BY weight DESC, source
LIMIT $limit`

var documentCypher = fmt.Sprintf(`
MATCH (e:Entity)-[m:MENTIONED_IN]->(d:Document {id: $document_id})
RETURN e.name AS source, %s AS source_label, coalesce(m.role, '') AS source_role,
       'mentioned_in' AS relation, coalesce(d.filename, d.id) AS target, 'Document' AS target_label,
       1.0 AS weight, d.id AS document_id
ORDER BY source
LIMIT $limit`, fmt.Sprintf(nodeLabelExpr, "e"))

func (c *Neo4jClient) MostConnected(ctx context.Context, hubs, limit int) ([]Triple, error) {
	return c.read(ctx, mostConnectedCypher, map[string]any{
		"min_confidence": MinSemanticConfidence,
		"hubs":           int64(hubs),
		"limit":          int64(limit),
	})
}

func (c *Neo4jClient) Geographic(ctx context.Context, placeKeys []string, limit int) ([]Triple, error) {
	return c.read(ctx, geographicCypher, map[string]any{
		"places": placeKeys,
		"limit":  int64(limit),
	})
}

func (c *Neo4jClient) DocumentMentions(ctx context.Context, documentID string, limit int) ([]Triple, error) {
	return c.read(ctx, documentCypher, map[string]any{
		"document_id": documentID,
		"limit":       int64(limit),
	})
}
