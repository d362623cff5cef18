package stores

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"legalinterpret/internal/types"
)

// Direction constrains a neighbourhood expansion.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// GraphStore is the graph database collaborator consumed by the retriever
// and the graph_search tool: node lookup, bounded neighbourhood
// expansion, degree, shortest path and shared-neighbour counting.
type GraphStore interface {
	// GetNode returns the node for urn, or ok=false if it does not exist.
	GetNode(ctx context.Context, urn string) (types.GraphNode, bool, error)
	// Neighbors expands urn's neighbourhood up to maxHops, optionally
	// restricted to relationTypes, in the given direction.
	Neighbors(ctx context.Context, urn string, relationTypes []string, maxHops int, direction Direction) ([]types.GraphNode, []types.GraphEdge, error)
	// Degree returns the node's total edge count ("MATCH (n {URN:$urn})--() RETURN count(*)").
	Degree(ctx context.Context, urn string) (int, error)
	// ShortestPath returns the edge sequence of the shortest path between
	// from and to, up to maxHops, or ok=false if none exists.
	ShortestPath(ctx context.Context, from, to string, maxHops int) ([]types.GraphEdge, bool, error)
	// SharedNeighbors counts distinct 1-hop neighbours shared between any
	// node in a and any node in b.
	SharedNeighbors(ctx context.Context, a, b []string) (int, error)
}

// Neo4jGraphStore implements GraphStore against a live Neo4j instance.
type Neo4jGraphStore struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

// Neo4jConfig holds connection configuration.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
	Timeout  time.Duration
}

// Neo4jConfigFromEnv reads NEO4J_URI/NEO4J_USERNAME/NEO4J_PASSWORD/
// NEO4J_DATABASE/NEO4J_TIMEOUT_MS with local-development defaults.
func Neo4jConfigFromEnv() Neo4jConfig {
	cfg := Neo4jConfig{
		URI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Username: getEnv("NEO4J_USERNAME", "neo4j"),
		Password: getEnv("NEO4J_PASSWORD", "password"),
		Database: getEnv("NEO4J_DATABASE", "neo4j"),
		Timeout:  5 * time.Second,
	}
	if ms := os.Getenv("NEO4J_TIMEOUT_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			cfg.Timeout = time.Duration(v) * time.Millisecond
		}
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// NewNeo4jGraphStore opens a pooled connection and verifies connectivity.
func NewNeo4jGraphStore(cfg Neo4jConfig) (*Neo4jGraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4jconfig.Config) {
			c.MaxConnectionPoolSize = 50
			c.ConnectionAcquisitionTimeout = cfg.Timeout
			c.SocketConnectTimeout = cfg.Timeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jGraphStore{driver: driver, database: database, timeout: cfg.Timeout}, nil
}

// Close releases the driver's connection pool.
func (s *Neo4jGraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jGraphStore) run(ctx context.Context, cypher string, params map[string]interface{}) (neo4j.ResultWithContext, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()
	return session.Run(ctx, cypher, params)
}

func (s *Neo4jGraphStore) GetNode(ctx context.Context, urn string) (types.GraphNode, bool, error) {
	result, err := s.run(ctx, `MATCH (n {URN:$urn}) RETURN n, labels(n) AS labels LIMIT 1`, map[string]interface{}{"urn": urn})
	if err != nil {
		return types.GraphNode{}, false, fmt.Errorf("get node: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return types.GraphNode{}, false, nil
	}
	return recordToNode(record), true, nil
}

func (s *Neo4jGraphStore) Neighbors(ctx context.Context, urn string, relationTypes []string, maxHops int, direction Direction) ([]types.GraphNode, []types.GraphEdge, error) {
	if maxHops < 1 || maxHops > 5 {
		return nil, nil, fmt.Errorf("max_hops must be in [1,5], got %d", maxHops)
	}

	pattern := relPattern(relationTypes)
	var cypher string
	switch direction {
	case DirectionOutgoing:
		cypher = fmt.Sprintf(`MATCH (a {URN:$urn})-[r%s*1..%d]->(b) RETURN DISTINCT b, r`, pattern, maxHops)
	case DirectionIncoming:
		cypher = fmt.Sprintf(`MATCH (a {URN:$urn})<-[r%s*1..%d]-(b) RETURN DISTINCT b, r`, pattern, maxHops)
	default:
		cypher = fmt.Sprintf(`MATCH (a {URN:$urn})-[r%s*1..%d]-(b) RETURN DISTINCT b, r`, pattern, maxHops)
	}

	result, err := s.run(ctx, cypher, map[string]interface{}{"urn": urn})
	if err != nil {
		return nil, nil, fmt.Errorf("neighbors query: %w", err)
	}

	var nodes []types.GraphNode
	var edges []types.GraphEdge
	for result.Next(ctx) {
		record := result.Record()
		if v, ok := record.Get("b"); ok {
			nodes = append(nodes, neo4jNodeToType(v))
		}
		if v, ok := record.Get("r"); ok {
			edges = append(edges, neo4jRelsToEdges(v)...)
		}
	}
	return nodes, edges, result.Err()
}

func (s *Neo4jGraphStore) Degree(ctx context.Context, urn string) (int, error) {
	result, err := s.run(ctx, `MATCH (n {URN:$urn})--() RETURN count(*) AS degree`, map[string]interface{}{"urn": urn})
	if err != nil {
		return 0, fmt.Errorf("degree query: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, nil
	}
	v, _ := record.Get("degree")
	if n, ok := v.(int64); ok {
		return int(n), nil
	}
	return 0, nil
}

func (s *Neo4jGraphStore) ShortestPath(ctx context.Context, from, to string, maxHops int) ([]types.GraphEdge, bool, error) {
	cypher := fmt.Sprintf(`MATCH p = shortestPath((a {URN:$from})-[r*1..%d]-(b {URN:$to})) RETURN relationships(p) AS rels`, maxHops)
	result, err := s.run(ctx, cypher, map[string]interface{}{"from": from, "to": to})
	if err != nil {
		return nil, false, fmt.Errorf("shortest path query: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, false, nil
	}
	v, ok := record.Get("rels")
	if !ok {
		return nil, false, nil
	}
	return neo4jRelsToEdges(v), true, nil
}

func (s *Neo4jGraphStore) SharedNeighbors(ctx context.Context, a, b []string) (int, error) {
	cypher := `MATCH (x)--(n) WHERE x.URN IN $a MATCH (y)--(n) WHERE y.URN IN $b RETURN count(DISTINCT n) AS shared`
	result, err := s.run(ctx, cypher, map[string]interface{}{"a": a, "b": b})
	if err != nil {
		return 0, fmt.Errorf("shared neighbors query: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, nil
	}
	v, _ := record.Get("shared")
	if n, ok := v.(int64); ok {
		return int(n), nil
	}
	return 0, nil
}

func relPattern(relationTypes []string) string {
	if len(relationTypes) == 0 {
		return ""
	}
	return ":" + strings.Join(relationTypes, "|")
}

func recordToNode(record *neo4j.Record) types.GraphNode {
	v, _ := record.Get("n")
	node := neo4jNodeToType(v)
	if labels, ok := record.Get("labels"); ok {
		if ls, ok := labels.([]interface{}); ok && len(ls) > 0 {
			if s, ok := ls[0].(string); ok {
				node.Type = s
			}
		}
	}
	return node
}

func neo4jNodeToType(v interface{}) types.GraphNode {
	n, ok := v.(neo4j.Node)
	if !ok {
		return types.GraphNode{}
	}
	props := types.Metadata{}
	for k, val := range n.Props {
		props[k] = val
	}
	urn, _ := n.Props["URN"].(string)
	nodeType := ""
	if len(n.Labels) > 0 {
		nodeType = types.InternNodeType(n.Labels[0])
	}
	return types.GraphNode{URN: urn, Type: nodeType, Properties: props}
}

func neo4jRelsToEdges(v interface{}) []types.GraphEdge {
	rels, ok := v.([]interface{})
	if !ok {
		return nil
	}
	edges := make([]types.GraphEdge, 0, len(rels))
	for _, r := range rels {
		rel, ok := r.(neo4j.Relationship)
		if !ok {
			continue
		}
		props := types.Metadata{}
		for k, val := range rel.Props {
			props[k] = val
		}
		edges = append(edges, types.GraphEdge{Type: types.InternRelation(rel.Type), Properties: props})
	}
	return edges
}
