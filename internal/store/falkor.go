package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FalkorDB/falkordb-go/v2"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// FalkorConfig holds the FalkorDB connection settings for the graph store.
type FalkorConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	Password     string        `json:"password" yaml:"password"`
	GraphPrefix  string        `json:"graphPrefix" yaml:"graphPrefix"`
	MaxRetries   int           `json:"maxRetries" yaml:"maxRetries"`
	DialTimeout  time.Duration `json:"dialTimeout" yaml:"dialTimeout"`
	ReadTimeout  time.Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
	PoolSize     int           `json:"poolSize" yaml:"poolSize"`
	// BatchSize bounds the nodes per CREATE statement when persisting.
	BatchSize int `json:"batchSize" yaml:"batchSize"`
}

// DefaultFalkorConfig returns default connection settings.
func DefaultFalkorConfig() FalkorConfig {
	return FalkorConfig{
		Host:         "localhost",
		Port:         6379,
		GraphPrefix:  "strata",
		MaxRetries:   3,
		DialTimeout:  30 * time.Second,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		PoolSize:     10,
		BatchSize:    100,
	}
}

// FalkorGraphStore persists merged graphs as one FalkorDB property graph per
// execution. Canonical nodes carry their full JSON payload alongside the
// queryable id properties; edges become relationships, materializing lineage
// endpoints on demand.
type FalkorGraphStore struct {
	config FalkorConfig
	logger *logging.Logger
	db     *falkordb.FalkorDB
}

// NewFalkorGraphStore creates an unconnected store.
func NewFalkorGraphStore(config FalkorConfig) *FalkorGraphStore {
	return &FalkorGraphStore{
		config: config,
		logger: logging.GetLogger("store.falkor"),
	}
}

// Connect establishes the FalkorDB connection.
func (s *FalkorGraphStore) Connect(ctx context.Context) error {
	s.logger.Info("Connecting to FalkorDB at %s:%d (prefix: %s)",
		s.config.Host, s.config.Port, s.config.GraphPrefix)

	db, err := falkordb.FalkorDBNew(&falkordb.ConnectionOption{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Password:     s.config.Password,
		DialTimeout:  s.config.DialTimeout,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		PoolSize:     s.config.PoolSize,
		MaxRetries:   s.config.MaxRetries,
	})
	if err != nil {
		return rollerrors.Wrap(rollerrors.CodeInfraUnavailable, err, "failed to create FalkorDB client")
	}
	s.db = db
	return nil
}

// Close closes the connection.
func (s *FalkorGraphStore) Close() error {
	if s.db != nil && s.db.Conn != nil {
		return s.db.Conn.Close()
	}
	return nil
}

// Ping checks connection liveness.
func (s *FalkorGraphStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return rollerrors.New(rollerrors.CodeInfraUnavailable, "falkordb client not connected")
	}
	graph := s.db.SelectGraph(s.config.GraphPrefix + ":ping")
	_, err := graph.Query("RETURN 1", nil, nil)
	if err != nil {
		return rollerrors.Wrap(rollerrors.CodeInfraUnavailable, err, "falkordb ping failed")
	}
	return nil
}

// graphName scopes one execution's graph by tenant.
func (s *FalkorGraphStore) graphName(tenantID, executionID string) string {
	return s.config.GraphPrefix + ":" + tenantID + ":" + executionID
}

// PutGraph persists a merged graph, write-once per execution.
func (s *FalkorGraphStore) PutGraph(ctx context.Context, graph *models.MergedGraph) error {
	if s.db == nil {
		return rollerrors.New(rollerrors.CodeInfraUnavailable, "falkordb client not connected")
	}
	name := s.graphName(graph.TenantID, graph.ExecutionID)
	g := s.db.SelectGraph(name)

	existing, err := s.countNodes(g)
	if err != nil {
		return err
	}
	if existing > 0 {
		return rollerrors.Newf(rollerrors.CodeExecStoreFailed,
			"merged graph for execution %s already stored", graph.ExecutionID)
	}

	batchSize := s.config.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultFalkorConfig().BatchSize
	}

	for start := 0; start < len(graph.Nodes); start += batchSize {
		end := start + batchSize
		if end > len(graph.Nodes) {
			end = len(graph.Nodes)
		}
		if err := s.createNodes(g, graph.Nodes[start:end]); err != nil {
			return err
		}
	}
	for _, edge := range graph.Edges {
		if err := s.createEdge(g, edge); err != nil {
			return err
		}
	}

	s.logger.Info("Stored merged graph %s: %d nodes, %d edges", name, len(graph.Nodes), len(graph.Edges))
	return nil
}

// createNodes writes one batch of canonical nodes.
func (s *FalkorGraphStore) createNodes(g *falkordb.Graph, nodes []models.MergedNode) error {
	parts := make([]string, 0, len(nodes))
	for _, node := range nodes {
		payload, err := json.Marshal(node)
		if err != nil {
			return rollerrors.Wrapf(rollerrors.CodeExecStoreFailed, err,
				"failed to encode merged node %s", node.CanonicalID)
		}
		parts = append(parts, fmt.Sprintf("(:Canonical {uid: '%s', type: '%s', name: '%s', payload: '%s'})",
			escapeCypher(node.CanonicalID),
			escapeCypher(node.Type),
			escapeCypher(node.Name),
			escapeCypher(string(payload))))
	}
	query := "CREATE " + strings.Join(parts, ", ")
	if _, err := g.Query(query, nil, nil); err != nil {
		return rollerrors.Wrap(rollerrors.CodeExecStoreFailed, err, "failed to create merged nodes")
	}
	return nil
}

// createEdge writes one relationship. Lineage endpoints that are not
// canonical nodes are materialized as :Lineage vertices so identity edges
// survive the round trip.
func (s *FalkorGraphStore) createEdge(g *falkordb.Graph, edge models.Edge) error {
	payload, err := json.Marshal(edge)
	if err != nil {
		return rollerrors.Wrap(rollerrors.CodeExecStoreFailed, err, "failed to encode merged edge")
	}
	query := fmt.Sprintf(
		"MERGE (a {uid: '%s'}) MERGE (b {uid: '%s'}) CREATE (a)-[:%s {payload: '%s'}]->(b)",
		escapeCypher(edge.SourceID),
		escapeCypher(edge.TargetID),
		edge.Type,
		escapeCypher(string(payload)))
	if _, err := g.Query(query, nil, nil); err != nil {
		return rollerrors.Wrapf(rollerrors.CodeExecStoreFailed, err,
			"failed to create edge %s->%s", edge.SourceID, edge.TargetID)
	}
	return nil
}

// Graph loads the merged graph of one execution.
func (s *FalkorGraphStore) Graph(ctx context.Context, tenantID, executionID string) (*models.MergedGraph, error) {
	if s.db == nil {
		return nil, rollerrors.New(rollerrors.CodeInfraUnavailable, "falkordb client not connected")
	}
	g := s.db.SelectGraph(s.graphName(tenantID, executionID))

	out := &models.MergedGraph{ExecutionID: executionID, TenantID: tenantID}

	nodeResult, err := g.Query("MATCH (n:Canonical) RETURN n.payload", nil, nil)
	if err != nil {
		if isMissingGraph(err) {
			return nil, rollerrors.Newf(rollerrors.CodeNotFound, "no merged graph for execution %s", executionID)
		}
		return nil, rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "failed to read merged nodes")
	}
	for nodeResult.Next() {
		values := nodeResult.Record().Values()
		if len(values) == 0 {
			continue
		}
		payload, ok := values[0].(string)
		if !ok {
			continue
		}
		var node models.MergedNode
		if err := json.Unmarshal([]byte(payload), &node); err != nil {
			return nil, rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "corrupt merged node payload")
		}
		out.Nodes = append(out.Nodes, node)
	}
	if len(out.Nodes) == 0 {
		return nil, rollerrors.Newf(rollerrors.CodeNotFound, "no merged graph for execution %s", executionID)
	}

	edgeResult, err := g.Query("MATCH ()-[r]->() RETURN r.payload", nil, nil)
	if err != nil {
		return nil, rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "failed to read merged edges")
	}
	for edgeResult.Next() {
		values := edgeResult.Record().Values()
		if len(values) == 0 {
			continue
		}
		payload, ok := values[0].(string)
		if !ok {
			continue
		}
		var edge models.Edge
		if err := json.Unmarshal([]byte(payload), &edge); err != nil {
			return nil, rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "corrupt merged edge payload")
		}
		out.Edges = append(out.Edges, edge)
	}

	// Restore the deterministic ordering the merge engine emitted.
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].CanonicalID < out.Nodes[j].CanonicalID })
	sort.Slice(out.Edges, func(i, j int) bool {
		if out.Edges[i].SourceID != out.Edges[j].SourceID {
			return out.Edges[i].SourceID < out.Edges[j].SourceID
		}
		if out.Edges[i].TargetID != out.Edges[j].TargetID {
			return out.Edges[i].TargetID < out.Edges[j].TargetID
		}
		return out.Edges[i].Type < out.Edges[j].Type
	})
	return out, nil
}

// DeleteGraph removes a stored graph.
func (s *FalkorGraphStore) DeleteGraph(ctx context.Context, tenantID, executionID string) error {
	if s.db == nil {
		return rollerrors.New(rollerrors.CodeInfraUnavailable, "falkordb client not connected")
	}
	g := s.db.SelectGraph(s.graphName(tenantID, executionID))
	if err := g.Delete(); err != nil {
		if isMissingGraph(err) {
			return rollerrors.Newf(rollerrors.CodeNotFound, "no merged graph for execution %s", executionID)
		}
		return rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "failed to delete merged graph")
	}
	return nil
}

// countNodes returns the node count of a graph, treating a missing graph as
// empty.
func (s *FalkorGraphStore) countNodes(g *falkordb.Graph) (int, error) {
	result, err := g.Query("MATCH (n) RETURN count(n)", nil, nil)
	if err != nil {
		if isMissingGraph(err) {
			return 0, nil
		}
		return 0, rollerrors.Wrap(rollerrors.CodeInfraStorage, err, "failed to count graph nodes")
	}
	if result.Next() {
		values := result.Record().Values()
		if len(values) > 0 {
			switch count := values[0].(type) {
			case int64:
				return int(count), nil
			case float64:
				return int(count), nil
			}
		}
	}
	return 0, nil
}

// isMissingGraph matches FalkorDB's error for querying a graph key that does
// not exist yet.
func isMissingGraph(err error) bool {
	return err != nil && strings.Contains(err.Error(), "empty key")
}

// escapeCypher escapes a string for use inside a single-quoted Cypher
// literal. Backslashes go first so an escaped quote cannot be re-opened by a
// preceding backslash in the input.
func escapeCypher(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}
