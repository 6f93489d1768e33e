package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Reader runs read transactions; *Client implements it
type Reader interface {
	ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error)
}

// QueryService reads the representative graph
type QueryService struct {
	reader Reader
	logger ectologger.Logger
}

// NewQueryService creates a new query service
func NewQueryService(reader Reader, logger ectologger.Logger) *QueryService {
	return &QueryService{
		reader: reader,
		logger: logger,
	}
}

// QueryResult represents the result of a graph query
type QueryResult struct {
	Nodes         []NodeResult `json:"nodes"`
	Relationships []RelResult  `json:"relationships"`
}

// NodeResult represents a node from query results
type NodeResult struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// RelResult represents a relationship from query results
type RelResult struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	StartNode  string         `json:"start_node"`
	EndNode    string         `json:"end_node"`
	Properties map[string]any `json:"properties,omitempty"`
}

const neighborhood = `
	MATCH (r:Representative {canonical_id: $canonical_id})
	OPTIONAL MATCH (r)-[rel:REPRESENTS|MEMBER_OF]->(n)
	OPTIONAL MATCH (peer:Representative)-[peerRel:REPRESENTS]->(n)
	WHERE n:District AND peer.canonical_id <> $canonical_id
	RETURN r, rel, n, peer, peerRel`

// Neighborhood returns a representative with its district, its party, and the
// other representatives of that district. It returns nil when the representative
// is not in the graph.
func (s *QueryService) Neighborhood(ctx context.Context, canonicalID string) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.Neighborhood")
	defer span.End()

	result, err := s.reader.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, neighborhood, map[string]any{"canonical_id": canonicalID})
		if err != nil {
			return nil, err
		}

		qr := newQueryResult()
		for result.Next(ctx) {
			record := result.Record()
			for _, key := range record.Keys {
				val, _ := record.Get(key)
				qr.add(val)
			}
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
		return qr, nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"canonical_id": canonicalID,
		}).Error("Failed to query representative graph")
		return nil, errors.Wrap(err, "failed to query representative graph")
	}

	qr := result.(*queryResult)
	if len(qr.Nodes) == 0 {
		return nil, nil
	}
	return &qr.QueryResult, nil
}

// queryResult collects distinct nodes and relationships across records
type queryResult struct {
	QueryResult
	seenNodes map[string]bool
	seenRels  map[string]bool
}

func newQueryResult() *queryResult {
	return &queryResult{
		QueryResult: QueryResult{
			Nodes:         make([]NodeResult, 0),
			Relationships: make([]RelResult, 0),
		},
		seenNodes: make(map[string]bool),
		seenRels:  make(map[string]bool),
	}
}

// add records val when it is a node, relationship, path or list of them
func (qr *queryResult) add(val any) {
	switch v := val.(type) {
	case neo4j.Node:
		if !qr.seenNodes[v.ElementId] {
			qr.seenNodes[v.ElementId] = true
			qr.Nodes = append(qr.Nodes, NodeResult{
				ID:         nodeID(v),
				Labels:     v.Labels,
				Properties: v.Props,
			})
		}

	case neo4j.Relationship:
		if !qr.seenRels[v.ElementId] {
			qr.seenRels[v.ElementId] = true
			qr.Relationships = append(qr.Relationships, RelResult{
				ID:         v.ElementId,
				Type:       v.Type,
				StartNode:  v.StartElementId,
				EndNode:    v.EndElementId,
				Properties: v.Props,
			})
		}

	case neo4j.Path:
		for _, node := range v.Nodes {
			qr.add(node)
		}
		for _, rel := range v.Relationships {
			qr.add(rel)
		}

	case []any:
		for _, item := range v {
			qr.add(item)
		}
	}
}

// nodeID prefers the domain key of a node over its element ID
func nodeID(n neo4j.Node) string {
	for _, key := range []string{"canonical_id", "key", "name"} {
		if v, ok := n.Props[key]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	return n.ElementId
}
