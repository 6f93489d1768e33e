package graph

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Writer runs write transactions; *Client implements it
type Writer interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error)
}

// statement is one parameterized Cypher statement
type statement struct {
	cypher string
	params map[string]any
}

const (
	upsertRepresentative = `
		MERGE (r:Representative {canonical_id: $canonical_id})
		SET r += $props`

	detachRepresentative = `
		MATCH (r:Representative {canonical_id: $canonical_id})-[rel:REPRESENTS|MEMBER_OF]->()
		DELETE rel`

	linkDistrict = `
		MATCH (r:Representative {canonical_id: $canonical_id})
		MERGE (d:District {key: $key})
		SET d.level = $level, d.state = $state, d.chamber = $chamber, d.district = $district
		MERGE (r)-[:REPRESENTS]->(d)`

	linkParty = `
		MATCH (r:Representative {canonical_id: $canonical_id})
		MERGE (p:Party {name: $party})
		MERGE (r)-[:MEMBER_OF]->(p)`
)

// Projector mirrors canonical entities as
// (:Representative)-[:REPRESENTS]->(:District) and (:Representative)-[:MEMBER_OF]->(:Party)
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

// NewProjector creates a new Projector
func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{
		writer: writer,
		logger: logger,
	}
}

// Project replaces the graph view of entity in one transaction
func (p *Projector) Project(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Project")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"canonical_id": entity.CanonicalID,
	})

	statements := projection(entity)
	_, err := p.writer.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, s := range statements {
			result, err := tx.Run(ctx, s.cypher, s.params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to project representative to graph")
		return errors.Wrapf(err, "failed to project representative %s", entity.CanonicalID)
	}

	log.Debug("Projected representative to graph")
	return nil
}

// projection returns the statements that bring the graph in line with entity
func projection(entity *models.CanonicalEntity) []statement {
	c := entity.Consensus
	id := entity.CanonicalID

	sources := make([]string, 0, len(entity.SourcesPresent))
	for _, s := range entity.SourcesPresent {
		sources = append(sources, string(s))
	}

	statements := []statement{
		{cypher: upsertRepresentative, params: map[string]any{
			"canonical_id": id,
			"props": map[string]any{
				"name":             c.Name,
				"party":            c.Party,
				"office":           c.Office,
				"level":            string(c.Level),
				"state":            c.State,
				"current_status":   string(entity.CurrentStatus),
				"quality_score":    entity.QualityScore,
				"sources":          sources,
				"version":          entity.Version,
				"last_resolved_at": entity.LastResolvedAt.UTC().Format(time.RFC3339),
			},
		}},
		{cypher: detachRepresentative, params: map[string]any{"canonical_id": id}},
	}

	if c.Level != "" {
		district := models.Scope{Level: c.Level, State: c.State, District: c.District, Chamber: c.Chamber}
		statements = append(statements, statement{cypher: linkDistrict, params: map[string]any{
			"canonical_id": id,
			"key":          district.Key(),
			"level":        string(c.Level),
			"state":        c.State,
			"chamber":      string(c.Chamber),
			"district":     c.District,
		}})
	}

	if c.Party != "" {
		statements = append(statements, statement{cypher: linkParty, params: map[string]any{
			"canonical_id": id,
			"party":        c.Party,
		}})
	}

	return statements
}
