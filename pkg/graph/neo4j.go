package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tavernkeep/loremaster/pkg/config"
	"github.com/tavernkeep/loremaster/pkg/observability"
)

var (
	// ErrInvalidQuery is returned when revalidation rejects the query.
	ErrInvalidQuery = errors.New("invalid graph query")

	// ErrTimeout marks a query that exceeded the per-query bound.
	ErrTimeout = errors.New("graph query timed out")

	// ErrExecution marks a driver or server failure after validation.
	ErrExecution = errors.New("graph query execution failed")
)

// Executor runs validated, parameterized, read-only Cypher queries.
type Executor interface {
	Execute(ctx context.Context, cypher string, params map[string]any) (*Payload, error)
	Close(ctx context.Context) error
}

// Neo4jExecutor implements Executor. The driver handle is used for
// reads exclusively; every session is opened with AccessModeRead so a
// write slips past the validator only as far as the server's refusal.
type Neo4jExecutor struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

func NewNeo4jExecutor(cfg config.GraphConfig) (*Neo4jExecutor, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver for %s: %w", cfg.URI, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Neo4jExecutor{
		driver:   driver,
		database: cfg.Database,
		timeout:  timeout,
	}, nil
}

func (e *Neo4jExecutor) Execute(ctx context.Context, cypher string, params map[string]any) (*Payload, error) {
	// Defense in depth: the generator already validated, revalidate
	// anyway before the query reaches the store.
	if err := ValidateReadOnly(cypher); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	tracer := observability.GetTracer("loremaster.graph")
	ctx, span := tracer.Start(ctx, observability.SpanGraphExecution,
		trace.WithAttributes(attribute.String("db.system", "neo4j")),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	startTime := time.Now()
	metrics := observability.GetGlobalMetrics()

	session := e.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: e.database,
	})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	}, neo4j.WithTxTimeout(e.timeout))

	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v", ErrTimeout, e.timeout)
		} else {
			err = fmt.Errorf("%w: %v", ErrExecution, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics != nil {
			metrics.RecordGraphQuery(ctx, duration, err)
		}
		return nil, err
	}

	payload := parseRecords(records.([]*neo4j.Record))

	span.SetAttributes(
		attribute.Int("graph.nodes", len(payload.Nodes)),
		attribute.Int("graph.edges", len(payload.Edges)),
	)
	if metrics != nil {
		metrics.RecordGraphQuery(ctx, duration, nil)
	}

	return payload, nil
}

func (e *Neo4jExecutor) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

// parseRecords flattens result rows into a deduplicated nodes+edges
// payload. Dedup key is the stable id property, with the driver's
// element id as fallback for malformed data.
func parseRecords(records []*neo4j.Record) *Payload {
	nodesByKey := make(map[string]Node)
	nodeIDByElement := make(map[string]string)
	edgesByKey := make(map[string]dbtype.Relationship)

	for _, record := range records {
		for _, value := range record.Values {
			switch v := value.(type) {
			case dbtype.Node:
				collectNode(v, nodesByKey, nodeIDByElement)
			case dbtype.Relationship:
				edgesByKey[edgeKey(v)] = v
			case dbtype.Path:
				for _, n := range v.Nodes {
					collectNode(n, nodesByKey, nodeIDByElement)
				}
				for _, r := range v.Relationships {
					edgesByKey[edgeKey(r)] = r
				}
			}
		}
	}

	payload := &Payload{
		Nodes: make([]Node, 0, len(nodesByKey)),
		Edges: make([]Edge, 0, len(edgesByKey)),
	}

	emitted := make(map[string]bool, len(nodesByKey))
	for _, node := range nodesByKey {
		payload.Nodes = append(payload.Nodes, node)
		emitted[node.ID] = true
	}

	for _, rel := range edgesByKey {
		source, okS := nodeIDByElement[rel.StartElementId]
		target, okT := nodeIDByElement[rel.EndElementId]
		if !okS || !okT || !emitted[source] || !emitted[target] {
			slog.Warn("dropping edge with missing endpoint",
				"edge_id", stringProp(rel.Props, "id", rel.ElementId))
			continue
		}

		payload.Edges = append(payload.Edges, Edge{
			ID:          stringProp(rel.Props, "id", rel.ElementId),
			Source:      source,
			Target:      target,
			Label:       rel.Type,
			Description: stringProp(rel.Props, "description", ""),
			Reasoning:   stringProp(rel.Props, "reasoning", ""),
			NoteIDs:     noteIDs(rel.Props),
		})
	}

	return payload
}

func collectNode(n dbtype.Node, nodesByKey map[string]Node, nodeIDByElement map[string]string) {
	id := stringProp(n.Props, "id", n.ElementId)
	nodeIDByElement[n.ElementId] = id
	if _, seen := nodesByKey[id]; seen {
		return
	}
	nodesByKey[id] = Node{
		ID:           id,
		Name:         stringProp(n.Props, "name", ""),
		Type:         stringProp(n.Props, "type", ""),
		Description:  stringProp(n.Props, "description", ""),
		CampaignUUID: stringProp(n.Props, "campaign_uuid", ""),
		NoteIDs:      noteIDs(n.Props),
	}
}

func edgeKey(r dbtype.Relationship) string {
	return stringProp(r.Props, "id", r.ElementId)
}

func stringProp(props map[string]any, key, fallback string) string {
	if v, ok := props[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// noteIDs reads note_ids, lifting a legacy scalar note_id into a
// one-element list.
func noteIDs(props map[string]any) []string {
	if raw, ok := props["note_ids"]; ok {
		switch v := raw.(type) {
		case []any:
			ids := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					ids = append(ids, s)
				}
			}
			return ids
		case []string:
			return v
		}
	}
	if v, ok := props["note_id"].(string); ok && v != "" {
		return []string{v}
	}
	return []string{}
}

var _ Executor = (*Neo4jExecutor)(nil)
