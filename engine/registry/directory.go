// Package registry reads agent directory entries from Neo4j. The directory
// service owns the data; this package only queries it for indexing and so
// exposes no write path.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agentmesh/agentsearch/engine/domain"
)

const agentLabel = "Agent"

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Directory is a read-only view of the agent registry.
type Directory struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner // for testing
}

// New connects to Neo4j at the given bolt URI.
func New(uri, username, password string) (*Directory, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("registry: connect neo4j: %w", err)
	}
	return &Directory{driver: driver}, nil
}

// Close releases the underlying driver.
func (d *Directory) Close(ctx context.Context) error {
	if d.driver == nil {
		return nil
	}
	return d.driver.Close(ctx)
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (d *Directory) session(ctx context.Context) runner {
	if d.newSession != nil {
		return d.newSession(ctx)
	}
	return &sessionAdapter{sess: d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})}
}

// Get returns the entry for one agent, or a not-found error.
func (d *Directory) Get(ctx context.Context, agentID string) (domain.RegistryEntry, error) {
	var zero domain.RegistryEntry
	sess := d.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (a:%s {agent_id: $agent_id}) RETURN a", agentLabel)
	res, err := sess.Run(ctx, cypher, map[string]any{"agent_id": agentID})
	if err != nil {
		return zero, fmt.Errorf("registry: get %s: %w: %w", agentID, domain.ErrUnavailable, err)
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return zero, fmt.Errorf("registry: get %s: %w: %w", agentID, domain.ErrUnavailable, err)
		}
		return zero, &domain.NotFoundError{AgentID: agentID}
	}
	return entryFromRecord(res.Record())
}

// SnapshotAll returns every registered agent ordered by registration time,
// oldest first. An empty directory yields an empty slice, not an error.
func (d *Directory) SnapshotAll(ctx context.Context) ([]domain.RegistryEntry, error) {
	sess := d.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (a:%s) RETURN a ORDER BY a.registered_at", agentLabel)
	res, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: snapshot: %w: %w", domain.ErrUnavailable, err)
	}

	entries := []domain.RegistryEntry{}
	for res.Next(ctx) {
		entry, err := entryFromRecord(res.Record())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("registry: snapshot: %w: %w", domain.ErrUnavailable, err)
	}
	return entries, nil
}

// Healthy reports whether Neo4j is reachable.
func (d *Directory) Healthy(ctx context.Context) bool {
	if d.driver == nil {
		return false
	}
	return d.driver.VerifyConnectivity(ctx) == nil
}

// entryFromRecord decodes an agent node. The agent card is stored as a JSON
// string property since Neo4j properties cannot nest.
func entryFromRecord(rec *neo4j.Record) (domain.RegistryEntry, error) {
	var zero domain.RegistryEntry
	if len(rec.Values) == 0 {
		return zero, fmt.Errorf("registry: empty record")
	}

	props, err := nodeProps(rec.Values[0])
	if err != nil {
		return zero, err
	}

	entry := domain.RegistryEntry{}
	entry.AgentID, _ = props["agent_id"].(string)
	if entry.AgentID == "" {
		return zero, fmt.Errorf("registry: record missing agent_id")
	}

	if raw, ok := props["agent_card"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &entry.Card); err != nil {
			return zero, fmt.Errorf("registry: decode card for %s: %w", entry.AgentID, err)
		}
	}
	if rawTags, ok := props["tags"].([]any); ok {
		for _, t := range rawTags {
			if s, ok := t.(string); ok {
				entry.Tags = append(entry.Tags, s)
			}
		}
	}
	entry.Verified, _ = props["verified"].(bool)

	switch v := props["registered_at"].(type) {
	case time.Time:
		entry.RegisteredAt = v
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			entry.RegisteredAt = ts
		}
	}
	return entry, nil
}

func nodeProps(v any) (map[string]any, error) {
	switch n := v.(type) {
	case neo4j.Node:
		return n.Props, nil
	case map[string]any:
		return n, nil
	default:
		return nil, fmt.Errorf("registry: unexpected record value %T", v)
	}
}
