// Package graph implements the relational brain: a property graph over
// SQLite. Entity identity is (type, name); relationship identity is
// (source, relationship, target).
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/packet"
)

const graphSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	name        TEXT NOT NULL,
	properties  TEXT,
	confidence  REAL NOT NULL DEFAULT 1.0,
	UNIQUE (entity_type, name)
);
CREATE TABLE IF NOT EXISTS relationships (
	source_id         INTEGER NOT NULL REFERENCES entities(id),
	relation          TEXT NOT NULL,
	target_id         INTEGER NOT NULL REFERENCES entities(id),
	properties        TEXT,
	confidence        REAL NOT NULL DEFAULT 1.0,
	observation_count INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (source_id, relation, target_id)
);
CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id);
`

// Store is the graph brain backend.
type Store struct {
	mu      sync.RWMutex
	db      *sql.DB
	tracker *brains.LatencyTracker
	logger  *slog.Logger
}

// NewStore opens (or creates) the property graph at path.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	if _, err := db.Exec(graphSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize graph schema: %w", err)
	}
	return &Store{
		db:      db,
		tracker: brains.NewLatencyTracker(),
		logger:  logger.With("brain", brains.BrainGraph),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertEntities merges entities by (type, name). On property conflict the
// new value wins and the overwrite is logged with its provenance. Returned
// ids are parallel to the input slice.
func (s *Store) UpsertEntities(ctx context.Context, entities []packet.Entity, provenance string) ([]brains.EntityID, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, fmt.Errorf("%w: begin: %v", brains.ErrBackendWrite, err)
	}
	defer tx.Rollback()

	ids := make([]brains.EntityID, len(entities))
	for i, ent := range entities {
		id, err := s.mergeEntity(ctx, tx, ent, provenance)
		if err != nil {
			s.tracker.Observe(time.Since(start), err)
			return nil, err
		}
		ids[i] = id
	}
	if err := tx.Commit(); err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, fmt.Errorf("%w: commit: %v", brains.ErrBackendWrite, err)
	}
	s.tracker.Observe(time.Since(start), nil)
	return ids, nil
}

func (s *Store) mergeEntity(ctx context.Context, tx *sql.Tx, ent packet.Entity, provenance string) (brains.EntityID, error) {
	var (
		id        int64
		propsJSON sql.NullString
	)
	err := tx.QueryRowContext(ctx,
		"SELECT id, properties FROM entities WHERE entity_type = ? AND name = ?",
		string(ent.Type), ent.Name).Scan(&id, &propsJSON)
	switch {
	case err == sql.ErrNoRows:
		var newProps []byte
		if ent.Properties != nil {
			newProps, _ = json.Marshal(ent.Properties)
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO entities (entity_type, name, properties, confidence) VALUES (?, ?, ?, ?)",
			string(ent.Type), ent.Name, string(newProps), ent.Confidence)
		if err != nil {
			return 0, fmt.Errorf("%w: insert entity %s/%s: %v", brains.ErrBackendWrite, ent.Type, ent.Name, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("%w: entity id: %v", brains.ErrBackendWrite, err)
		}
		return brains.EntityID(id), nil
	case err != nil:
		return 0, fmt.Errorf("%w: lookup entity %s/%s: %v", brains.ErrBackendRead, ent.Type, ent.Name, err)
	}

	// Merge: existing properties survive unless the new packet overwrites them.
	merged := make(map[string]any)
	if propsJSON.Valid && propsJSON.String != "" {
		json.Unmarshal([]byte(propsJSON.String), &merged)
	}
	for key, val := range ent.Properties {
		if old, exists := merged[key]; exists && fmt.Sprint(old) != fmt.Sprint(val) {
			s.logger.Info("entity property overwritten",
				"entity_type", ent.Type, "name", ent.Name,
				"property", key, "provenance", provenance)
		}
		merged[key] = val
	}
	mergedJSON, _ := json.Marshal(merged)
	if _, err := tx.ExecContext(ctx,
		"UPDATE entities SET properties = ?, confidence = MAX(confidence, ?) WHERE id = ?",
		string(mergedJSON), ent.Confidence, id); err != nil {
		return 0, fmt.Errorf("%w: merge entity %s/%s: %v", brains.ErrBackendWrite, ent.Type, ent.Name, err)
	}
	return brains.EntityID(id), nil
}

// UpsertRelationships coalesces duplicate edges, incrementing their
// observation count. Endpoints must already exist.
func (s *Store) UpsertRelationships(ctx context.Context, rels []packet.Relationship, provenance string) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: begin: %v", brains.ErrBackendWrite, err)
	}
	defer tx.Rollback()

	for _, rel := range rels {
		srcID, err := s.resolveRef(ctx, tx, rel.SourceRef)
		if err != nil {
			s.tracker.Observe(time.Since(start), err)
			return err
		}
		tgtID, err := s.resolveRef(ctx, tx, rel.TargetRef)
		if err != nil {
			s.tracker.Observe(time.Since(start), err)
			return err
		}
		var propsJSON []byte
		if rel.Properties != nil {
			propsJSON, _ = json.Marshal(rel.Properties)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relationships (source_id, relation, target_id, properties, confidence)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (source_id, relation, target_id) DO UPDATE SET
				observation_count = observation_count + 1,
				confidence = MAX(confidence, excluded.confidence),
				properties = COALESCE(NULLIF(excluded.properties, ''), properties)`,
			srcID, string(rel.Relationship), tgtID, string(propsJSON), rel.Confidence,
		); err != nil {
			s.tracker.Observe(time.Since(start), err)
			return fmt.Errorf("%w: edge %s -%s-> %s: %v", brains.ErrBackendWrite,
				rel.SourceRef.Name, rel.Relationship, rel.TargetRef.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: commit: %v", brains.ErrBackendWrite, err)
	}
	s.tracker.Observe(time.Since(start), nil)
	s.logger.Debug("relationships upserted", "count", len(rels), "provenance", provenance)
	return nil
}

func (s *Store) resolveRef(ctx context.Context, tx *sql.Tx, ref packet.EntityRef) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		"SELECT id FROM entities WHERE entity_type = ? AND name = ?",
		string(ref.Type), ref.Name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s/%s", brains.ErrUnknownEntity, ref.Type, ref.Name)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: resolve %s/%s: %v", brains.ErrBackendRead, ref.Type, ref.Name, err)
	}
	return id, nil
}

// Neighbors expands the subgraph around ref up to depth hops, optionally
// restricted to the given relationship types. Edges are traversed in both
// directions.
func (s *Store) Neighbors(ctx context.Context, ref packet.EntityRef, depth int, relFilter []packet.RelationType) (*brains.Subgraph, error) {
	if depth <= 0 {
		depth = 1
	}
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	rootID, err := s.lookupRef(ctx, ref)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, err
	}

	adj, err := s.adjacency(ctx, relFilter)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, err
	}

	// BFS out to depth hops.
	visited := map[int64]bool{rootID: true}
	frontier := []int64{rootID}
	edgeSeen := make(map[[3]string]bool)
	var edges []brains.GraphEdge
	for hop := 0; hop < depth; hop++ {
		var next []int64
		for _, id := range frontier {
			for _, e := range adj[id] {
				key := [3]string{fmt.Sprint(e.SourceID), string(e.Relationship), fmt.Sprint(e.TargetID)}
				if !edgeSeen[key] {
					edgeSeen[key] = true
					edges = append(edges, e)
				}
				other := int64(e.TargetID)
				if other == id {
					other = int64(e.SourceID)
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	sub := &brains.Subgraph{Relationships: edges}
	for id := range visited {
		ent, err := s.entityByID(ctx, id)
		if err != nil {
			s.tracker.Observe(time.Since(start), err)
			return nil, err
		}
		sub.Entities = append(sub.Entities, *ent)
	}
	sortEntities(sub.Entities)
	s.tracker.Observe(time.Since(start), nil)
	return sub, nil
}

// ShortestPath finds a minimal-hop path between a and b using bidirectional
// edge traversal. Returns ErrNoPath when the entities are disconnected.
func (s *Store) ShortestPath(ctx context.Context, a, b packet.EntityRef, relFilter []packet.RelationType) (*brains.Path, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	aID, err := s.lookupRef(ctx, a)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, err
	}
	bID, err := s.lookupRef(ctx, b)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, err
	}

	adj, err := s.adjacency(ctx, relFilter)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, err
	}

	type crumb struct {
		prev int64
		edge brains.GraphEdge
	}
	parents := map[int64]crumb{aID: {prev: aID}}
	frontier := []int64{aID}
	found := aID == bID
	for len(frontier) > 0 && !found {
		var next []int64
		for _, id := range frontier {
			for _, e := range adj[id] {
				other := int64(e.TargetID)
				if other == id {
					other = int64(e.SourceID)
				}
				if _, seen := parents[other]; seen {
					continue
				}
				parents[other] = crumb{prev: id, edge: e}
				if other == bID {
					found = true
				}
				next = append(next, other)
			}
		}
		frontier = next
	}
	if !found {
		s.tracker.Observe(time.Since(start), nil)
		return nil, fmt.Errorf("%w: %s/%s to %s/%s", brains.ErrNoPath, a.Type, a.Name, b.Type, b.Name)
	}

	// Walk back from b to a.
	var (
		idPath   []int64
		edgePath []brains.GraphEdge
	)
	for id := bID; ; {
		idPath = append([]int64{id}, idPath...)
		if id == aID {
			break
		}
		c := parents[id]
		edgePath = append([]brains.GraphEdge{c.edge}, edgePath...)
		id = c.prev
	}

	path := &brains.Path{Relationships: edgePath}
	for _, id := range idPath {
		ent, err := s.entityByID(ctx, id)
		if err != nil {
			s.tracker.Observe(time.Since(start), err)
			return nil, err
		}
		path.Entities = append(path.Entities, *ent)
	}
	s.tracker.Observe(time.Since(start), nil)
	return path, nil
}

// FindByProperty returns ids of entities of the given type whose property
// prop stringifies to value. The identity column "name" is queryable like
// any declared property.
func (s *Store) FindByProperty(ctx context.Context, entityType packet.EntityType, prop, value string) ([]brains.EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, properties FROM entities WHERE entity_type = ? ORDER BY id",
		string(entityType))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	defer rows.Close()

	var ids []brains.EntityID
	for rows.Next() {
		var (
			id        int64
			name      string
			propsJSON sql.NullString
		)
		if err := rows.Scan(&id, &name, &propsJSON); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", brains.ErrBackendRead, err)
		}
		if prop == "name" {
			if name == value {
				ids = append(ids, brains.EntityID(id))
			}
			continue
		}
		if !propsJSON.Valid || propsJSON.String == "" {
			continue
		}
		var props map[string]any
		if err := json.Unmarshal([]byte(propsJSON.String), &props); err != nil {
			continue
		}
		if v, ok := props[prop]; ok && fmt.Sprint(v) == value {
			ids = append(ids, brains.EntityID(id))
		}
	}
	return ids, rows.Err()
}

// FindByName returns the refs of entities named name across all types.
func (s *Store) FindByName(ctx context.Context, name string) ([]packet.EntityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_type, name FROM entities WHERE name = ? COLLATE NOCASE ORDER BY entity_type", name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	defer rows.Close()

	var refs []packet.EntityRef
	for rows.Next() {
		var ref packet.EntityRef
		var typ string
		if err := rows.Scan(&typ, &ref.Name); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", brains.ErrBackendRead, err)
		}
		ref.Type = packet.EntityType(typ)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Entity resolves an id back to its materialized node.
func (s *Store) Entity(ctx context.Context, id brains.EntityID) (*brains.GraphEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entityByID(ctx, int64(id))
}

// Health probes the backing database and folds in recent latency.
func (s *Store) Health(ctx context.Context) brains.Health {
	return brains.HealthFrom(s.tracker, s.db.PingContext(ctx))
}

func (s *Store) lookupRef(ctx context.Context, ref packet.EntityRef) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM entities WHERE entity_type = ? AND name = ?",
		string(ref.Type), ref.Name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s/%s", brains.ErrUnknownEntity, ref.Type, ref.Name)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: lookup %s/%s: %v", brains.ErrBackendRead, ref.Type, ref.Name, err)
	}
	return id, nil
}

func (s *Store) entityByID(ctx context.Context, id int64) (*brains.GraphEntity, error) {
	var (
		ent       brains.GraphEntity
		typ       string
		propsJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, entity_type, name, properties, confidence FROM entities WHERE id = ?",
		id).Scan(&ent.ID, &typ, &ent.Name, &propsJSON, &ent.Confidence)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", brains.ErrUnknownEntity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: entity %d: %v", brains.ErrBackendRead, id, err)
	}
	ent.Type = packet.EntityType(typ)
	if propsJSON.Valid && propsJSON.String != "" {
		json.Unmarshal([]byte(propsJSON.String), &ent.Properties)
	}
	return &ent, nil
}

// adjacency loads the full filtered edge list keyed by both endpoints.
func (s *Store) adjacency(ctx context.Context, relFilter []packet.RelationType) (map[int64][]brains.GraphEdge, error) {
	allowed := make(map[string]bool, len(relFilter))
	for _, r := range relFilter {
		allowed[string(r)] = true
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, relation, target_id, properties, confidence, observation_count
		 FROM relationships ORDER BY source_id, relation, target_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	defer rows.Close()

	adj := make(map[int64][]brains.GraphEdge)
	for rows.Next() {
		var (
			e         brains.GraphEdge
			rel       string
			propsJSON sql.NullString
		)
		if err := rows.Scan(&e.SourceID, &rel, &e.TargetID, &propsJSON, &e.Confidence, &e.ObservationCount); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", brains.ErrBackendRead, err)
		}
		if len(allowed) > 0 && !allowed[rel] {
			continue
		}
		e.Relationship = packet.RelationType(rel)
		if propsJSON.Valid && propsJSON.String != "" {
			json.Unmarshal([]byte(propsJSON.String), &e.Properties)
		}
		adj[int64(e.SourceID)] = append(adj[int64(e.SourceID)], e)
		if e.SourceID != e.TargetID {
			adj[int64(e.TargetID)] = append(adj[int64(e.TargetID)], e)
		}
	}
	return adj, rows.Err()
}

func sortEntities(ents []brains.GraphEntity) {
	sort.Slice(ents, func(i, j int) bool { return ents[i].ID < ents[j].ID })
}
