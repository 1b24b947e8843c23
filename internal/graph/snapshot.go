package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ivanmarin/codegraph/pkg/models"
	_ "modernc.org/sqlite"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS nodes (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    name       TEXT NOT NULL,
    properties TEXT
);

CREATE TABLE IF NOT EXISTS relationships (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    source_id  TEXT NOT NULL,
    target_id  TEXT NOT NULL,
    properties TEXT,
    UNIQUE(source_id, target_id, type)
);

CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
CREATE INDEX IF NOT EXISTS idx_rels_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_rels_target ON relationships(target_id);
`

// SnapshotStore holds a full local copy of the graph in SQLite, used for
// offline export and for restoring a space after loss.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore opens (or creates) a snapshot database.
func NewSnapshotStore(dbPath string) (*SnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Init creates the snapshot schema if it doesn't exist.
func (s *SnapshotStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, snapshotSchema)
	return err
}

// Close closes the database connection.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// UpsertNode inserts or updates one node.
func (s *SnapshotStore) UpsertNode(ctx context.Context, node models.GraphNode) error {
	props, err := json.Marshal(node.Properties)
	if err != nil {
		return fmt.Errorf("marshaling properties: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, type, name, properties)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			properties = excluded.properties
	`, node.ID, string(node.Type), node.Name, string(props))
	return err
}

// UpsertRelationship inserts or updates one relationship.
func (s *SnapshotStore) UpsertRelationship(ctx context.Context, rel models.GraphRelationship) error {
	props, err := json.Marshal(rel.Properties)
	if err != nil {
		return fmt.Errorf("marshaling properties: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, type, source_id, target_id, properties)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET
			properties = excluded.properties
	`, rel.ID, string(rel.Type), rel.SourceID, rel.TargetID, string(props))
	return err
}

// Nodes returns every node in the snapshot.
func (s *SnapshotStore) Nodes(ctx context.Context) ([]models.GraphNode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, name, properties FROM nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var nodes []models.GraphNode
	for rows.Next() {
		var n models.GraphNode
		var typ, props string
		if err := rows.Scan(&n.ID, &typ, &n.Name, &props); err != nil {
			return nil, err
		}
		n.Type = models.NodeType(typ)
		if props != "" {
			_ = json.Unmarshal([]byte(props), &n.Properties)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Relationships returns every relationship in the snapshot.
func (s *SnapshotStore) Relationships(ctx context.Context) ([]models.GraphRelationship, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, source_id, target_id, properties FROM relationships ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var rels []models.GraphRelationship
	for rows.Next() {
		var r models.GraphRelationship
		var typ, props string
		if err := rows.Scan(&r.ID, &typ, &r.SourceID, &r.TargetID, &props); err != nil {
			return nil, err
		}
		r.Type = models.RelationshipType(typ)
		if props != "" {
			_ = json.Unmarshal([]byte(props), &r.Properties)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// Counts returns the number of stored nodes and relationships.
func (s *SnapshotStore) Counts(ctx context.Context) (nodes, rels int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM nodes`).Scan(&nodes); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM relationships`).Scan(&rels); err != nil {
		return 0, 0, err
	}
	return nodes, rels, nil
}

// SnapshotFromStore pages the live graph into the snapshot database.
func SnapshotFromStore(ctx context.Context, store *Store, snap *SnapshotStore, logger *slog.Logger) error {
	pageSize := DefaultScanLimit
	totalNodes := 0
	for offset := 0; ; offset += pageSize {
		nodes, err := store.ScanNodes(ctx, NodeScanFilter{}, pageSize, offset)
		if err != nil {
			return fmt.Errorf("scanning nodes at offset %d: %w", offset, err)
		}
		for _, n := range nodes {
			if err := snap.UpsertNode(ctx, n); err != nil {
				return fmt.Errorf("writing node %s: %w", n.ID, err)
			}
		}
		totalNodes += len(nodes)
		if len(nodes) < pageSize {
			break
		}
	}

	totalRels := 0
	for offset := 0; ; offset += pageSize {
		rels, err := store.ScanRelationships(ctx, pageSize, offset)
		if err != nil {
			return fmt.Errorf("scanning relationships at offset %d: %w", offset, err)
		}
		for _, r := range rels {
			if err := snap.UpsertRelationship(ctx, r); err != nil {
				return fmt.Errorf("writing relationship %s: %w", r.ID, err)
			}
		}
		totalRels += len(rels)
		if len(rels) < pageSize {
			break
		}
	}

	logger.Info("snapshot complete", "nodes", totalNodes, "relationships", totalRels)
	return nil
}

// RestoreToStore replays a snapshot into the live graph through the
// store's batched write path.
func RestoreToStore(ctx context.Context, snap *SnapshotStore, store *Store, logger *slog.Logger) error {
	nodes, err := snap.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("reading snapshot nodes: %w", err)
	}
	rels, err := snap.Relationships(ctx)
	if err != nil {
		return fmt.Errorf("reading snapshot relationships: %w", err)
	}

	result := store.persist(ctx, "restore_snapshot", nodes, rels)
	if !result.Success {
		return fmt.Errorf("restore incomplete: %d errors, first: %s", len(result.Errors), result.Errors[0])
	}
	logger.Info("restore complete",
		"nodes", result.NodesCreated, "relationships", result.RelationshipsCreated)
	return nil
}
