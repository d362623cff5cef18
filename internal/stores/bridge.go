package stores

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"legalinterpret/internal/types"
)

// BridgeStore is the relational bridge table linking chunks to graph
// nodes, backed by modernc.org/sqlite (pure Go, no CGo).
type BridgeStore struct {
	db *sql.DB
}

// NewBridgeStore opens (creating if absent) the bridge database at path,
// or an in-memory database when path is ":memory:".
func NewBridgeStore(path string) (*BridgeStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open bridge store: %w", err)
	}
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping bridge store: %w", err)
	}

	if _, err := db.Exec(bridgeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize bridge schema: %w", err)
	}

	return &BridgeStore{db: db}, nil
}

const bridgeSchema = `
CREATE TABLE IF NOT EXISTS bridge_mappings (
	chunk_id      TEXT NOT NULL,
	node_urn      TEXT NOT NULL,
	mapping_type  TEXT NOT NULL,
	confidence    REAL NOT NULL,
	relation_type TEXT,
	PRIMARY KEY (chunk_id, node_urn)
);
CREATE INDEX IF NOT EXISTS idx_bridge_chunk ON bridge_mappings(chunk_id);
`

// Close releases the underlying connection pool.
func (b *BridgeStore) Close() error {
	return b.db.Close()
}

// Upsert inserts or replaces one bridge mapping.
func (b *BridgeStore) Upsert(ctx context.Context, m types.BridgeMapping) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO bridge_mappings (chunk_id, node_urn, mapping_type, confidence, relation_type)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(chunk_id, node_urn) DO UPDATE SET
			mapping_type=excluded.mapping_type,
			confidence=excluded.confidence,
			relation_type=excluded.relation_type`,
		m.ChunkID, m.NodeURN, string(m.MappingType), m.Confidence, m.RelationType,
	)
	if err != nil {
		return fmt.Errorf("upsert bridge mapping: %w", err)
	}
	return nil
}

// GetNodesForChunk returns every mapping recorded for chunkID. A query
// failure degrades to an empty slice: the retriever falls back to its
// density score rather than aborting.
func (b *BridgeStore) GetNodesForChunk(ctx context.Context, chunkID string) []types.BridgeMapping {
	rows, err := b.db.QueryContext(ctx,
		`SELECT chunk_id, node_urn, mapping_type, confidence, relation_type
		 FROM bridge_mappings WHERE chunk_id = ?`, chunkID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []types.BridgeMapping
	for rows.Next() {
		var m types.BridgeMapping
		var mappingType string
		var relationType sql.NullString
		if err := rows.Scan(&m.ChunkID, &m.NodeURN, &mappingType, &m.Confidence, &relationType); err != nil {
			continue
		}
		m.MappingType = types.MappingType(mappingType)
		m.RelationType = relationType.String
		out = append(out, m)
	}
	return out
}
