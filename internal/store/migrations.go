package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one ordered schema step. Versions never change once shipped.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "nodes: typed entities per community",
		SQL: `
CREATE TABLE nodes (
    id             INTEGER PRIMARY KEY,
    community_id   TEXT NOT NULL,
    external_key   TEXT NOT NULL,
    node_type      TEXT NOT NULL CHECK (node_type IN ('user', 'channel', 'topic', 'concept', 'event')),
    display_name   TEXT NOT NULL DEFAULT '',
    metadata       TEXT NOT NULL DEFAULT '{}',
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,

    UNIQUE (community_id, external_key, node_type)
);

CREATE INDEX idx_nodes_community_type ON nodes(community_id, node_type);
CREATE INDEX idx_nodes_updated        ON nodes(community_id, updated_at DESC);
`,
	},
	{
		Version:     2,
		Description: "hyperedges + memberships: n-ary memories",
		SQL: `
CREATE TABLE hyperedges (
    id                TEXT PRIMARY KEY,
    community_id      TEXT NOT NULL,
    channel_id        TEXT NOT NULL DEFAULT '',
    edge_type         TEXT NOT NULL DEFAULT 'fact',
    summary           TEXT NOT NULL CHECK (length(trim(summary)) > 0),
    content           TEXT NOT NULL DEFAULT '',

    -- Decay
    importance        REAL NOT NULL DEFAULT 1.0,
    urgency           REAL NOT NULL DEFAULT 1.0,
    access_count      INTEGER NOT NULL DEFAULT 0,
    last_accessed_at  INTEGER,

    source_message_id TEXT,
    metadata          TEXT NOT NULL DEFAULT '{}',
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE INDEX idx_edges_community_urgency ON hyperedges(community_id, urgency DESC);
CREATE INDEX idx_edges_channel           ON hyperedges(community_id, channel_id);
CREATE INDEX idx_edges_type              ON hyperedges(community_id, edge_type);

CREATE TABLE memberships (
    edge_id   TEXT NOT NULL,
    node_id   INTEGER NOT NULL,
    role      TEXT NOT NULL DEFAULT 'participant',
    weight    REAL NOT NULL DEFAULT 1.0,

    PRIMARY KEY (edge_id, node_id, role),
    FOREIGN KEY (edge_id) REFERENCES hyperedges(id) ON DELETE CASCADE,
    FOREIGN KEY (node_id) REFERENCES nodes(id)
);

CREATE INDEX idx_memberships_node ON memberships(node_id);
`,
	},
	{
		Version:     3,
		Description: "feeds: syndicated sources polled by the ingestion scheduler",
		SQL: `
CREATE TABLE feeds (
    id               INTEGER PRIMARY KEY,
    community_id     TEXT NOT NULL,
    url              TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    interval_ms      INTEGER NOT NULL,
    last_fetched_at  INTEGER,
    last_error       TEXT,
    created_at       INTEGER NOT NULL,

    UNIQUE (community_id, url)
);
`,
	},
	{
		Version:     4,
		Description: "documents: uploaded files and their ingestion status",
		SQL: `
CREATE TABLE documents (
    id             TEXT PRIMARY KEY,
    community_id   TEXT NOT NULL,
    filename       TEXT NOT NULL,
    path           TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing', 'completed', 'error')),
    error_message  TEXT,
    chunk_count    INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE INDEX idx_documents_community ON documents(community_id, created_at DESC);
`,
	},
	{
		Version:     5,
		Description: "hyperedges: one memory per source url per community",
		SQL: `
DELETE FROM hyperedges
WHERE json_extract(metadata, '$.source_url') IS NOT NULL
  AND rowid NOT IN (
    SELECT MIN(rowid) FROM hyperedges
    WHERE json_extract(metadata, '$.source_url') IS NOT NULL
    GROUP BY community_id, json_extract(metadata, '$.source_url')
  );

CREATE UNIQUE INDEX idx_edges_source_url
    ON hyperedges(community_id, json_extract(metadata, '$.source_url'))
    WHERE json_extract(metadata, '$.source_url') IS NOT NULL;
`,
	},
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	ctx := context.Background()
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_versions (version, description) VALUES (?, ?)`, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// SchemaVersion reports the highest applied migration, 0 for a new database.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&version)
	return version, err
}
