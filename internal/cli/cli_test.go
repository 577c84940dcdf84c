package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lazypower/hypermem/internal/config"
	"github.com/lazypower/hypermem/internal/engine"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func seededDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng := engine.New(db, config.Default().Memory, nil)
	_, err = eng.CreateMemory(context.Background(), "g1", "manual", store.HyperedgeInput{
		ChannelID: "c1",
		Summary:   "Alice likes hiking",
		Members: []store.MemberInput{{
			NodeInput: store.NodeInput{Key: "alice", Type: store.NodeUser, Name: "Alice"},
			Role:      "subject",
		}},
	})
	require.NoError(t, err)
	return db
}

func TestWriteExportFormats(t *testing.T) {
	db := seededDB(t)
	g, err := db.Export(context.Background(), "g1")
	require.NoError(t, err)

	var js bytes.Buffer
	require.NoError(t, writeExport(&js, g, "json"))
	var fromJSON store.Graph
	require.NoError(t, json.Unmarshal(js.Bytes(), &fromJSON))
	assert.Len(t, fromJSON.Hyperedges, 1)

	var ym bytes.Buffer
	require.NoError(t, writeExport(&ym, g, "yaml"))
	assert.Contains(t, ym.String(), "summary: Alice likes hiking")
	assert.Contains(t, ym.String(), "community_id: g1")
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &fromYAML))

	assert.Error(t, writeExport(&ym, g, "xml"))
}

func TestPrintStats(t *testing.T) {
	db := seededDB(t)
	st, err := db.Stats(context.Background(), "g1")
	require.NoError(t, err)

	var buf bytes.Buffer
	printStats(&buf, st)
	out := buf.String()
	assert.Contains(t, out, "## g1")
	assert.Contains(t, out, "memories     1")
	assert.Contains(t, out, "user")
}

func TestPrintEdges(t *testing.T) {
	var buf bytes.Buffer
	printEdges(&buf, nil)
	assert.Equal(t, "No memories found.\n", buf.String())

	buf.Reset()
	printEdges(&buf, []store.Hyperedge{{
		Summary:   "Alice likes hiking",
		EdgeType:  "fact",
		Urgency:   1.5,
		CreatedAt: time.Now().Add(-2 * time.Hour).UnixMilli(),
		Members:   []store.Member{{Key: "alice", Type: "user", Name: "Alice"}},
	}})
	assert.Contains(t, buf.String(), "1. [1.50] Alice likes hiking")
	assert.Contains(t, buf.String(), "2 hours ago")
	assert.Contains(t, buf.String(), "user:Alice")
}

func TestSetupLoggingLevels(t *testing.T) {
	setupLogging(config.LoggingConfig{Level: "warn", Format: "json"}, false)
	setupLogging(config.LoggingConfig{Level: "bogus"}, true)
}
