package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	doc, err := db.CreateDocument(ctx, "g1", "notes.md", "/tmp/notes.md")
	require.NoError(t, err)
	assert.Equal(t, DocPending, doc.Status)

	require.NoError(t, db.SetDocumentStatus(ctx, doc.ID, DocProcessing, "", 0))
	require.NoError(t, db.SetDocumentStatus(ctx, doc.ID, DocCompleted, "ignored", 4))

	got, err := db.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, DocCompleted, got.Status)
	assert.Equal(t, 4, got.ChunkCount)
	assert.Empty(t, got.ErrorMessage)

	require.NoError(t, db.SetDocumentStatus(ctx, doc.ID, DocError, "unsupported", 0))
	got, err = db.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "unsupported", got.ErrorMessage)

	assert.Error(t, db.SetDocumentStatus(ctx, doc.ID, "finished", "", 0))
	assert.ErrorIs(t, db.SetDocumentStatus(ctx, "missing", DocCompleted, "", 0), ErrNotFound)

	docs, err := db.ListDocuments(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDeleteDocumentRemovesMemories(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	doc, err := db.CreateDocument(ctx, "g1", "notes.md", "/tmp/notes.md")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := db.CreateHyperedge(ctx, "g1", HyperedgeInput{
			ChannelID: IngestionChannel, Summary: "chunk",
			Metadata: Metadata{"document_id": doc.ID, "chunk_index": i},
			Members:  []MemberInput{member("notes", NodeConcept, "notes", "mentioned", 1)},
		})
		require.NoError(t, err)
	}
	keep, err := db.CreateHyperedge(ctx, "g1", HyperedgeInput{ChannelID: "c1", Summary: "chat"})
	require.NoError(t, err)

	removed, err := db.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, countRows(t, db, "memberships"))
	assert.Equal(t, 1, countRows(t, db, "hyperedges"))

	_, err = db.GetHyperedge(ctx, keep)
	assert.NoError(t, err)
	_, err = db.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.DeleteDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
