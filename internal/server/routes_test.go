package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/hypermem/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aliceMemory = `{
	"channel_id": "c1",
	"edge_type": "fact",
	"summary": "Alice likes hiking",
	"members": [{"key": "alice", "type": "user", "name": "Alice", "role": "subject"}]
}`

func createMemory(t *testing.T, srv *Server, community, body string) string {
	t.Helper()
	w := do(t, srv, "POST", "/api/communities/"+community+"/memories", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestCreateAndGetMemory(t *testing.T) {
	srv := testServer(t)
	id := createMemory(t, srv, "g1", aliceMemory)

	w := do(t, srv, "GET", "/api/communities/g1/memories/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Alice likes hiking", body["summary"])
	assert.Len(t, body["members"], 1)

	// other communities cannot see it
	w = do(t, srv, "GET", "/api/communities/g2/memories/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateMemoryInvalid(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/communities/g1/memories", strings.NewReader(`{"summary": ""}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/communities/g1/memories", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad := `{"summary": "x", "members": [{"key": "k", "type": "ghost"}]}`
	w = do(t, srv, "POST", "/api/communities/g1/memories", strings.NewReader(bad))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteMemory(t *testing.T) {
	srv := testServer(t)
	id := createMemory(t, srv, "g1", aliceMemory)

	w := do(t, srv, "DELETE", "/api/communities/g1/memories/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", "/api/communities/g1/memories/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// the node survives its memory
	w = do(t, srv, "GET", "/api/communities/g1/nodes?type=user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestUserFactsAndSearch(t *testing.T) {
	srv := testServer(t)
	createMemory(t, srv, "g1", aliceMemory)

	w := do(t, srv, "GET", "/api/communities/g1/users/alice/facts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(t, srv, "GET", "/api/communities/g1/search?q=hiking", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(t, srv, "GET", "/api/communities/g1/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "GET", "/api/communities/g1/knowledge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

func TestContextIsCachedUntilWrite(t *testing.T) {
	srv := testServer(t)
	createMemory(t, srv, "g1", aliceMemory)

	path := "/api/communities/g1/context?channel=c1&user=alice"
	w := do(t, srv, "GET", path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode(t, w)
	assert.Equal(t, false, first["cached"])
	assert.Contains(t, first["context"], "Alice likes hiking")

	w = do(t, srv, "GET", path, nil)
	assert.Equal(t, true, decode(t, w)["cached"])

	createMemory(t, srv, "g1", `{"channel_id": "c1", "summary": "Bob joined the channel",
		"members": [{"key": "bob", "type": "user"}]}`)

	w = do(t, srv, "GET", path, nil)
	body := decode(t, w)
	assert.Equal(t, false, body["cached"])
	assert.Contains(t, body["context"], "Bob joined the channel")
}

func TestListNodesValidation(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/communities/g1/nodes?type=ghost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "GET", "/api/communities/g1/nodes?order=random", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "GET", "/api/communities/g1/nodes?order=participation", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNodeMemories(t *testing.T) {
	srv := testServer(t)
	createMemory(t, srv, "g1", aliceMemory)

	w := do(t, srv, "GET", "/api/communities/g1/nodes/alice/memories?type=user", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(t, srv, "GET", "/api/communities/g1/nodes/alice/memories?min_urgency=50", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	w = do(t, srv, "GET", "/api/communities/g1/nodes/alice/memories?min_urgency=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsGraphExport(t *testing.T) {
	srv := testServer(t)
	createMemory(t, srv, "g1", aliceMemory)

	w := do(t, srv, "GET", "/api/communities/g1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.EqualValues(t, 1, stats["hyperedges"])
	assert.EqualValues(t, 1, stats["nodes"])

	w = do(t, srv, "GET", "/api/communities/g1/graph?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["hyperedges"], 1)

	w = do(t, srv, "GET", "/api/communities/g1/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "g1-export.json")
}

func TestFeedRoutes(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/communities/g1/feeds", strings.NewReader(`{"url": "ftp://x"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/communities/g1/feeds", strings.NewReader(`{"url": "https://example.com/rss", "interval": "30m"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := int64(decode(t, w)["id"].(float64))

	w = do(t, srv, "GET", "/api/communities/g1/feeds", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(t, srv, "DELETE", fmt.Sprintf("/api/communities/g2/feeds/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, "DELETE", fmt.Sprintf("/api/communities/g1/feeds/%d", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func upload(t *testing.T, srv *Server, community, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	fw.Write([]byte(content))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/communities/"+community+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestDocumentUploadLifecycle(t *testing.T) {
	srv := testServer(t)

	w := upload(t, srv, "g1", "guide.md", "Deployments run through the staging cluster before production.")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	require.Eventually(t, func() bool {
		w := do(t, srv, "GET", "/api/communities/g1/documents/"+id, nil)
		return w.Code == http.StatusOK && decode(t, w)["status"] == store.DocCompleted
	}, 5*time.Second, 20*time.Millisecond)

	w = do(t, srv, "GET", "/api/communities/g1/knowledge", nil)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(t, srv, "GET", "/api/communities/g1/documents", nil)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(t, srv, "DELETE", "/api/communities/g1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["memories_removed"])
}

func TestDocumentUploadRejectsType(t *testing.T) {
	srv := testServer(t)
	w := upload(t, srv, "g1", "deck.pptx", "binary")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	req := httptest.NewRequest("POST", "/api/communities/g1/documents", strings.NewReader("x"))
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContextBoostsOncePerRequest(t *testing.T) {
	srv := testServer(t)
	id := createMemory(t, srv, "g1", aliceMemory)
	path := "/api/communities/g1/context?channel=c1&user=alice"

	accessed := func() (int, float64) {
		t.Helper()
		e, err := srv.db.GetHyperedge(t.Context(), id)
		require.NoError(t, err)
		return e.AccessCount, e.Urgency
	}

	// listed under both the channel and the user, boosted once
	w := do(t, srv, "GET", path, nil)
	require.Equal(t, false, decode(t, w)["cached"])
	n, u := accessed()
	assert.Equal(t, 1, n)
	assert.InDelta(t, 1.1, u, 1e-9)

	w = do(t, srv, "GET", path, nil)
	require.Equal(t, true, decode(t, w)["cached"])
	n, u = accessed()
	assert.Equal(t, 2, n)
	assert.InDelta(t, 1.21, u, 1e-9)

	srv.Invalidate("g1")
	w = do(t, srv, "GET", path, nil)
	assert.Equal(t, false, decode(t, w)["cached"])

	srv.PurgeContext()
	w = do(t, srv, "GET", path, nil)
	assert.Equal(t, false, decode(t, w)["cached"])
	n, _ = accessed()
	assert.Equal(t, 4, n)
}

func TestGraphLimitIsCapped(t *testing.T) {
	srv := testServer(t)
	createMemory(t, srv, "g1", aliceMemory)

	w := do(t, srv, "GET", fmt.Sprintf("/api/communities/g1/graph?limit=%d", 1<<40), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var g store.Graph
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.Len(t, g.Hyperedges, 1)
	assert.Len(t, g.Nodes, 1)
}

func TestCreateMemoryDuplicateSourceURL(t *testing.T) {
	srv := testServer(t)
	body := `{"summary": "Release 2 ships", "metadata": {"source_url": "https://example.com/r/2"}}`
	createMemory(t, srv, "g1", body)

	w := do(t, srv, "POST", "/api/communities/g1/memories", strings.NewReader(body))
	assert.Equal(t, http.StatusConflict, w.Code)

	createMemory(t, srv, "g2", body)
}
