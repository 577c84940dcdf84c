package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lazypower/hypermem/internal/ingest"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/rs/zerolog/log"
)

const maxUploadBytes = 32 << 20

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")

	var req struct {
		URL      string `json:"url"`
		Interval string `json:"interval"` // Go duration, e.g. "30m"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}

	interval := s.opts.FeedInterval
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "interval must be a positive duration")
			return
		}
		interval = d
	}

	feed, err := s.db.AddFeed(r.Context(), community, req.URL, interval)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.ListFeeds(r.Context(), chi.URLParam(r, "community"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if feeds == nil {
		feeds = []store.Feed{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(feeds), "feeds": feeds})
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid feed id")
		return
	}
	feed, err := s.db.GetFeed(r.Context(), id)
	if err == nil && feed.CommunityID != chi.URLParam(r, "community") {
		err = store.ErrNotFound
	}
	if err == nil {
		err = s.db.DeleteFeed(r.Context(), id)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

// handleUploadDocument stores the multipart "file" field and ingests it in
// the background; poll the document to see it complete.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}
	community := chi.URLParam(r, "community")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" required")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !ingest.SupportedExtensions[ext] {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported document type %q", ext))
		return
	}

	path, err := s.saveUpload(file, ext)
	if err != nil {
		log.Error().Err(err).Msg("save upload")
		writeError(w, http.StatusInternalServerError, "save upload failed")
		return
	}

	doc, err := s.db.CreateDocument(r.Context(), community, name, path)
	if err != nil {
		os.Remove(path)
		writeStoreError(w, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := s.pipeline.IngestDocument(ctx, doc.ID); err != nil {
			log.Warn().Err(err).Str("document_id", doc.ID).Msg("document ingestion failed")
		}
		s.Invalidate(community)
	}()

	writeJSON(w, http.StatusAccepted, doc)
}

func (s *Server) saveUpload(src io.Reader, ext string) (string, error) {
	dir := s.opts.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, dst.Close()
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.db.ListDocuments(r.Context(), chi.URLParam(r, "community"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(docs), "documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.communityDocument(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.communityDocument(r)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	removed, err := s.db.DeleteDocument(r.Context(), doc.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := os.Remove(doc.Path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("remove upload")
	}
	s.Invalidate(doc.CommunityID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": doc.ID, "memories_removed": removed})
}

func (s *Server) communityDocument(r *http.Request) (*store.Document, error) {
	doc, err := s.db.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if doc.CommunityID != chi.URLParam(r, "community") {
		return nil, store.ErrNotFound
	}
	return doc, nil
}
