package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lazypower/hypermem/internal/engine"
	"github.com/lazypower/hypermem/internal/metrics"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// ErrUnsupportedDocument is returned for file types with no text reader.
var ErrUnsupportedDocument = errors.New("unsupported document type")

// SupportedExtensions lists the file extensions IngestDocument can read.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".pdf":      true,
}

// IngestDocument reads a pending document, chunks it, and stores each chunk
// as a fact on the ingestion channel. The document ends up completed or in
// error with the failure recorded; a failed chunk halts this document only.
func (p *Pipeline) IngestDocument(ctx context.Context, docID string) error {
	doc, err := p.DB.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Status != store.DocPending {
		return fmt.Errorf("document %s is %s, not pending", doc.ID, doc.Status)
	}
	if err := p.DB.SetDocumentStatus(ctx, doc.ID, store.DocProcessing, "", 0); err != nil {
		return err
	}

	logger := log.With().Str("document_id", doc.ID).Str("community", doc.CommunityID).Logger()
	created, err := p.ingestChunks(ctx, doc)
	if err != nil {
		metrics.IngestItems.WithLabelValues("document", "error").Inc()
		logger.Warn().Err(err).Int("chunks", created).Msg("document ingestion failed")
		if serr := p.DB.SetDocumentStatus(ctx, doc.ID, store.DocError, err.Error(), created); serr != nil {
			logger.Warn().Err(serr).Msg("record document failure")
		}
		return err
	}

	if err := p.DB.SetDocumentStatus(ctx, doc.ID, store.DocCompleted, "", created); err != nil {
		return err
	}
	logger.Info().Str("filename", doc.Filename).Int("chunks", created).Msg("document ingested")
	return nil
}

func (p *Pipeline) ingestChunks(ctx context.Context, doc *store.Document) (int, error) {
	text, err := ReadDocument(doc.Path, doc.Filename)
	if err != nil {
		return 0, err
	}
	chunks := ChunkText(text, p.cfg.ChunkSize)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document has no text")
	}

	source := store.MemberInput{
		NodeInput: store.NodeInput{Key: "document:" + doc.ID, Type: store.NodeTopic, Name: doc.Filename},
		Role:      RoleSource,
	}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		ex, err := p.Extractor.Extract(ctx, chunk)
		if err != nil {
			return i, fmt.Errorf("extract chunk %d: %w", i, err)
		}

		members := engine.EntityMembers(ex.Entities, RoleMentioned)
		if len(members) == 0 {
			members = keywordMembers(chunk)
		}
		members = append(members, source)

		_, err = p.Engine.CreateMemory(ctx, doc.CommunityID, "document", store.HyperedgeInput{
			ChannelID: store.IngestionChannel,
			EdgeType:  store.EdgeFact,
			Summary:   ex.Summary,
			Content:   chunk,
			Metadata: store.Metadata{
				"document_id": doc.ID,
				"filename":    doc.Filename,
				"chunk_index": i,
			},
			Members: members,
		})
		if err != nil {
			return i, fmt.Errorf("store chunk %d: %w", i, err)
		}
		metrics.IngestItems.WithLabelValues("document", "created").Inc()
	}
	return len(chunks), nil
}

// keywordMembers tags a chunk with concept nodes for its leading keywords.
func keywordMembers(text string) []store.MemberInput {
	kws := engine.Keywords(text, 5)
	members := make([]store.MemberInput, 0, len(kws))
	for i, kw := range kws {
		members = append(members, store.MemberInput{
			NodeInput: store.NodeInput{Key: kw, Type: store.NodeConcept, Name: kw},
			Role:      RoleTagged,
			Weight:    1.0 / float64(i+1),
		})
	}
	return members
}

// ReadDocument returns the plain text of the file at path, choosing a reader
// by the extension of name.
func ReadDocument(path, name string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".txt", ".md", ".markdown":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
		return string(b), nil
	case ".pdf":
		return readPDF(path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDocument, ext)
	}
}

// readPDF extracts text page by page, separating pages with a blank line so
// the chunker can prefer page boundaries.
func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
