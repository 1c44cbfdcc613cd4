package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/config"
	"github.com/doc-catalog/models"
	"github.com/doc-catalog/services"
	"github.com/doc-catalog/services/pipeline"
)

// allowedExtensions is the upload whitelist, keyed without the dot.
var allowedExtensions = map[string]bool{
	"pdf": true, "jpg": true, "jpeg": true, "png": true, "txt": true, "docx": true,
}

type DocumentHandlers struct {
	store    services.DocumentService
	blobs    services.BlobService
	search   services.SearchService
	enqueuer *pipeline.Enqueuer
	cfg      *config.Config
	log      *logrus.Entry
}

func NewDocumentHandlers(
	store services.DocumentService,
	blobs services.BlobService,
	search services.SearchService,
	enqueuer *pipeline.Enqueuer,
	cfg *config.Config,
	log *logrus.Entry,
) *DocumentHandlers {
	return &DocumentHandlers{
		store:    store,
		blobs:    blobs,
		search:   search,
		enqueuer: enqueuer,
		cfg:      cfg,
		log:      log,
	}
}

// Upload accepts a multipart batch under the "files" field, persists each
// blob, creates the document records, and admits them into the pipeline.
// Validation failures reject the whole batch before any blob is written.
func (h *DocumentHandlers) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondKind(c, http.StatusBadRequest, "ValidationError", "expected multipart form data", nil)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		respondKind(c, http.StatusBadRequest, "ValidationError", "no files provided", nil)
		return
	}

	type pending struct {
		filename    string
		size        int64
		contentType string
	}
	validated := make([]pending, 0, len(files))
	for _, fh := range files {
		name, err := sanitizeFilename(fh.Filename)
		if err != nil {
			respondKind(c, http.StatusBadRequest, "ValidationError", err.Error(), gin.H{"filename": fh.Filename})
			return
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		if !allowedExtensions[ext] {
			respondKind(c, http.StatusUnprocessableEntity, "ValidationError",
				fmt.Sprintf("unsupported file type %q", ext),
				gin.H{"filename": name, "allowed": []string{"pdf", "jpg", "jpeg", "png", "txt", "docx"}})
			return
		}
		if fh.Size > h.cfg.Pipeline.MaxFileSizeBytes {
			respondKind(c, http.StatusRequestEntityTooLarge, "PayloadTooLarge",
				fmt.Sprintf("%s exceeds the %d byte limit", name, h.cfg.Pipeline.MaxFileSizeBytes),
				gin.H{"filename": name, "size_bytes": fh.Size})
			return
		}
		validated = append(validated, pending{
			filename:    name,
			size:        fh.Size,
			contentType: contentTypeFor(ext),
		})
	}

	summaries := make([]models.DocumentSummary, 0, len(files))
	ids := make([]int64, 0, len(files))
	for i, fh := range files {
		p := validated[i]

		body, err := fh.Open()
		if err != nil {
			respondError(c, h.log, fmt.Errorf("%w: failed to read upload %s", services.ErrValidation, p.filename))
			return
		}
		blobKey := "uploads/" + uuid.New().String() + "/" + p.filename
		err = h.blobs.Put(c.Request.Context(), blobKey, body, p.size, p.contentType)
		body.Close()
		if err != nil {
			respondError(c, h.log, err)
			return
		}

		doc, err := h.store.CreateDocument(c.Request.Context(), p.filename, blobKey, p.size)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		ids = append(ids, doc.ID)
		summaries = append(summaries, models.DocumentSummary{ID: doc.ID, Filename: doc.Filename, Status: doc.Status})
	}

	// On backpressure the created documents stay PENDING and the stuck
	// sweep re-admits them once the queue drains.
	if err := h.enqueuer.EnqueueBatch(c.Request.Context(), ids); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, models.UploadResponse{Documents: summaries})
}

func (h *DocumentHandlers) Get(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}
	doc, err := h.store.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Download redirects to a short-lived presigned URL when the blob backend
// supports it, and streams the bytes through otherwise.
func (h *DocumentHandlers) Download(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}
	doc, err := h.store.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.serveBlob(c, doc.BlobKey, doc.Filename, "attachment")
}

// Preview serves the rendered preview. 404 until the pipeline has produced
// one.
func (h *DocumentHandlers) Preview(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}
	doc, err := h.store.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if doc.PreviewKey == nil || *doc.PreviewKey == "" {
		respondKind(c, http.StatusNotFound, "NotFound", "no preview available for this document", nil)
		return
	}
	h.serveBlob(c, *doc.PreviewKey, filepath.Base(*doc.PreviewKey), "inline")
}

func (h *DocumentHandlers) Status(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}
	doc, err := h.store.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{
		Status:   doc.Status,
		Progress: doc.Progress,
		Error:    doc.Error,
	})
}

// Reprocess clears derived content and re-admits the document. 409 while a
// worker holds it.
func (h *DocumentHandlers) Reprocess(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}
	if err := h.store.ResetForReprocessing(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := h.enqueuer.EnqueueDocument(c.Request.Context(), id, nil); err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := h.search.InvalidateCaches(c.Request.Context()); err != nil {
		h.log.WithError(err).Warn("cache invalidation after reprocess failed")
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "document_id": id})
}

// Delete removes the document record, its mappings, and its blobs. Blob
// deletion is best-effort; an orphaned object is preferable to a dangling
// record.
func (h *DocumentHandlers) Delete(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}
	doc, err := h.store.GetDocument(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := h.store.DeleteDocument(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := h.blobs.Delete(c.Request.Context(), doc.BlobKey); err != nil {
		h.log.WithError(err).WithField("blob_key", doc.BlobKey).Warn("blob delete failed")
	}
	if doc.PreviewKey != nil && *doc.PreviewKey != "" {
		if err := h.blobs.Delete(c.Request.Context(), *doc.PreviewKey); err != nil {
			h.log.WithError(err).WithField("blob_key", *doc.PreviewKey).Warn("preview delete failed")
		}
	}
	if err := h.search.InvalidateCaches(c.Request.Context()); err != nil {
		h.log.WithError(err).Warn("cache invalidation after delete failed")
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *DocumentHandlers) List(c *gin.Context) {
	var filter models.DocumentFilter
	if s := c.Query("status"); s != "" {
		status := models.DocumentStatus(strings.ToUpper(s))
		filter.Status = &status
	}
	filter.CanonicalTerm = c.Query("canonical_term")
	filter.PrimaryCategory = c.Query("primary_category")
	filter.SortBy = c.Query("sort_by")
	filter.SortDirection = c.Query("sort_direction")
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "0"))

	resp, err := h.store.QueryDocuments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandlers) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	docs, err := h.store.RecentDocuments(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (h *DocumentHandlers) Stats(c *gin.Context) {
	counts, err := h.store.CountByStatus(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	// Top queries are decoration on the dashboard; their store is allowed to
	// be briefly behind or unavailable.
	topQueries, err := h.search.TopQueries(c.Request.Context(), 5)
	if err != nil {
		h.log.WithError(err).Warn("failed to load top queries for stats")
		topQueries = nil
	}

	c.JSON(http.StatusOK, gin.H{
		"status_counts": counts,
		"total":         total,
		"top_queries":   topQueries,
	})
}

func (h *DocumentHandlers) documentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondKind(c, http.StatusBadRequest, "ValidationError", "invalid document id", nil)
		return 0, false
	}
	return id, true
}

func (h *DocumentHandlers) serveBlob(c *gin.Context, blobKey, filename, disposition string) {
	ttl := time.Duration(h.cfg.Blob.PresignTTL) * time.Second
	url, err := h.blobs.PresignedGet(c.Request.Context(), blobKey, ttl)
	if err == nil {
		c.Redirect(http.StatusFound, url)
		return
	}
	if err != services.ErrPresignUnsupported {
		respondError(c, h.log, err)
		return
	}

	body, err := h.blobs.Get(c.Request.Context(), blobKey)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer body.Close()

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, filename))
	c.Header("Content-Type", contentTypeFor(ext))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.log.WithError(err).WithField("blob_key", blobKey).Warn("blob stream interrupted")
	}
}

// sanitizeFilename rejects names that could be interpreted by a filesystem
// or escape a key prefix. Names with separators or ".." are refused
// outright rather than normalized, so a traversal attempt surfaces as a
// validation error instead of silently landing on a different key.
func sanitizeFilename(raw string) (string, error) {
	if raw == "" || raw == "." {
		return "", fmt.Errorf("invalid filename")
	}
	if strings.ContainsAny(raw, "/\\") || strings.Contains(raw, "..") {
		return "", fmt.Errorf("filename must not contain path separators or '..'")
	}
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("invalid filename")
	}
	if len(raw) > 255 {
		return "", fmt.Errorf("filename exceeds 255 characters")
	}
	return raw, nil
}

func contentTypeFor(ext string) string {
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
