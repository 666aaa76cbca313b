package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stratlab/stratlab-be/internal/api/domain"
	"github.com/stratlab/stratlab-be/internal/api/dto"
	"github.com/stratlab/stratlab-be/internal/api/model"
	"github.com/stratlab/stratlab-be/internal/api/notify"
	"github.com/stratlab/stratlab-be/internal/api/storage"
	"github.com/stratlab/stratlab-be/internal/auth"
	"github.com/stratlab/stratlab-be/shared/messaging"
	"github.com/stratlab/stratlab-be/shared/objectstore"
)

// UploadDocument handles POST /api/v1/documents
// Accepts a multipart upload, stores the file, records the document and
// queues it for processing.
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	userID := c.GetString(auth.ContextUserKey)

	h.logger.Info("UploadDocument called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("user_id", userID),
	)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.logger.Error("Missing file in upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file field is required",
		})
		return
	}
	defer file.Close()

	if h.maxUploadSize > 0 && header.Size > h.maxUploadSize {
		h.logger.Warn("Upload exceeds size limit",
			slog.Int64("size_bytes", header.Size),
			slog.Int64("limit_bytes", h.maxUploadSize),
		)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "file exceeds maximum upload size",
		})
		return
	}

	processingType := c.PostForm("processing_type")
	if processingType == "" {
		processingType = domain.ProcessingTypeStrategy
	}
	if processingType != domain.ProcessingTypeText && processingType != domain.ProcessingTypeStrategy {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "processing_type must be text_extraction or strategy_extraction",
		})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	documentID := uuid.New().String()
	fileKey := objectstore.FileKey(userID, header.Filename)

	h.notifier.Notify(userID, notify.UploadStarted(documentID, header.Filename))

	if err := h.files.Upload(c.Request.Context(), fileKey, file, contentType); err != nil {
		h.logger.Error("Failed to store file",
			slog.String("file_key", fileKey),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store file",
		})
		return
	}

	now := time.Now()
	doc := model.Document{
		DocumentID:     documentID,
		UserID:         userID,
		Filename:       header.Filename,
		FileKey:        fileKey,
		ContentType:    contentType,
		SizeBytes:      header.Size,
		ProcessingType: processingType,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.store.CreateDocument(c.Request.Context(), &doc); err != nil {
		h.logger.Error("Failed to create document", slog.String("error", err.Error()))
		if delErr := h.files.Delete(c.Request.Context(), fileKey); delErr != nil {
			h.logger.Warn("Failed to remove orphaned file",
				slog.String("file_key", fileKey),
				slog.String("error", delErr.Error()),
			)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create document",
		})
		return
	}

	work := messaging.NewDocumentWork(messaging.DocumentPayload{
		DocumentID:     documentID,
		UserID:         userID,
		FileKey:        fileKey,
		ProcessingType: processingType,
	}, nil)

	if _, err := h.publisher.Publish(c.Request.Context(), work.Kind, work); err != nil {
		h.logger.Error("Failed to queue document processing",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to queue document processing",
		})
		return
	}

	h.notifier.Notify(userID, notify.UploadCompleted(documentID, header.Filename))

	h.logger.Info("Document queued",
		slog.String("document_id", documentID),
		slog.String("processing_type", processingType),
	)

	c.JSON(http.StatusCreated, documentDTO(&doc, false))
}

// GetDocument handles GET /api/v1/documents/:document_id
// Retrieves one of the caller's documents, including any extracted text.
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	userID := c.GetString(auth.ContextUserKey)
	documentID := c.Param("document_id")

	h.logger.Info("GetDocument called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("document_id", documentID),
	)

	if _, err := uuid.Parse(documentID); err != nil {
		h.logger.Error("Invalid document_id format", slog.String("document_id", documentID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "document_id must be a valid UUID",
		})
		return
	}

	doc, err := h.store.GetDocument(c.Request.Context(), documentID)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "document not found",
			})
			return
		}
		h.logger.Error("Failed to get document", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get document",
		})
		return
	}

	// A document belonging to someone else is reported as absent.
	if doc.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "document not found",
		})
		return
	}

	c.JSON(http.StatusOK, documentDTO(doc, true))
}

// ListDocuments handles GET /api/v1/documents
// Lists the caller's documents with optional filtering and pagination.
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	userID := c.GetString(auth.ContextUserKey)

	h.logger.Info("ListDocuments called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListDocumentsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.DocumentFilter{
		UserID:   userID,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	docs, err := h.store.ListDocuments(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list documents", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list documents",
		})
		return
	}

	hasMore := len(docs) > req.PageSize
	if hasMore {
		docs = docs[:req.PageSize]
	}

	docResponse := make([]dto.DocumentDTO, len(docs))
	for i := range docs {
		docResponse[i] = documentDTO(&docs[i], false)
	}

	var nextCursor string
	if hasMore {
		last := docs[len(docs)-1]
		nextCursor, err = EncodeCursor(&storage.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.DocumentID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListDocumentsResponse{
		Documents:  docResponse,
		NextCursor: nextCursor,
	})
}

// documentDTO maps a document row to its API representation. Extracted
// text is only included on detail responses.
func documentDTO(doc *model.Document, includeText bool) dto.DocumentDTO {
	d := dto.DocumentDTO{
		DocumentID:     doc.DocumentID,
		Filename:       doc.Filename,
		ContentType:    doc.ContentType,
		SizeBytes:      doc.SizeBytes,
		ProcessingType: doc.ProcessingType,
		Status:         doc.Status,
		CreatedAt:      doc.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      doc.UpdatedAt.Format(time.RFC3339),
	}
	if includeText && doc.ExtractedText != nil {
		d.ExtractedText = *doc.ExtractedText
	}
	if doc.Error != nil {
		d.Error = *doc.Error
	}
	return d
}
