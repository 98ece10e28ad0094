package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xhad/veritas/internal/models"
	"github.com/xhad/veritas/pkg/auth"
	"github.com/xhad/veritas/pkg/chat"
	"github.com/xhad/veritas/pkg/extract"
	"github.com/xhad/veritas/pkg/index"
	"github.com/xhad/veritas/pkg/ingest"
	"github.com/xhad/veritas/pkg/llm"
	"github.com/xhad/veritas/pkg/processor"
	"go.uber.org/zap"
)

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON with a query field")
		return
	}

	owner := auth.Owner(c)
	resp, err := s.chat.Query(c.Request.Context(), owner, req.Query)
	if err != nil {
		s.queryError(c, err)
		return
	}

	s.record(c.Request.Context(), owner, resp)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) queryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidQuery):
		abortWithError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
	case errors.Is(err, chat.ErrGenerationFailed):
		abortWithError(c, http.StatusBadGateway, "GENERATION_FAILED", "failed to generate an answer, try again later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		abortWithError(c, http.StatusServiceUnavailable, "CANCELLED", "request cancelled")
	default:
		s.logger.Error("query failed", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// record appends freshly generated answers to the owner's history.
func (s *Server) record(ctx context.Context, owner string, resp models.ChatResponse) {
	if resp.Cached || s.history == nil {
		return
	}
	_, err := s.history.Append(ctx, models.HistoryEntry{
		OwnerID:   owner,
		Query:     resp.Query,
		Response:  resp.Response,
		Sources:   resp.Sources,
		CreatedAt: resp.Timestamp,
	})
	if err != nil {
		s.logger.Warn("failed to record chat history", zap.Error(err))
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit < 1 || limit > 100 {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100")
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "offset cannot be negative")
		return
	}

	owner := auth.Owner(c)
	entries, err := s.history.List(c.Request.Context(), owner, limit, offset)
	if err != nil {
		s.logger.Error("failed to list history", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "INTERNAL", "failed to load history")
		return
	}
	total, err := s.history.Count(c.Request.Context(), owner)
	if err != nil {
		s.logger.Error("failed to count history", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "INTERNAL", "failed to load history")
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": entries, "total": total})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) handleUpload(c *gin.Context) {
	// room for the multipart framing around the file
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes+1<<20)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
				fmt.Sprintf("file exceeds %d bytes", s.config.MaxUploadBytes))
			return
		}
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if header.Size > s.config.MaxUploadBytes {
		abortWithError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
			fmt.Sprintf("file exceeds %d bytes", s.config.MaxUploadBytes))
		return
	}

	filename := filepath.Base(header.Filename)
	if !extract.Supported(filename) {
		abortWithError(c, http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE",
			fmt.Sprintf("supported file types: %s", strings.Join(extract.SupportedExtensions, ", ")))
		return
	}

	text, err := extract.FromReader(filename, file)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "EXTRACTION_FAILED", fmt.Sprintf("could not read %s", filename))
		return
	}
	if len([]rune(strings.TrimSpace(text))) < s.config.MinDocumentLength {
		abortWithError(c, http.StatusBadRequest, "DOCUMENT_TOO_SHORT",
			fmt.Sprintf("document must contain at least %d characters of text", s.config.MinDocumentLength))
		return
	}

	res, err := s.docs.Ingest(c.Request.Context(), models.Document{
		ID:        uuid.NewString(),
		OwnerID:   auth.Owner(c),
		Filename:  filename,
		Content:   text,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.ingestError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":           res.DocumentID,
		"filename":     filename,
		"chunks":       res.Chunks,
		"embedding_id": res.EmbeddingID,
		"message":      "Document uploaded and indexed successfully",
	})
}

func (s *Server) ingestError(c *gin.Context, err error) {
	s.logger.Error("failed to ingest document", zap.Error(err))
	switch {
	case errors.Is(err, processor.ErrEmptyInput):
		abortWithError(c, http.StatusBadRequest, "DOCUMENT_EMPTY", "document contains no text")
	case llm.IsRetryable(err):
		abortWithError(c, http.StatusBadGateway, "EMBEDDING_FAILED", "failed to embed document, try again later")
	case errors.Is(err, index.ErrDimensionMismatch):
		abortWithError(c, http.StatusInternalServerError, "INDEX_MISMATCH", "embedding model does not match the index")
	default:
		abortWithError(c, http.StatusInternalServerError, "INTERNAL", "failed to index document")
	}
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs := s.docs.Documents(auth.Owner(c))
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
}

func (s *Server) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if owner, ok := s.docs.Owner(id); !ok || owner != auth.Owner(c) {
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", "document not found")
		return
	}

	if err := s.docs.Deindex(c.Request.Context(), id); err != nil {
		if errors.Is(err, ingest.ErrDocumentNotFound) {
			abortWithError(c, http.StatusNotFound, "NOT_FOUND", "document not found")
			return
		}
		s.logger.Error("failed to delete document", zap.String("document_id", id), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "INTERNAL", "failed to delete document")
		return
	}
	c.Status(http.StatusNoContent)
}
