package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/tidemark-io/tidemark/internal/core/errors"
	"github.com/tidemark-io/tidemark/internal/core/record"
	"github.com/tidemark-io/tidemark/internal/dataset"
)

const (
	msgReadBodyFailed  = "Failed to read request body"
	msgInvalidJSON     = "Invalid JSON body"
	msgPersistFailed   = "Failed to persist records"
	msgQueryFailed     = "Failed to execute query"
	msgUnknownDataSet  = "Unknown data set"
	msgBodyTooLarge    = "Request body exceeds maximum allowed size"
	msgBatchRejected   = "Batch failed validation"
	msgUnpublishedRead = "Data set is not published"
)

// Service exposes the data sets over HTTP: one write route, one read route
// and a staleness report.
type Service struct {
	registry         *dataset.Registry
	maxBodySizeBytes int
}

func NewService(registry *dataset.Registry, maxBodySizeMB int) *Service {
	if registry == nil {
		panic("service: registry must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1
	}
	return &Service{
		registry:         registry,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the data routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/data/:data_group/:data_type", s.StoreHandler)
	r.GET("/data/:data_group/:data_type", s.QueryHandler)
	r.GET("/_status/data-sets", s.DataSetStatusHandler)
}

// serviceError carries the structured HTTP error shape from a helper back to
// the handler. Helpers return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type serviceError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *serviceError) Error() string {
	return e.message
}

// StoreHandler accepts a JSON record or array of records and persists the
// batch.
func (s *Service) StoreHandler(c *gin.Context) {
	ds, svcErr := s.resolve(c, false)
	if svcErr != nil {
		writeError(c, svcErr)
		return
	}

	batch, payloadSize, svcErr := s.parseBatch(c)
	if svcErr != nil {
		writeError(c, svcErr)
		return
	}

	slog.Info("Received batch",
		"data_set", ds.Name(),
		"records", len(batch),
		"payload_size", payloadSize)

	if err := ds.Store(c.Request.Context(), batch); err != nil {
		writeError(c, storeError(ds.Name(), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "records": len(batch)})
}

// QueryHandler parses the request parameters into a query and returns the
// shaped response.
func (s *Service) QueryHandler(c *gin.Context) {
	ds, svcErr := s.resolve(c, true)
	if svcErr != nil {
		writeError(c, svcErr)
		return
	}

	q, err := ParseQuery(c.Request.URL.Query())
	if err != nil {
		writeError(c, &serviceError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidQueryError,
			message:    err.Error(),
		})
		return
	}

	data, err := ds.Query(c.Request.Context(), q)
	if err != nil {
		var opErr *httperr.InvalidOperationError
		if errors.As(err, &opErr) {
			writeError(c, &serviceError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpInvalidQueryError,
				message:    err.Error(),
			})
			return
		}
		slog.Error("Query failed", "data_set", ds.Name(), "error", err)
		writeError(c, &serviceError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgQueryFailed,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// DataSetStatusHandler reports the freshness of every data set.
func (s *Service) DataSetStatusHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	type status struct {
		Name         string     `json:"name"`
		LastUpdated  *time.Time `json:"last_updated,omitempty"`
		RecentEnough bool       `json:"recent_enough"`
	}

	var stale int
	statuses := make([]status, 0, len(s.registry.All()))
	for _, ds := range s.registry.All() {
		ok, err := ds.IsRecentEnough(ctx)
		if err != nil {
			slog.Error("Staleness check failed", "data_set", ds.Name(), "error", err)
			writeError(c, &serviceError{
				statusCode: http.StatusInternalServerError,
				errorType:  httperr.HttpInternalError,
				message:    "Failed to check data set status",
			})
			return
		}
		if !ok {
			stale++
		}
		statuses = append(statuses, status{Name: ds.Name(), RecentEnough: ok})
	}

	code := http.StatusOK
	if stale > 0 {
		code = http.StatusInternalServerError
	}
	c.JSON(code, gin.H{"data_sets": statuses, "stale": stale})
}

// resolve maps the route's data-group/data-type pair onto a configured data
// set. Reads additionally require the set to be published.
func (s *Service) resolve(c *gin.Context, read bool) (*dataset.DataSet, *serviceError) {
	group := c.Param("data_group")
	typ := c.Param("data_type")

	ds, ok := s.registry.ByGroupType(group, typ)
	if !ok {
		return nil, &serviceError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpDataSetUnknownError,
			message:    msgUnknownDataSet,
		}
	}
	if read && !ds.Published() {
		return nil, &serviceError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpDataSetUnknownError,
			message:    msgUnpublishedRead,
		}
	}
	return ds, nil
}

// parseBatch reads the body and decodes either a single JSON object or an
// array of objects into records.
func (s *Service) parseBatch(c *gin.Context) ([]record.Record, int, *serviceError) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1)

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &serviceError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}
	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &serviceError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgBodyTooLarge,
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	trimmed := bytes.TrimLeft(bodyBytes, " \t\r\n")
	var batch []record.Record
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(bodyBytes, &batch)
	} else {
		var one record.Record
		if err = json.Unmarshal(bodyBytes, &one); err == nil {
			batch = []record.Record{one}
		}
	}
	if err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &serviceError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return batch, len(bodyBytes), nil
}

// storeError maps a persistence failure onto the HTTP error shape.
func storeError(name string, err error) *serviceError {
	var batchErr *httperr.BatchValidationError
	if errors.As(err, &batchErr) {
		details := make([]string, len(batchErr.Violations))
		for i, v := range batchErr.Violations {
			details[i] = v.Error()
		}
		return &serviceError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    msgBatchRejected,
			details:    details,
		}
	}

	slog.Error("Failed to persist batch", "data_set", name, "error", err)
	return &serviceError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    msgPersistFailed,
	}
}

// writeError serializes a serviceError as the JSON HTTP response.
func writeError(c *gin.Context, err *serviceError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
