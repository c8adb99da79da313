package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/storekit/storesync/internal/models"
	"github.com/storekit/storesync/internal/resolve"
	"github.com/storekit/storesync/internal/server/storage"
	"github.com/storekit/storesync/pkg/api"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes the common error envelope.
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	writeJSON(w, logger, status, api.ErrorResponse{
		Error:      message,
		StatusCode: status,
	})
}

// writeFieldErrors writes a 400 with per-field validation errors.
func writeFieldErrors(w http.ResponseWriter, logger *slog.Logger, fields []api.FieldError) {
	writeJSON(w, logger, http.StatusBadRequest, api.ErrorResponse{
		Error:      "validation failed",
		StatusCode: http.StatusBadRequest,
		Errors:     fields,
	})
}

// writeConflict writes the 409 conflict report: both versions plus the
// resolution hints the client can retry with.
func writeConflict(w http.ResponseWriter, logger *slog.Logger, report *resolve.Report) {
	writeJSON(w, logger, http.StatusConflict, api.ConflictResponse{
		Conflict:      true,
		Message:       report.Message,
		ServerVersion: toAPIRecord(report.ServerRecord),
		ClientVersion: api.ClientVersion{
			Payload:     report.ClientProposal.Payload,
			SyncVersion: report.ClientProposal.SyncVersion,
		},
		Resolution: api.ResolutionHints{
			AcceptServer: "discard the local edit and take the server version",
			AcceptClient: "retry the write with X-Conflict-Resolution: acceptClient",
			Merge:        "merge the two payloads and retry with X-Conflict-Resolution: merge",
		},
	})
}

// writeStorageError maps store errors onto HTTP statuses.
func writeStorageError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if conflictErr, ok := storage.AsConflict(err); ok {
		writeConflict(w, logger, conflictErr.Report)
		return
	}

	switch {
	case errors.Is(err, storage.ErrRecordNotFound):
		writeError(w, logger, http.StatusNotFound, "record not found")
	case errors.Is(err, storage.ErrInvalidReference):
		writeError(w, logger, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, storage.ErrSaleVoided):
		writeError(w, logger, http.StatusConflict, "sale is already voided")
	default:
		logger.Error("Storage error", "error", err)
		writeError(w, logger, http.StatusInternalServerError, "internal server error")
	}
}

// toAPIRecord converts a stored record to its wire shape.
func toAPIRecord(record *models.Record) api.Record {
	return api.Record{
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
		LastSyncedAt: record.LastSyncedAt,
		ServerID:     record.ServerID,
		Entity:       record.Entity,
		Payload:      record.Payload,
		SyncVersion:  record.SyncVersion,
		Active:       record.Active,
	}
}
