package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/veriguard/veriguard/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps an error to its transport status and a stable error body.
// Internal causes are logged, never surfaced.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	kind := apperrors.KindOf(err)

	body := map[string]interface{}{
		"success": false,
		"error":   string(kind),
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		if kind == apperrors.KindPolicyBlocked {
			body["reason"] = appErr.Message
			body["severity"] = string(appErr.Severity)
		} else if kind != apperrors.KindInternal {
			body["message"] = appErr.Message
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}

	writeJSON(w, status, body)
}
