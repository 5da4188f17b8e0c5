package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/database"
	"github.com/camden-git/collectionstore/logging"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

var kindStatus = map[database.ErrorKind]struct {
	status int
	code   string
}{
	database.KindNameInUse:             {http.StatusConflict, "name_in_use"},
	database.KindInvalidRename:         {http.StatusBadRequest, "invalid_rename"},
	database.KindInvalidItem:           {http.StatusBadRequest, "invalid_item"},
	database.KindMissingContentVersion: {http.StatusBadRequest, "missing_content_version"},
	database.KindNotFound:              {http.StatusNotFound, "not_found"},
	database.KindCleanState:            {http.StatusBadRequest, "rejected"},
	database.KindDirtyState:            {http.StatusInternalServerError, "dirty_state"},
}

// WriteStoreError maps a store error onto the error envelope.
func WriteStoreError(w http.ResponseWriter, err error) {
	var se *database.StoreError
	if !errors.As(err, &se) {
		logging.Log.Named("http").Error("unclassified error", zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if se.RollbackFailed {
		logging.Log.Named("http").Error("store is untrustworthy", zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "untrustworthy_store", err.Error())
		return
	}
	mapped, ok := kindStatus[se.Kind]
	if !ok {
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	WriteAPIError(w, mapped.status, mapped.code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.Log.Named("http").Warn("error encoding JSON response", zap.Error(err))
		}
	}
}

var validate = validator.New()

// decodeJSON decodes a request body into the struct pointed to by dst and
// checks its validate tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}
