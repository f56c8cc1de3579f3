package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrSnakeDoc/forest/internal/branch"
	"github.com/MrSnakeDoc/forest/internal/druid"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/store"
)

// Result values of the response envelope.
const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultError   = "error"
)

const maxBodyBytes = 4 << 20

type envelope struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

type stepFailure struct {
	Result   string `json:"result"`
	Message  string `json:"message"`
	Step     string `json:"step"`
	Peer     string `json:"peer"`
	Code     int    `json:"code"`
	Response string `json:"response,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, status int, result, message string) {
	writeJSON(w, status, envelope{Result: result, Message: message})
}

func ok(w http.ResponseWriter) { writeResult(w, http.StatusOK, resultSuccess, "OK") }

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", druid.ErrInvalidRequest, err)
	}
	return nil
}

// writeError maps domain errors to HTTP answers. Failures of a remote step
// carry the failing step and the raw peer answer.
func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	var step *druid.StepError
	switch {
	case errors.As(err, &step):
		writeJSON(w, http.StatusBadGateway, stepFailure{
			Result:   resultFailure,
			Message:  err.Error(),
			Step:     step.Step,
			Peer:     step.Peer,
			Code:     step.Code,
			Response: step.Response,
		})
	case errors.Is(err, druid.ErrInvalidRequest),
		errors.Is(err, branch.ErrInvalidLeaf),
		errors.Is(err, branch.ErrLoggerCreation):
		writeResult(w, http.StatusBadRequest, resultFailure, err.Error())
	case errors.Is(err, druid.ErrDuplicateLeaf),
		errors.Is(err, druid.ErrDuplicateSpecies),
		errors.Is(err, druid.ErrUnknownSpecies),
		errors.Is(err, branch.ErrSpeciesNotDefined):
		writeResult(w, http.StatusBadRequest, resultError, err.Error())
	case errors.Is(err, druid.ErrUnknownLeaf),
		errors.Is(err, druid.ErrUnknownBranch),
		errors.Is(err, branch.ErrLoggerNotFound),
		errors.Is(err, store.ErrNotFound):
		writeResult(w, http.StatusNotFound, resultFailure, err.Error())
	default:
		log.Error("request failed", logger.Error(err))
		writeResult(w, http.StatusInternalServerError, resultError, err.Error())
	}
}
