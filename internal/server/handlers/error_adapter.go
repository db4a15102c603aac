package handlers

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/studyforge/studyforge/internal/errors"
)

// Responders render error envelopes. The server installs its own; tests may
// swap them to capture envelopes.
type Responders struct {
	Error   func(http.ResponseWriter, *http.Request, error)
	Message func(http.ResponseWriter, *http.Request, *errors.ErrorEnvelope)
}

func defaultResponders() Responders {
	return Responders{
		Error:   apperrors.RespondWithError,
		Message: apperrors.RespondWithMessage,
	}
}

var responders = defaultResponders()

// SetResponders overrides the error renderers. Nil fields keep the defaults.
func SetResponders(r Responders) {
	d := defaultResponders()
	if r.Error == nil {
		r.Error = d.Error
	}
	if r.Message == nil {
		r.Message = d.Message
	}
	responders = r
}

// ResetResponders restores the default renderers.
func ResetResponders() {
	responders = defaultResponders()
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	responders.Error(w, r, err)
}

// respondWithMessage renders the flat {"error": "..."} shape. Non-envelope
// errors become a generic internal error.
func respondWithMessage(w http.ResponseWriter, r *http.Request, err error) {
	env, ok := err.(*errors.ErrorEnvelope)
	if !ok || env == nil {
		env = apperrors.WrapInternal(r.Context(), err, MsgGenerationFailed)
	}
	responders.Message(w, r, env)
}
