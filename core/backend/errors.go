package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/relabs-tech/supportdesk/core/logger"
	"github.com/relabs-tech/supportdesk/core/schema"
)

// the error taxonomy of the resource workflow. Anything else is an internal error.
var (
	// ErrNotFound is returned when the target record does not exist
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the principal is not authorized for the operation
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized is returned for requests without principal
	ErrUnauthorized = errors.New("authentication required")
)

const forbiddenMessage = "You are not allowed to access this resource"

// ValidationError is returned when a payload does not satisfy the resource's schema
type ValidationError struct {
	Errors []schema.FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Validation Error (%d errors)", len(e.Errors))
}

// BadRequestError is returned for requests which cannot be interpreted at all
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// internalError carries an error code for the log
type internalError struct {
	code int
	err  error
}

func (e *internalError) Error() string {
	return fmt.Sprintf("Error %d: %v", e.code, e.err)
}

func (e *internalError) Unwrap() error {
	return e.err
}

func internal(code int, err error) error {
	return &internalError{code: code, err: err}
}

func notFound(label string) error {
	return fmt.Errorf("%s %w", label, ErrNotFound)
}

func badRequest(format string, a ...interface{}) error {
	return &BadRequestError{Message: fmt.Sprintf(format, a...)}
}

type messageResponse struct {
	Message string              `json:"message"`
	Errors  []schema.FieldError `json:"errors,omitempty"`
}

// StatusOf maps a workflow error to its HTTP status code
func StatusOf(err error) int {
	var validationErr *ValidationError
	var badRequestErr *BadRequestError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &validationErr), errors.As(err, &badRequestErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the error response for a workflow error. Internal errors are logged
// and reported with their error code only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	response := messageResponse{Message: err.Error()}
	switch status {
	case http.StatusForbidden:
		response.Message = forbiddenMessage
	case http.StatusUnauthorized:
		response.Message = ErrUnauthorized.Error()
	case http.StatusBadRequest:
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			response.Message = "Validation Error"
			response.Errors = validationErr.Errors
		}
	case http.StatusInternalServerError:
		code := 4700
		var ie *internalError
		if errors.As(err, &ie) {
			code = ie.code
		}
		logger.FromContext(r.Context()).WithError(err).Errorf("Error %d: %s %s", code, r.Method, r.URL.Path)
		response.Message = fmt.Sprintf("internal error %d", code)
	}
	writeJSON(w, status, response)
}
