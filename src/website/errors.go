package website

import (
	"errors"
	"fmt"
	"net/http"

	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/templates"
)

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func FourOhFour(c *RequestContext) ResponseData {
	var res ResponseData
	res.StatusCode = http.StatusNotFound

	if c.wantsHTML() {
		templateData := struct {
			templates.BaseData
			Wanted string
		}{
			BaseData: getBaseData(c, "Not found"),
			Wanted:   c.FullUrl(),
		}
		res.MustWriteTemplate("404.html", templateData, c.Perf)
	} else {
		res.WriteJson(errorBody{Status: "error", Message: "Not found"}, c.Perf)
	}
	return res
}

// A SafeError can be used to wrap another error and explicitly provide
// an error message that is safe to show to a user. This allows the original
// error to easily be logged and for servers to consistently return errors
// in a standard format, without having to worry about leaking sensitive
// info (assuming you use the right middleware!).
type SafeError struct {
	Wrapped error
	Msg     string
}

func NewSafeError(err error, msg string, args ...interface{}) error {
	return &SafeError{
		Wrapped: err,
		Msg:     fmt.Sprintf(msg, args...),
	}
}

func (s *SafeError) Error() string {
	return s.Msg
}

func (s *SafeError) Unwrap() error {
	return s.Wrapped
}

// errorStatus picks the HTTP status for an error and the message the client
// is allowed to see.
func errorStatus(err error) (int, string) {
	if msg, ok := images.UserMessage(err); ok {
		if errors.Is(err, images.ErrNotFound) {
			return http.StatusNotFound, msg
		}
		return http.StatusBadRequest, msg
	}

	var safe *SafeError
	if errors.As(err, &safe) {
		return http.StatusInternalServerError, safe.Msg
	}

	return http.StatusInternalServerError, "Internal server error"
}

// ErrorResponse answers with the JSON error envelope. The message comes from
// the first error; internal errors are attached to the response for logging.
func (c *RequestContext) ErrorResponse(status int, errs ...error) ResponseData {
	message := http.StatusText(status)
	if len(errs) > 0 {
		_, message = errorStatus(errs[0])
	}

	res := ResponseData{StatusCode: status}
	if status == http.StatusInternalServerError {
		res.Errors = errs
	}
	res.WriteJson(errorBody{Status: "error", Message: message}, c.Perf)
	return res
}

// ApiError turns a service error into the matching JSON error response.
func (c *RequestContext) ApiError(err error) ResponseData {
	status, _ := errorStatus(err)
	return c.ErrorResponse(status, err)
}
