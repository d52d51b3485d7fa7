package endpoints

import (
	"net/http"

	httptransport "github.com/go-kit/kit/transport/http"
)

var (
	_ httptransport.Headerer = (*ConcatenateResponse)(nil)

	_ httptransport.StatusCoder = (*ConcatenateResponse)(nil)
)

// ConcatenateResponse collects the response values for the Concatenate method.
type ConcatenateResponse struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path,omitempty"`
	Err        string `json:"error,omitempty"`
}

// StatusCode reports a failed concatenation as unprocessable.
func (r ConcatenateResponse) StatusCode() int {
	if r.Success {
		return http.StatusOK
	}
	return http.StatusUnprocessableEntity
}

func (r ConcatenateResponse) Headers() http.Header {
	return http.Header{}
}
