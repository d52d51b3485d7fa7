package endpoints

import "errors"

// ErrMissingParameters is returned when a request lacks files or an output path.
var ErrMissingParameters = errors.New("Files and output_path are required")

type Request interface {
	validate() error
}

// ConcatenateRequest collects the request parameters for the Concatenate method.
type ConcatenateRequest struct {
	Files      []string `json:"files"`
	OutputPath string   `json:"output_path"`
}

func (r ConcatenateRequest) validate() error {
	if len(r.Files) == 0 || r.OutputPath == "" {
		return ErrMissingParameters
	}
	return nil
}
