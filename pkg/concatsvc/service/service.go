package service

import (
	"context"
	"io"
	"path/filepath"

	"github.com/go-kit/kit/log"
)

const dirPerm = 0755

// Middleware describes a service (as opposed to endpoint) middleware.
type Middleware func(ConcatsvcService) ConcatsvcService

// ConcatsvcService describes a service that joins files together.
// Failures are reported through the returned Result, never as a panic or error.
type ConcatsvcService interface {
	Concatenate(ctx context.Context, files []string, outputPath string) (res Result)
}

// Result is the outcome of a concatenation. Either Success is set and
// OutputPath is echoed back, or Error carries the failure description.
type Result struct {
	Success    bool
	OutputPath string
	Error      string
}

// Succeeded returns a successful Result for outputPath.
func Succeeded(outputPath string) Result {
	return Result{Success: true, OutputPath: outputPath}
}

// Failed returns a failed Result carrying message.
func Failed(message string) Result {
	return Result{Error: message}
}

// the concrete implementation of service interface
type stubConcatsvcService struct {
	logger log.Logger
	fs     FileSystem
}

// New return a new instance of the service.
// Logging is always applied; extra middlewares wrap it in the given order.
func New(fs FileSystem, logger log.Logger, mws ...Middleware) (s ConcatsvcService) {
	var svc ConcatsvcService
	{
		svc = &stubConcatsvcService{logger: logger, fs: fs}
		svc = LoggingMiddleware(logger)(svc)
		for _, mw := range mws {
			svc = mw(svc)
		}
	}
	return svc
}

// Concatenate writes the content of files, in order, into outputPath.
func (cs *stubConcatsvcService) Concatenate(ctx context.Context, files []string, outputPath string) (res Result) {
	if err := cs.concatenate(files, outputPath); err != nil {
		return Failed(Describe(err))
	}
	return Succeeded(outputPath)
}

func (cs *stubConcatsvcService) concatenate(files []string, outputPath string) (err error) {
	if err = cs.fs.MkdirAll(filepath.Dir(outputPath), dirPerm); err != nil {
		return err
	}

	out, err := cs.fs.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	// bytes of files copied before a failure stay in the output
	for _, name := range files {
		if err = cs.appendFile(out, name); err != nil {
			return err
		}
	}
	return nil
}

func (cs *stubConcatsvcService) appendFile(w io.Writer, name string) error {
	in, err := cs.fs.Open(name)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = io.Copy(w, in)
	return err
}
