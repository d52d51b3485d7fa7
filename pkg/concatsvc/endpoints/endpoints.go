package endpoints

import (
	"context"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/ratelimit"
	"github.com/go-kit/kit/tracing/opentracing"
	"github.com/go-kit/kit/tracing/zipkin"
	stdopentracing "github.com/opentracing/opentracing-go"
	stdzipkin "github.com/openzipkin/zipkin-go"
	"golang.org/x/time/rate"

	"github.com/cage1016/concatsvc/pkg/concatsvc/service"
)

// Endpoints collects all of the endpoints that compose the concatsvc service. It's
// meant to be used as a helper struct, to collect all of the endpoints into a
// single parameter.
type Endpoints struct {
	ConcatenateEndpoint endpoint.Endpoint
}

// New return a new instance of the endpoint that wraps the provided service.
// Requests beyond limit per second, after a burst of burst, fail with
// ratelimit.ErrLimited. A limit of rate.Inf disables limiting.
func New(svc service.ConcatsvcService, logger log.Logger, duration metrics.Histogram, limit rate.Limit, burst int, otTracer stdopentracing.Tracer, zipkinTracer *stdzipkin.Tracer) (ep Endpoints) {
	var concatenateEndpoint endpoint.Endpoint
	{
		method := "concatenate"
		concatenateEndpoint = MakeConcatenateEndpoint(svc)
		concatenateEndpoint = ratelimit.NewErroringLimiter(rate.NewLimiter(limit, burst))(concatenateEndpoint)
		concatenateEndpoint = opentracing.TraceServer(otTracer, method)(concatenateEndpoint)
		concatenateEndpoint = zipkin.TraceEndpoint(zipkinTracer, method)(concatenateEndpoint)
		concatenateEndpoint = InstrumentingMiddleware(duration.With("method", method))(concatenateEndpoint)
		concatenateEndpoint = LoggingMiddleware(log.With(logger, "method", method))(concatenateEndpoint)
		ep.ConcatenateEndpoint = concatenateEndpoint
	}

	return ep
}

// MakeConcatenateEndpoint returns an endpoint that invokes Concatenate on the service.
// Primarily useful in a server.
func MakeConcatenateEndpoint(svc service.ConcatsvcService) (ep endpoint.Endpoint) {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(ConcatenateRequest)
		if err := req.validate(); err != nil {
			return ConcatenateResponse{}, err
		}
		res := svc.Concatenate(ctx, req.Files, req.OutputPath)
		return ConcatenateResponse{Success: res.Success, OutputPath: res.OutputPath, Err: res.Error}, nil
	}
}

// Concatenate implements the service interface, so Endpoints may be used as a service.
// This is primarily useful in the context of a client library. Transport
// errors are reported as a failed Result.
func (e Endpoints) Concatenate(ctx context.Context, files []string, outputPath string) (res service.Result) {
	resp, err := e.ConcatenateEndpoint(ctx, ConcatenateRequest{Files: files, OutputPath: outputPath})
	if err != nil {
		return service.Failed(err.Error())
	}
	response := resp.(ConcatenateResponse)
	if !response.Success {
		return service.Failed(response.Err)
	}
	return service.Succeeded(response.OutputPath)
}
