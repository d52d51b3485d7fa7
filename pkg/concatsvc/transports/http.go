package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/kit/circuitbreaker"
	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/ratelimit"
	"github.com/go-kit/kit/sd/lb"
	"github.com/go-kit/kit/tracing/opentracing"
	"github.com/go-kit/kit/tracing/zipkin"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	stdopentracing "github.com/opentracing/opentracing-go"
	stdzipkin "github.com/openzipkin/zipkin-go"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cage1016/concatsvc/pkg/concatsvc/endpoints"
	"github.com/cage1016/concatsvc/pkg/concatsvc/service"
	"github.com/cage1016/concatsvc/pkg/requestid"
)

const contentType = "application/json; charset=utf-8"

// ErrNotAcceptable is returned for requests that are not JSON encoded.
var ErrNotAcceptable = errors.New("only application/json requests are accepted")

type errorWrapper struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func JSONErrorDecoder(r *http.Response) error {
	contentType := r.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return fmt.Errorf("expected JSON formatted error, got Content-Type %s", contentType)
	}
	var w errorWrapper
	if err := json.NewDecoder(r.Body).Decode(&w); err != nil {
		return err
	}
	return errors.New(w.Error)
}

// NewHTTPHandler returns a handler that makes a set of endpoints available on
// predefined paths.
func NewHTTPHandler(endpoints endpoints.Endpoints, otTracer stdopentracing.Tracer, zipkinTracer *stdzipkin.Tracer, logger log.Logger) http.Handler {
	// A global zipkin tracing service fed to each endpoint as ServerOption; the
	// operation name is the endpoint's http method.
	zipkinServer := zipkin.HTTPServerTrace(zipkinTracer)

	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(httpEncodeError),
		httptransport.ServerErrorLogger(logger),
		httptransport.ServerBefore(requestid.HTTPToContext()),
		httptransport.ServerAfter(requestid.ContextToHTTPResponse()),
		zipkinServer,
	}

	m := mux.NewRouter()
	m.Methods(http.MethodPost).Path("/mcp/concatenate").Handler(httptransport.NewServer(
		endpoints.ConcatenateEndpoint,
		decodeHTTPConcatenateRequest,
		httptransport.EncodeJSONResponse,
		append(options, httptransport.ServerBefore(opentracing.HTTPToContext(otTracer, "Concatenate", logger)))...,
	))
	m.Methods(http.MethodGet).Path("/health").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(`{"status":"ok"}`))
	})
	return m
}

// decodeHTTPConcatenateRequest is a transport/http.DecodeRequestFunc that decodes a
// JSON-encoded request from the HTTP request body. Primarily useful in a server.
// An empty body decodes to an empty request, which then fails validation.
func decodeHTTPConcatenateRequest(_ context.Context, r *http.Request) (interface{}, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return nil, ErrNotAcceptable
	}
	var req endpoints.ConcatenateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return nil, err
	}
	return req, nil
}

// NewHTTPClient returns a ConcatsvcService backed by an HTTP server living at the
// remote instance. We expect instance to come from a service discovery system,
// so likely of the form "host:port". We bake-in certain middlewares,
// implementing the client library pattern.
func NewHTTPClient(instance string, otTracer stdopentracing.Tracer, zipkinTracer *stdzipkin.Tracer, logger log.Logger) (service.ConcatsvcService, error) {
	return MakeHTTPClientEndpoints(instance, otTracer, zipkinTracer, logger)
}

// MakeHTTPClientEndpoints builds the client side endpoints used by
// NewHTTPClient. A service discovery factory can take the raw endpoint from it.
func MakeHTTPClientEndpoints(instance string, otTracer stdopentracing.Tracer, zipkinTracer *stdzipkin.Tracer, logger log.Logger) (endpoints.Endpoints, error) {
	// Quickly sanitize the instance string.
	if !strings.HasPrefix(instance, "http") {
		instance = "http://" + instance
	}
	u, err := url.Parse(instance)
	if err != nil {
		return endpoints.Endpoints{}, err
	}

	// A single ratelimiter limits the total outgoing QPS from this client to
	// the remote instance.
	limiter := ratelimit.NewErroringLimiter(rate.NewLimiter(rate.Every(time.Second), 100))

	zipkinClient := zipkin.HTTPClientTrace(zipkinTracer)

	// global client middlewares
	options := []httptransport.ClientOption{
		zipkinClient,
		httptransport.ClientBefore(requestid.ContextToHTTP()),
	}

	e := endpoints.Endpoints{}

	var concatenateEndpoint endpoint.Endpoint
	{
		concatenateEndpoint = httptransport.NewClient(
			http.MethodPost,
			copyURL(u, "/mcp/concatenate"),
			encodeHTTPConcatenateRequest,
			decodeHTTPConcatenateResponse,
			append(options, httptransport.ClientBefore(opentracing.ContextToHTTP(otTracer, logger)))...,
		).Endpoint()
		concatenateEndpoint = opentracing.TraceClient(otTracer, "Concatenate")(concatenateEndpoint)
		concatenateEndpoint = zipkin.TraceEndpoint(zipkinTracer, "Concatenate")(concatenateEndpoint)
		concatenateEndpoint = limiter(concatenateEndpoint)
		concatenateEndpoint = circuitbreaker.Gobreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "Concatenate",
			Timeout: 30 * time.Second,
		}))(concatenateEndpoint)
		e.ConcatenateEndpoint = concatenateEndpoint
	}

	return e, nil
}

func copyURL(base *url.URL, path string) *url.URL {
	next := *base
	next.Path = path
	return &next
}

// encodeHTTPConcatenateRequest is a transport/http.EncodeRequestFunc that
// JSON-encodes any request to the request body. Primarily useful in a client.
func encodeHTTPConcatenateRequest(_ context.Context, r *http.Request, request interface{}) (err error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(request); err != nil {
		return err
	}
	r.Header.Set("Content-Type", contentType)
	r.Body = ioutil.NopCloser(&buf)
	return nil
}

// decodeHTTPConcatenateResponse is a transport/http.DecodeResponseFunc that decodes a
// JSON-encoded concatenate response from the HTTP response body. A 422 carries a
// failed concatenation and decodes like a 200; any other status is interpreted
// as an error. Primarily useful in a client.
func decodeHTTPConcatenateResponse(_ context.Context, r *http.Response) (interface{}, error) {
	if r.StatusCode != http.StatusOK && r.StatusCode != http.StatusUnprocessableEntity {
		return nil, JSONErrorDecoder(r)
	}
	var resp endpoints.ConcatenateResponse
	err := json.NewDecoder(r.Body).Decode(&resp)
	return resp, err
}

func httpEncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", contentType)

	if lberr, ok := err.(lb.RetryError); ok && lberr.Final != nil {
		err = lberr.Final
	}
	w.WriteHeader(httpStatus(err))
	json.NewEncoder(w).Encode(errorWrapper{Error: err.Error()})
}

func httpStatus(err error) int {
	switch err {
	case endpoints.ErrMissingParameters, io.ErrUnexpectedEOF:
		return http.StatusBadRequest
	case ErrNotAcceptable:
		return http.StatusNotAcceptable
	case ratelimit.ErrLimited:
		return http.StatusTooManyRequests
	case lb.ErrNoEndpoints, gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
		return http.StatusServiceUnavailable
	}
	switch err.(type) {
	case *json.SyntaxError, *json.UnmarshalTypeError:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
