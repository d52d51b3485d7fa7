package transport

import (
	"io"
	"net/http"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/sd"
	"github.com/go-kit/kit/sd/lb"
	stdopentracing "github.com/opentracing/opentracing-go"
	stdzipkin "github.com/openzipkin/zipkin-go"

	"github.com/cage1016/concatsvc/pkg/concatsvc/endpoints"
	"github.com/cage1016/concatsvc/pkg/concatsvc/transports"
)

// MakeConcatsvcHandler serves the concatsvc HTTP API by forwarding requests to
// upstream instances. Invalid requests are rejected before any upstream call.
func MakeConcatsvcHandler(instancer sd.Instancer, retryMax int, retryTimeout time.Duration, tracer stdopentracing.Tracer, zipkinTracer *stdzipkin.Tracer, logger log.Logger) http.Handler {
	endpointer := sd.NewEndpointer(instancer, concatsvcFactory(tracer, zipkinTracer, logger), logger)
	balancer := lb.NewRoundRobin(endpointer)

	var eps = endpoints.Endpoints{}
	eps.ConcatenateEndpoint = endpoints.ValidateMiddleware()(lb.Retry(retryMax, retryTimeout, balancer))

	return transports.NewHTTPHandler(eps, tracer, zipkinTracer, logger)
}

func concatsvcFactory(tracer stdopentracing.Tracer, zipkinTracer *stdzipkin.Tracer, logger log.Logger) sd.Factory {
	return func(instance string) (endpoint.Endpoint, io.Closer, error) {
		eps, err := transports.MakeHTTPClientEndpoints(instance, tracer, zipkinTracer, logger)
		if err != nil {
			return nil, nil, err
		}
		return eps.ConcatenateEndpoint, nil, nil
	}
}
