package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/sd"
	"github.com/gorilla/mux"
	stdopentracing "github.com/opentracing/opentracing-go"
	stdzipkin "github.com/openzipkin/zipkin-go"
)

type TransportRouter struct {
	Router *mux.Router
}

func NewHandlerBuilder() TransportRouter {
	r := mux.NewRouter()

	r.HandleFunc("/", func(writer http.ResponseWriter, request *http.Request) {
		writer.Write([]byte("ok"))
	})

	return TransportRouter{r}
}

// AddHandler mounts h under /prefix, stripping the prefix before h sees the path.
func (tr TransportRouter) AddHandler(prefix string, h http.Handler) {
	buf := fmt.Sprintf("/%s", prefix)
	tr.Router.PathPrefix(buf).Handler(http.StripPrefix(buf, h))
}

// MakeHandler returns the gateway handler. Requests under /concatsvc are
// balanced over the instances yielded by instancer.
func MakeHandler(instancer sd.Instancer, retryMax int, retryTimeout time.Duration, tracer stdopentracing.Tracer, zipkinTracer *stdzipkin.Tracer, logger log.Logger) http.Handler {
	tr := NewHandlerBuilder()
	tr.AddHandler("concatsvc", MakeConcatsvcHandler(instancer, retryMax, retryTimeout, tracer, zipkinTracer, log.With(logger, "upstream", "concatsvc")))
	return tr.Router
}
