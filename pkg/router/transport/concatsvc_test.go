package transport

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/sd"
	stdopentracing "github.com/opentracing/opentracing-go"
	stdzipkin "github.com/openzipkin/zipkin-go"
	"github.com/openzipkin/zipkin-go/reporter"
	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/time/rate"

	"github.com/cage1016/concatsvc/pkg/concatsvc/endpoints"
	"github.com/cage1016/concatsvc/pkg/concatsvc/service"
	"github.com/cage1016/concatsvc/pkg/concatsvc/transports"
)

type countingService struct {
	calls int
	next  service.ConcatsvcService
}

func (s *countingService) Concatenate(ctx context.Context, files []string, outputPath string) service.Result {
	s.calls++
	return s.next.Concatenate(ctx, files, outputPath)
}

func gatewayPost(h http.Handler, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	r := httptest.NewRequest(http.MethodPost, "/concatsvc/mcp/concatenate", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var out map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestGateway(t *testing.T) {
	dir, err := ioutil.TempDir("", "concatsvc-router")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	file1 := filepath.Join(dir, "file1.txt")
	ioutil.WriteFile(file1, []byte("Content from file 1\n"), 0644)

	zipkinTracer, err := stdzipkin.NewTracer(reporter.NewNoopReporter(), stdzipkin.WithNoopTracer(true))
	if err != nil {
		t.Fatal(err)
	}
	tracer := stdopentracing.GlobalTracer()
	logger := log.NewNopLogger()

	upstreamSvc := &countingService{next: service.New(service.NewOSFileSystem(), logger)}
	upstreamEps := endpoints.New(upstreamSvc, logger, discard.NewHistogram(), rate.Inf, 1, tracer, zipkinTracer)
	upstream := httptest.NewServer(transports.NewHTTPHandler(upstreamEps, tracer, zipkinTracer, logger))
	defer upstream.Close()

	Convey("Given a gateway in front of one concatsvc instance", t, func() {
		instancer := sd.FixedInstancer{strings.TrimPrefix(upstream.URL, "http://")}
		h := MakeHandler(instancer, 10, 5*time.Second, tracer, zipkinTracer, logger)

		Convey("the root answers ok", func() {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			So(w.Body.String(), ShouldEqual, "ok")
		})

		Convey("requests are forwarded with the prefix stripped", func() {
			output := filepath.Join(dir, "out.txt")
			w, body := gatewayPost(h, `{"files": ["`+file1+`"], "output_path": "`+output+`"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["output_path"], ShouldEqual, output)
			b, _ := ioutil.ReadFile(output)
			So(string(b), ShouldEqual, "Content from file 1\n")
		})

		Convey("upstream failures keep their 422", func() {
			w, body := gatewayPost(h, `{"files": ["`+filepath.Join(dir, "nonexistent.txt")+`"], "output_path": "`+filepath.Join(dir, "out.txt")+`"}`)
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(body["error"], ShouldContainSubstring, "No such file or directory")
		})

		Convey("invalid requests never reach the upstream", func() {
			before := upstreamSvc.calls
			w, body := gatewayPost(h, `{"files": []}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body["error"], ShouldEqual, "Files and output_path are required")
			So(upstreamSvc.calls, ShouldEqual, before)
		})
	})

	Convey("Given a gateway without instances", t, func() {
		h := MakeHandler(sd.FixedInstancer{}, 1, 100*time.Millisecond, tracer, zipkinTracer, logger)

		Convey("requests are answered with 503", func() {
			w, _ := gatewayPost(h, `{"files": ["a"], "output_path": "b"}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}
