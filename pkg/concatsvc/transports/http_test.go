package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics/discard"
	stdopentracing "github.com/opentracing/opentracing-go"
	stdzipkin "github.com/openzipkin/zipkin-go"
	"github.com/openzipkin/zipkin-go/reporter"
	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/time/rate"

	"github.com/cage1016/concatsvc/pkg/concatsvc/endpoints"
	"github.com/cage1016/concatsvc/pkg/concatsvc/service"
	"github.com/cage1016/concatsvc/pkg/requestid"
)

func newTestHandler(t *testing.T) http.Handler {
	zipkinTracer, err := stdzipkin.NewTracer(reporter.NewNoopReporter(), stdzipkin.WithNoopTracer(true))
	if err != nil {
		t.Fatal(err)
	}
	logger := log.NewNopLogger()
	svc := service.New(service.NewOSFileSystem(), logger)
	eps := endpoints.New(svc, logger, discard.NewHistogram(), rate.Inf, 1, stdopentracing.GlobalTracer(), zipkinTracer)
	return NewHTTPHandler(eps, stdopentracing.GlobalTracer(), zipkinTracer, logger)
}

func post(h http.Handler, contentType, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	r := httptest.NewRequest(http.MethodPost, "/mcp/concatenate", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var out map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func mustJSON(v interface{}) string {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(v)
	return buf.String()
}

func TestHTTPHandler(t *testing.T) {
	dir, err := ioutil.TempDir("", "concatsvc-http")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	file1 := filepath.Join(dir, "file1.txt")
	file2 := filepath.Join(dir, "file2.txt")
	output := filepath.Join(dir, "output.txt")
	ioutil.WriteFile(file1, []byte("Content from file 1\n"), 0644)
	ioutil.WriteFile(file2, []byte("Content from file 2\n"), 0644)

	h := newTestHandler(t)

	Convey("Given the concatsvc HTTP handler", t, func() {
		Convey("valid parameters concatenate the files", func() {
			w, body := post(h, "application/json", mustJSON(map[string]interface{}{
				"files":       []string{file1, file2},
				"output_path": output,
			}))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["success"], ShouldEqual, true)
			So(body["output_path"], ShouldEqual, output)
			So(w.Header().Get(requestid.Header), ShouldNotBeEmpty)

			b, _ := ioutil.ReadFile(output)
			So(string(b), ShouldEqual, "Content from file 1\nContent from file 2\n")
		})

		Convey("file order is preserved", func() {
			w, _ := post(h, "application/json", mustJSON(map[string]interface{}{
				"files":       []string{file2, file1},
				"output_path": output,
			}))
			So(w.Code, ShouldEqual, http.StatusOK)
			b, _ := ioutil.ReadFile(output)
			So(string(b), ShouldEqual, "Content from file 2\nContent from file 1\n")
		})

		Convey("missing files is a bad request", func() {
			w, body := post(h, "application/json", `{"output_path": "out.txt"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body["error"], ShouldEqual, "Files and output_path are required")
			So(body["success"], ShouldEqual, false)
		})

		Convey("an empty files array is a bad request", func() {
			w, body := post(h, "application/json", `{"files": [], "output_path": "out.txt"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body["error"], ShouldEqual, "Files and output_path are required")
		})

		Convey("missing output_path is a bad request", func() {
			w, body := post(h, "application/json", mustJSON(map[string]interface{}{"files": []string{file1}}))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body["error"], ShouldEqual, "Files and output_path are required")
		})

		Convey("an empty body is a bad request", func() {
			w, body := post(h, "application/json", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body["error"], ShouldEqual, "Files and output_path are required")
		})

		Convey("malformed JSON is a bad request", func() {
			w, _ := post(h, "application/json", `{"files": "file1.txt"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("a non JSON request is not acceptable", func() {
			w, body := post(h, "application/x-www-form-urlencoded", "files=a&output_path=b")
			So(w.Code, ShouldEqual, http.StatusNotAcceptable)
			So(body["error"], ShouldEqual, ErrNotAcceptable.Error())
		})

		Convey("a missing input file is unprocessable", func() {
			w, body := post(h, "application/json", mustJSON(map[string]interface{}{
				"files":       []string{file1, filepath.Join(dir, "nonexistent.txt")},
				"output_path": output,
			}))
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			So(body["success"], ShouldEqual, false)
			So(body["error"], ShouldContainSubstring, "No such file or directory")
		})

		Convey("the health check answers", func() {
			r := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldEqual, `{"status":"ok"}`)
		})
	})
}

func TestHTTPClient(t *testing.T) {
	dir, err := ioutil.TempDir("", "concatsvc-client")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	file1 := filepath.Join(dir, "file1.txt")
	ioutil.WriteFile(file1, []byte("Content from file 1\n"), 0644)

	srv := httptest.NewServer(newTestHandler(t))
	defer srv.Close()

	zipkinTracer, _ := stdzipkin.NewTracer(reporter.NewNoopReporter(), stdzipkin.WithNoopTracer(true))

	Convey("Given a client for a running concatsvc", t, func() {
		client, err := NewHTTPClient(strings.TrimPrefix(srv.URL, "http://"), stdopentracing.GlobalTracer(), zipkinTracer, log.NewNopLogger())
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("a success comes back as a successful Result", func() {
			output := filepath.Join(dir, "nested", "out.txt")
			So(client.Concatenate(ctx, []string{file1}, output), ShouldResemble, service.Succeeded(output))
		})

		Convey("a 422 comes back as a failed Result", func() {
			res := client.Concatenate(ctx, []string{filepath.Join(dir, "missing.txt")}, filepath.Join(dir, "out.txt"))
			So(res.Success, ShouldBeFalse)
			So(res.Error, ShouldContainSubstring, "No such file or directory")
		})

		Convey("a 400 comes back with the server message", func() {
			res := client.Concatenate(ctx, nil, filepath.Join(dir, "out.txt"))
			So(res, ShouldResemble, service.Failed("Files and output_path are required"))
		})
	})
}
