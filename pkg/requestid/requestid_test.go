package requestid

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRequestID(t *testing.T) {
	Convey("Given an incoming request", t, func() {
		r := httptest.NewRequest("POST", "/mcp/concatenate", nil)

		Convey("an existing header is kept", func() {
			r.Header.Set(Header, "abc")
			ctx := HTTPToContext()(context.Background(), r)
			So(FromContext(ctx), ShouldEqual, "abc")
		})

		Convey("a missing header gets a generated UUID", func() {
			ctx := HTTPToContext()(context.Background(), r)
			_, err := uuid.Parse(FromContext(ctx))
			So(err, ShouldBeNil)
		})

		Convey("the ID is echoed on the response", func() {
			w := httptest.NewRecorder()
			ContextToHTTPResponse()(NewContext(context.Background(), "abc"), w)
			So(w.Header().Get(Header), ShouldEqual, "abc")
		})

		Convey("the ID is forwarded by clients", func() {
			ContextToHTTP()(NewContext(context.Background(), "abc"), r)
			So(r.Header.Get(Header), ShouldEqual, "abc")
		})
	})

	Convey("An empty context has no ID", t, func() {
		So(FromContext(context.Background()), ShouldEqual, "")
	})
}
