package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics"
)

type instrumentingMiddleware struct {
	requests metrics.Counter
	files    metrics.Counter
	latency  metrics.Histogram
	next     ConcatsvcService
}

// InstrumentingMiddleware counts concatenations by outcome, counts the input
// files they read and observes their latency in seconds.
func InstrumentingMiddleware(requests, files metrics.Counter, latency metrics.Histogram) Middleware {
	return func(next ConcatsvcService) ConcatsvcService {
		return instrumentingMiddleware{
			requests: requests,
			files:    files,
			latency:  latency,
			next:     next,
		}
	}
}

func (im instrumentingMiddleware) Concatenate(ctx context.Context, files []string, outputPath string) (res Result) {
	defer func(begin time.Time) {
		lvs := []string{"method", "Concatenate", "success", fmt.Sprint(res.Success)}
		im.requests.With(lvs...).Add(1)
		im.files.With(lvs...).Add(float64(len(files)))
		im.latency.With(lvs...).Observe(time.Since(begin).Seconds())
	}(time.Now())

	return im.next.Concatenate(ctx, files, outputPath)
}
