package service

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

type loggingMiddleware struct {
	logger log.Logger
	next   ConcatsvcService
}

// LoggingMiddleware takes a logger as a dependency
// and returns a ServiceMiddleware.
func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next ConcatsvcService) ConcatsvcService {
		return loggingMiddleware{level.Info(logger), next}
	}
}

func (lm loggingMiddleware) Concatenate(ctx context.Context, files []string, outputPath string) (res Result) {
	defer func(begin time.Time) {
		lm.logger.Log(
			"method", "Concatenate",
			"files", len(files),
			"output_path", outputPath,
			"success", res.Success,
			"err", res.Error,
			"took", time.Since(begin),
		)
	}(time.Now())

	return lm.next.Concatenate(ctx, files, outputPath)
}
