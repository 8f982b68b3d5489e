package website

import (
	"fmt"
	"net/http"
	"time"

	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/oops"
	"git.handmade.network/hmn/imghost/src/perf"
	"golang.org/x/sync/semaphore"
)

func panicCatcherMiddleware(h Handler) Handler {
	return func(c *RequestContext) (res ResponseData) {
		defer func() {
			if recovered := recover(); recovered != nil {
				maybeError, ok := recovered.(error)
				var err error
				if ok {
					err = oops.New(maybeError, "Recovered from panic")
				} else {
					err = oops.New(nil, fmt.Sprintf("Recovered from panic with value: %v", recovered))
				}
				res = c.ErrorResponse(http.StatusInternalServerError, err)
			}
		}()

		return h(c)
	}
}

func imageServiceMiddleware(svc *images.Service) Middleware {
	return func(h Handler) Handler {
		return func(c *RequestContext) ResponseData {
			c.Images = svc
			return h(c)
		}
	}
}

func trackRequestPerf(h Handler) Handler {
	return func(c *RequestContext) ResponseData {
		c.Perf = perf.MakeNewRequestPerf(c.Route, c.Req.Method, c.Req.URL.Path)
		var res ResponseData
		defer func() {
			c.Perf.EndRequest()
			log := c.Logger.Info()
			blockStack := make([]time.Time, 0)
			blocks := c.Perf.Snapshot()
			for i, block := range blocks {
				for len(blockStack) > 0 && block.End.After(blockStack[len(blockStack)-1]) {
					blockStack = blockStack[:len(blockStack)-1]
				}
				log.Str(fmt.Sprintf("[%4.d] At %9.2fms", i, c.Perf.MsFromStart(&block)), fmt.Sprintf("%*.s[%s] %s (%.4fms)", len(blockStack)*2, "", block.Category, block.Description, block.DurationMs()))
				blockStack = append(blockStack, block.End)
			}
			log.Int("status", res.StatusCode).Msg(fmt.Sprintf("Served [%s] %s in %.4fms", c.Perf.Method, c.Perf.Path, float64(c.Perf.Elapsed().Nanoseconds())/1000/1000))
		}()

		res = h(c)
		return res
	}
}

// limitConcurrency lets at most n requests through at once. The rest wait
// for a slot, or give up with 503 when their request is canceled.
func limitConcurrency(n int) Middleware {
	sem := semaphore.NewWeighted(int64(n))
	return func(h Handler) Handler {
		return func(c *RequestContext) ResponseData {
			b := c.Perf.StartBlock("WAIT", "Upload slot")
			err := sem.Acquire(c, 1)
			b.End()
			if err != nil {
				c.Logger.Warn().Err(err).Msg("gave up waiting for an upload slot")
				return c.ErrorResponse(http.StatusServiceUnavailable, NewSafeError(err, "The server is busy, please try again"))
			}
			defer sem.Release(1)

			return h(c)
		}
	}
}

func logContextErrors(c *RequestContext, errs ...error) {
	for _, err := range errs {
		c.Logger.Error().Timestamp().Stack().Str("Requested", c.FullUrl()).Err(err).Msg("error occurred during request")
	}
}

func logContextErrorsMiddleware(h Handler) Handler {
	return func(c *RequestContext) ResponseData {
		res := h(c)
		logContextErrors(c, res.Errors...)
		return res
	}
}
