package upload

import (
	"context"
	"io"
	nethttp "net/http"
	"strconv"
	"sync/atomic"
)

// sessionTransport binds every request of one run to the run's context, so
// pausing or aborting cancels in-flight requests, and reports PATCH body
// progress as bytes are handed to the connection.
type sessionTransport struct {
	next       nethttp.RoundTripper
	ctx        context.Context
	onProgress func(sent int64)
}

func (t *sessionTransport) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	if err := t.ctx.Err(); err != nil {
		return nil, err
	}
	out := req.WithContext(t.ctx)
	if req.Method == nethttp.MethodPatch && req.Body != nil && t.onProgress != nil {
		base, _ := strconv.ParseInt(req.Header.Get("Upload-Offset"), 10, 64)
		out.Body = &countingBody{
			ReadCloser: req.Body,
			base:       base,
			report: func(sent int64) {
				if t.ctx.Err() == nil {
					t.onProgress(sent)
				}
			},
		}
	}
	return t.next.RoundTrip(out)
}

type countingBody struct {
	io.ReadCloser
	base   int64
	read   atomic.Int64
	report func(sent int64)
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.report(b.base + b.read.Add(int64(n)))
	}
	return n, err
}
