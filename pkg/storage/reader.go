package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/auth"
	"cloudsdk/pkg/options"
	"cloudsdk/pkg/pipeline"
	"cloudsdk/pkg/retry"
	"cloudsdk/pkg/transport"
)

// ReadRange selects the bytes to download. The zero value reads the whole
// object.
type ReadRange struct {
	// Offset is the first byte to read.
	Offset int64
	// Length bounds how many bytes to read; zero means to the end.
	Length int64
}

func (r ReadRange) whole() bool { return r.Offset == 0 && r.Length == 0 }

// header renders the Range header, shifted forward by received bytes on
// resume.
func (r ReadRange) header(received int64) string {
	start := r.Offset + received
	if r.Length > 0 {
		end := r.Offset + r.Length - 1
		return fmt.Sprintf("bytes=%d-%d", start, end)
	}
	if start == 0 {
		return ""
	}
	return fmt.Sprintf("bytes=%d-", start)
}

// ReadRequest describes one download.
type ReadRequest struct {
	Bucket string
	Object string
	// Generation pins a specific object generation; zero reads the live
	// one.
	Generation    int64
	Range         ReadRange
	Preconditions *Preconditions
	Options       *options.RequestOptions
}

// ReadObjectResponse streams the payload of one object. Reads of the
// payload may transparently reconnect after transient errors, governed by
// the read resume policy.
type ReadObjectResponse struct {
	highlights ObjectHighlights

	ctx      context.Context
	client   *Client
	req      ReadRequest
	policy   options.ReadResumePolicy
	resp     *http.Response
	buf      []byte
	received int64
	start    time.Time
	attempts int

	gunzipped bool
	verify    bool
	crc       uint32
	finished  bool
	closed    bool
}

// ReadObject starts a download. The request is validated against the
// method's path templates before any network I/O.
func (c *Client) ReadObject(ctx context.Context, req ReadRequest) (*ReadObjectResponse, error) {
	if err := transport.ValidateBinding([]transport.BindingGroup{
		{Alternatives: []transport.PathBinding{{Subs: []transport.Substitution{
			{FieldName: "bucket", Value: req.Bucket, Template: "*"},
		}}}},
		{Alternatives: []transport.PathBinding{{Subs: []transport.Substitution{
			{FieldName: "object", Value: req.Object, Template: "**"},
		}}}},
	}); err != nil {
		return nil, err
	}
	policy := options.Merge(req.Options, c.pipe.Defaults).ReadResumePolicy
	if policy == nil {
		policy = RecommendedResumePolicy{}
	}
	r := &ReadObjectResponse{
		ctx:    ctx,
		client: c,
		req:    req,
		policy: policy,
		start:  time.Now(),
	}
	if err := r.connect(0); err != nil {
		return nil, err
	}
	return r, nil
}

// connect issues one ranged GET through the pipeline, resuming at received
// bytes past the requested offset.
func (r *ReadObjectResponse) connect(received int64) error {
	call := &pipeline.Call{
		Method:      "ReadObject",
		Idempotent:  true,
		HTTPMethod:  http.MethodGet,
		URLTemplate: "/storage/v1/b/{bucket}/o/{object}",
		Resource:    fmt.Sprintf("//storage.googleapis.com/b/%s/o/%s", r.req.Bucket, r.req.Object),
		Options:     r.req.Options,
	}
	resp, err := pipeline.Invoke(r.ctx, r.client.pipe, call, func(ctx context.Context, creds auth.Headers) (*http.Response, error) {
		q := url.Values{"alt": {"media"}}
		if r.req.Generation != 0 {
			q.Set("generation", fmt.Sprint(r.req.Generation))
		}
		r.req.Preconditions.queryInto(q)
		header := http.Header{}
		if rangeHeader := r.req.Range.header(received); rangeHeader != "" {
			header.Set("range", rangeHeader)
		}
		return r.client.rest.DoRaw(ctx, &transport.Call{
			Method: http.MethodGet,
			Path: fmt.Sprintf("/storage/v1/b/%s/o/%s",
				url.PathEscape(r.req.Bucket), url.PathEscape(r.req.Object)),
			URLTemplate: call.URLTemplate,
			Query:       q,
			Header:      header,
			Routing:     map[string]string{"bucket": r.req.Bucket},
		}, creds)
	})
	if err != nil {
		return err
	}
	if received == 0 {
		r.highlights = highlightsFromHeaders(resp.Header)
		r.gunzipped = isGunzipped(resp.Header)
		if r.gunzipped {
			// The server expanded the stored gzip stream; byte ranges refer
			// to the stored form and cannot be served.
			if !r.req.Range.whole() {
				resp.Body.Close()
				return apperror.Othermsg("range reads are not supported on transparently gunzipped objects")
			}
			// Resuming mid-stream is equally impossible; checksums cover
			// the stored bytes, not the expanded ones.
			r.highlights.Checksums = nil
		}
		r.verify = r.req.Range.whole() && !r.gunzipped &&
			r.highlights.Checksums != nil && r.highlights.Checksums.CRC32C != nil
	}
	r.resp = resp
	return nil
}

// isGunzipped detects transparent decompression from the Warning header.
func isGunzipped(h http.Header) bool {
	for _, w := range h.Values("warning") {
		if strings.HasPrefix(w, "214") && strings.Contains(w, "gunzipped") {
			return true
		}
	}
	return false
}

// Object returns the metadata highlights from the response headers.
func (r *ReadObjectResponse) Object() ObjectHighlights { return r.highlights }

// Next returns the next chunk of payload. ok=false signals a clean end of
// stream. Transient mid-stream errors reconnect with a narrowed range when
// the resume policy allows; gunzipped responses fail closed.
func (r *ReadObjectResponse) Next(ctx context.Context) ([]byte, bool, error) {
	if r.finished || r.closed {
		return nil, false, nil
	}
	if r.buf == nil {
		r.buf = make([]byte, 64*1024)
	}
	for {
		n, err := r.resp.Body.Read(r.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, r.buf[:n])
			r.received += int64(n)
			if r.verify {
				r.crc = crc32cUpdate(r.crc, chunk)
			}
			return chunk, true, nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return r.finish()
		}
		appErr := apperror.TransportErr(err)
		if r.gunzipped {
			r.finished = true
			r.resp.Body.Close()
			return nil, true, appErr
		}
		r.attempts++
		state := retry.State{Start: r.start, AttemptCount: r.attempts, Idempotent: true}
		if r.policy.OnResume(state, appErr) != retry.Continue {
			r.finished = true
			r.resp.Body.Close()
			return nil, true, appErr
		}
		r.resp.Body.Close()
		if cerr := r.connect(r.received); cerr != nil {
			r.finished = true
			return nil, true, cerr
		}
	}
}

// finish closes the stream and verifies integrity for whole-object reads.
func (r *ReadObjectResponse) finish() ([]byte, bool, error) {
	r.finished = true
	r.resp.Body.Close()
	if r.verify {
		want := *r.highlights.Checksums.CRC32C
		if r.crc != want {
			return nil, true, apperror.Checksum(fmt.Sprintf(
				"crc32c mismatch: computed %s, object advertises %s",
				EncodeCRC32C(r.crc), EncodeCRC32C(want)))
		}
	}
	return nil, false, nil
}

// ReadAll drains the stream into one buffer.
func (r *ReadObjectResponse) ReadAll(ctx context.Context) ([]byte, error) {
	var out []byte
	for {
		chunk, ok, err := r.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, chunk...)
	}
}

// Close abandons the download. Dropping the response cancels the
// underlying transfer.
func (r *ReadObjectResponse) Close() error {
	if r.closed || r.finished {
		r.closed = true
		return nil
	}
	r.closed = true
	return r.resp.Body.Close()
}

// RecommendedResumePolicy is the default read resume policy: transient
// transport errors reconnect a bounded number of times.
type RecommendedResumePolicy struct {
	// Limit bounds reconnects per read. Defaults to 3.
	Limit int
}

// OnResume implements options.ReadResumePolicy.
func (p RecommendedResumePolicy) OnResume(state retry.State, err *apperror.Error) retry.Verdict {
	limit := p.Limit
	if limit <= 0 {
		limit = 3
	}
	if !err.IsTransport() && !err.IsIO() {
		return retry.Permanent
	}
	if state.AttemptCount > limit {
		return retry.Exhausted
	}
	return retry.Continue
}
