package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/auth"
	"cloudsdk/pkg/options"
	"cloudsdk/pkg/pipeline"
	"cloudsdk/pkg/transport"
)

// StreamingSource supplies upload payload chunk by chunk.
type StreamingSource interface {
	// Next returns the next chunk. ok=false signals a clean end of data.
	Next(ctx context.Context) (chunk []byte, ok bool, err error)
}

// SeekableSource is a StreamingSource that can rewind, enabling retries of
// unbuffered uploads from the server's committed offset.
type SeekableSource interface {
	StreamingSource
	// Seek positions the source so the next chunk starts at offset.
	Seek(offset int64) error
}

// WriteObject starts building an upload of bucket/name.
func (c *Client) WriteObject(bucket, name string) *Writer {
	return &Writer{
		client: c,
		object: Object{Bucket: bucket, Name: name},
	}
}

// Writer is the upload builder. Configure it, then finish with
// SendBuffered or SendUnbuffered.
type Writer struct {
	client        *Client
	object        Object
	preconditions *Preconditions
	opts          *options.RequestOptions
}

// WithMetadata replaces the object metadata sent with the upload. Bucket
// and Name are preserved.
func (w *Writer) WithMetadata(obj Object) *Writer {
	bucket, name := w.object.Bucket, w.object.Name
	w.object = obj
	w.object.Bucket, w.object.Name = bucket, name
	return w
}

// WithPreconditions restricts the upload.
func (w *Writer) WithPreconditions(p Preconditions) *Writer {
	w.preconditions = &p
	return w
}

// WithOptions attaches per-call request options.
func (w *Writer) WithOptions(o *options.RequestOptions) *Writer {
	w.opts = o
	return w
}

func (w *Writer) validate() *apperror.Error {
	return transport.ValidateBinding([]transport.BindingGroup{
		{Alternatives: []transport.PathBinding{{Subs: []transport.Substitution{
			{FieldName: "bucket", Value: w.object.Bucket, Template: "*"},
		}}}},
		{Alternatives: []transport.PathBinding{{Subs: []transport.Substitution{
			{FieldName: "name", Value: w.object.Name, Template: "**"},
		}}}},
	})
}

func (w *Writer) effective() *options.RequestOptions {
	merged := options.Merge(w.opts, w.client.pipe.Defaults)
	if merged.ResumableUploadThreshold <= 0 {
		merged.ResumableUploadThreshold = options.DefaultResumableUploadThreshold
	}
	if merged.ResumableUploadBufferSize <= 0 {
		merged.ResumableUploadBufferSize = options.DefaultResumableUploadBufferSize
	}
	return merged
}

// SendBuffered reads the whole source into memory and uploads it. Small
// payloads go in one multipart request; payloads above the resumable
// threshold use a resumable session. The payload stays in memory, so every
// attempt resends it whole; the single-shot request counts as idempotent
// only with an IfGenerationMatch precondition.
func (w *Writer) SendBuffered(ctx context.Context, source io.Reader) (*Object, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(source)
	if err != nil {
		return nil, apperror.IO(err)
	}
	opts := w.effective()
	checksum := opts.Checksum
	if checksum == nil {
		checksum = &options.ChecksumConfig{CRC32C: true}
	}
	meta := w.object
	if checksum.CRC32C && meta.CRC32C == "" {
		meta.CRC32C = EncodeCRC32C(crc32cUpdate(0, payload))
	}
	if int64(len(payload)) <= opts.ResumableUploadThreshold {
		return w.singleShot(ctx, meta, payload)
	}
	session, err := w.startSession(ctx, meta)
	if err != nil {
		return nil, err
	}
	return w.putAll(ctx, session, payload, opts)
}

// SendUnbuffered streams the source directly through a resumable session.
// A mid-upload failure is fatal unless the source is seekable, in which
// case the writer queries the committed offset and resumes from there.
func (w *Writer) SendUnbuffered(ctx context.Context, source StreamingSource) (*Object, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	opts := w.effective()
	session, err := w.startSession(ctx, w.object)
	if err != nil {
		return nil, err
	}
	return w.streamSession(ctx, session, source, opts)
}

// singleShot uploads metadata and payload in one multipart request.
func (w *Writer) singleShot(ctx context.Context, meta Object, payload []byte) (*Object, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := mw.CreatePart(metaHeader)
	if err != nil {
		return nil, apperror.Other(err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, apperror.Serde(err)
	}
	if _, err := metaPart.Write(metaJSON); err != nil {
		return nil, apperror.Other(err)
	}

	dataHeader := textproto.MIMEHeader{}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	dataHeader.Set("Content-Type", contentType)
	dataPart, err := mw.CreatePart(dataHeader)
	if err != nil {
		return nil, apperror.Other(err)
	}
	if _, err := dataPart.Write(payload); err != nil {
		return nil, apperror.Other(err)
	}
	if err := mw.Close(); err != nil {
		return nil, apperror.Other(err)
	}

	q := url.Values{"uploadType": {"multipart"}}
	w.preconditions.queryInto(q)
	raw := body.Bytes()

	call := &pipeline.Call{
		Method:      "WriteObject",
		Idempotent:  w.preconditions != nil && w.preconditions.IfGenerationMatch != nil,
		HTTPMethod:  http.MethodPost,
		URLTemplate: "/upload/storage/v1/b/{bucket}/o",
		Resource:    w.resource(),
		Options:     w.opts,
	}
	return pipeline.Invoke(ctx, w.client.pipe, call, func(ctx context.Context, creds auth.Headers) (*Object, error) {
		var obj Object
		err := w.client.rest.Do(ctx, &transport.Call{
			Method:      http.MethodPost,
			Path:        fmt.Sprintf("/upload/storage/v1/b/%s/o", url.PathEscape(w.object.Bucket)),
			URLTemplate: call.URLTemplate,
			Query:       q,
			RawBody:     bytes.NewReader(raw),
			ContentType: "multipart/related; boundary=" + mw.Boundary(),
			Routing:     map[string]string{"bucket": w.object.Bucket},
		}, creds, &obj)
		if err != nil {
			return nil, err
		}
		return &obj, nil
	})
}

// startSession begins a resumable upload and returns the session URL from
// the Location header.
func (w *Writer) startSession(ctx context.Context, meta Object) (string, error) {
	q := url.Values{"uploadType": {"resumable"}, "name": {meta.Name}}
	w.preconditions.queryInto(q)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", apperror.Serde(err)
	}
	call := &pipeline.Call{
		Method:      "StartResumableWrite",
		Idempotent:  true,
		HTTPMethod:  http.MethodPost,
		URLTemplate: "/upload/storage/v1/b/{bucket}/o",
		Resource:    w.resource(),
		Options:     w.opts,
	}
	return pipeline.Invoke(ctx, w.client.pipe, call, func(ctx context.Context, creds auth.Headers) (string, error) {
		resp, err := w.client.rest.DoRaw(ctx, &transport.Call{
			Method:      http.MethodPost,
			Path:        fmt.Sprintf("/upload/storage/v1/b/%s/o", url.PathEscape(w.object.Bucket)),
			URLTemplate: call.URLTemplate,
			Query:       q,
			RawBody:     bytes.NewReader(metaJSON),
			ContentType: "application/json; charset=UTF-8",
			Routing:     map[string]string{"bucket": w.object.Bucket},
		}, creds)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		session := resp.Header.Get("location")
		if session == "" {
			return "", apperror.Othermsg("resumable session response missing Location header")
		}
		return session, nil
	})
}

// putChunk sends one PUT to the session. A 308 response advances the
// session and reports the committed offset; a 2xx response carries the
// final object.
func (w *Writer) putChunk(ctx context.Context, session string, chunk []byte, contentRange string) (obj *Object, committed int64, err error) {
	call := &pipeline.Call{
		Method:      "WriteObjectChunk",
		Idempotent:  true,
		HTTPMethod:  http.MethodPut,
		URLTemplate: "{session}",
		Resource:    w.resource(),
		Options:     w.opts,
	}
	type putResult struct {
		obj       *Object
		committed int64
	}
	res, err := pipeline.Invoke(ctx, w.client.pipe, call, func(ctx context.Context, creds auth.Headers) (putResult, error) {
		header := http.Header{}
		header.Set("content-range", contentRange)
		var body io.Reader
		if len(chunk) > 0 {
			body = bytes.NewReader(chunk)
		}
		resp, err := w.client.rest.DoRaw(ctx, &transport.Call{
			Method:      http.MethodPut,
			AbsoluteURL: session,
			URLTemplate: call.URLTemplate,
			RawBody:     body,
			Header:      header,
		}, creds)
		if err != nil {
			// 308 Resume Incomplete is how the server advances the
			// session, not a failure.
			if appErr, ok := apperror.AsInner[*apperror.Error](err); ok && appErr.HTTPStatusCode() == http.StatusPermanentRedirect {
				return putResult{committed: committedFromRange(appErr.HTTPHeaders().Get("range"))}, nil
			}
			return putResult{}, err
		}
		defer resp.Body.Close()
		var obj Object
		if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
			return putResult{}, apperror.Serde(err)
		}
		return putResult{obj: &obj}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res.obj, res.committed, nil
}

// committedFromRange parses "bytes=0-N" into the next offset to send.
func committedFromRange(rangeHeader string) int64 {
	_, end, ok := strings.Cut(rangeHeader, "-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return 0
	}
	return n + 1
}

// putAll drives a buffered resumable upload: chunked PUTs with known total
// size, resuming at the committed offset the server reports.
func (w *Writer) putAll(ctx context.Context, session string, payload []byte, opts *options.RequestOptions) (*Object, error) {
	total := int64(len(payload))
	offset := int64(0)
	chunkSize := opts.ResumableUploadBufferSize
	for {
		end := offset + chunkSize
		if end > total {
			end = total
		}
		contentRange := fmt.Sprintf("bytes %d-%d/%d", offset, end-1, total)
		if total == 0 {
			contentRange = fmt.Sprintf("bytes */%d", total)
		}
		obj, committed, err := w.putChunk(ctx, session, payload[offset:end], contentRange)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			return obj, nil
		}
		if committed > offset {
			offset = committed
		} else {
			offset = end
		}
		if offset > total {
			return nil, apperror.Othermsg("server committed %d bytes past the payload size %d", committed, total)
		}
	}
}

// streamSession drives an unbuffered resumable upload from a streaming
// source. The total size is unknown until the source ends, so non-final
// chunks carry "bytes X-Y/*".
func (w *Writer) streamSession(ctx context.Context, session string, source StreamingSource, opts *options.RequestOptions) (*Object, error) {
	checksum := opts.Checksum
	if checksum == nil {
		checksum = &options.ChecksumConfig{CRC32C: true}
	}
	var crc uint32
	crcValid := true
	offset := int64(0)
	buffer := make([]byte, 0, opts.ResumableUploadBufferSize)
	sourceDone := false

	flush := func(final bool) (*Object, error) {
		var contentRange string
		end := offset + int64(len(buffer))
		if final {
			if len(buffer) == 0 {
				contentRange = fmt.Sprintf("bytes */%d", offset)
			} else {
				contentRange = fmt.Sprintf("bytes %d-%d/%d", offset, end-1, end)
			}
		} else {
			contentRange = fmt.Sprintf("bytes %d-%d/*", offset, end-1)
		}
		obj, committed, err := w.putChunk(ctx, session, buffer, contentRange)
		if err != nil {
			if !w.recoverOffset(ctx, session, source, &offset, &buffer, err) {
				return nil, err
			}
			// The source was rewound; re-read bytes would double-count.
			crcValid = false
			// Read the rest of the source again from the committed offset.
			sourceDone = false
			return nil, nil
		}
		if obj != nil {
			if checksum.CRC32C && crcValid && obj.CRC32C != "" {
				if want, werr := DecodeCRC32C(string(obj.CRC32C)); werr == nil && want != crc {
					return nil, apperror.Checksum(fmt.Sprintf(
						"crc32c mismatch after upload: computed %s, server reports %s",
						EncodeCRC32C(crc), obj.CRC32C))
				}
			}
			return obj, nil
		}
		if committed > offset && committed <= end {
			buffer = buffer[committed-offset:]
			offset = committed
		} else {
			offset = end
			buffer = buffer[:0]
		}
		return nil, nil
	}

	for {
		for !sourceDone && int64(len(buffer)) < opts.ResumableUploadBufferSize {
			chunk, ok, err := source.Next(ctx)
			if err != nil {
				// A broken source is not retryable: the bytes are gone.
				return nil, apperror.IO(err)
			}
			if !ok {
				sourceDone = true
				break
			}
			if checksum.CRC32C {
				crc = crc32cUpdate(crc, chunk)
			}
			buffer = append(buffer, chunk...)
		}
		obj, err := flush(sourceDone)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			return obj, nil
		}
		if sourceDone && len(buffer) == 0 {
			// The final flush returned 308; ask for the object with an
			// empty finalize PUT.
			continue
		}
	}
}

// recoverOffset attempts to continue an interrupted unbuffered upload: it
// asks the server for the committed offset and seeks the source there.
// Returns false when the upload cannot continue.
func (w *Writer) recoverOffset(ctx context.Context, session string, source StreamingSource, offset *int64, buffer *[]byte, cause error) bool {
	seeker, ok := source.(SeekableSource)
	if !ok {
		return false
	}
	appErr, ok := apperror.AsInner[*apperror.Error](cause)
	if !ok || !appErr.Retryable(true) {
		return false
	}
	_, committed, err := w.putChunk(ctx, session, nil, "bytes */*")
	if err != nil {
		return false
	}
	if serr := seeker.Seek(committed); serr != nil {
		return false
	}
	*offset = committed
	*buffer = (*buffer)[:0]
	return true
}

func (w *Writer) resource() string {
	return fmt.Sprintf("//storage.googleapis.com/b/%s/o/%s", w.object.Bucket, w.object.Name)
}
