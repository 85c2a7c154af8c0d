package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/auth"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		Credentials: auth.NewAnonymousCredentials(),
		Endpoint:    srv.URL,
	})
	require.NoError(t, err)
	return c
}

// TestReadObject_GunzippedHeaders replays a transparently gunzipped
// download: highlights come from the x-goog-* headers, the body reads
// fully, and checksums are absent.
func TestReadObject_GunzippedHeaders(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/b/bucket/o/object", r.URL.Path)
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		h := w.Header()
		h.Set("x-goog-generation", "234567")
		h.Set("x-goog-metageneration", "123456")
		h.Set("x-goog-stored-content-length", "42")
		h.Set("x-goog-stored-content-encoding", "gzip")
		h.Set("content-type", "text/plain")
		h.Set("warning", `214 UploadServer gunzipped`)
		fmt.Fprint(w, "hello world")
	}))

	resp, err := client.ReadObject(context.Background(), ReadRequest{
		Bucket: "bucket", Object: "object",
	})
	require.NoError(t, err)

	obj := resp.Object()
	assert.EqualValues(t, 234567, obj.Generation)
	assert.EqualValues(t, 123456, obj.Metageneration)
	assert.EqualValues(t, 42, obj.StoredContentLength)
	assert.Equal(t, "gzip", obj.StoredContentEncoding)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Nil(t, obj.Checksums)

	body, err := resp.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

// TestReadObject_RangeOnGunzipped verifies byte ranges are rejected on
// transparently gunzipped responses.
func TestReadObject_RangeOnGunzipped(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("warning", `214 UploadServer gunzipped`)
		fmt.Fprint(w, "hello world")
	}))

	_, err := client.ReadObject(context.Background(), ReadRequest{
		Bucket: "bucket", Object: "object",
		Range: ReadRange{Offset: 5},
	})
	require.Error(t, err)
}

// TestReadObject_ResumeAfterInterrupt verifies a mid-stream loss
// reconnects with a narrowed range.
func TestReadObject_ResumeAfterInterrupt(t *testing.T) {
	var requests atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch requests.Add(1) {
		case 1:
			// Promise 11 bytes, deliver 5, then drop the connection.
			w.Header().Set("content-length", "11")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("hello"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			panic(http.ErrAbortHandler)
		default:
			assert.Equal(t, "bytes=5-", r.Header.Get("range"))
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte(" world"))
		}
	}))

	resp, err := client.ReadObject(context.Background(), ReadRequest{
		Bucket: "bucket", Object: "object",
	})
	require.NoError(t, err)
	body, err := resp.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
	assert.EqualValues(t, 2, requests.Load())
}

// TestReadObject_ChecksumMismatch verifies whole-object reads compare the
// computed CRC32C against the advertised one.
func TestReadObject_ChecksumMismatch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-goog-hash", "crc32c="+EncodeCRC32C(12345))
		fmt.Fprint(w, "payload that does not match")
	}))

	resp, err := client.ReadObject(context.Background(), ReadRequest{
		Bucket: "bucket", Object: "object",
	})
	require.NoError(t, err)
	_, err = resp.ReadAll(context.Background())
	require.Error(t, err)
	appErr, ok := apperror.AsInner[*apperror.Error](err)
	require.True(t, ok)
	assert.True(t, appErr.IsChecksum())
}

// TestReadObject_ChecksumMatch verifies a correct checksum passes.
func TestReadObject_ChecksumMatch(t *testing.T) {
	payload := []byte("payload with a good checksum")
	crc := crc32cUpdate(0, payload)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-goog-hash", "crc32c="+EncodeCRC32C(crc))
		w.Write(payload)
	}))

	resp, err := client.ReadObject(context.Background(), ReadRequest{
		Bucket: "bucket", Object: "object",
	})
	require.NoError(t, err)
	body, err := resp.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

// TestReadObject_BindingValidation verifies empty identifiers fail before
// any network I/O.
func TestReadObject_BindingValidation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request escaped binding validation")
	}))

	_, err := client.ReadObject(context.Background(), ReadRequest{Bucket: "", Object: "o"})
	require.Error(t, err)
	appErr, ok := apperror.AsInner[*apperror.Error](err)
	require.True(t, ok)
	assert.True(t, appErr.IsBinding())
}

// TestReadObject_RangeHeader verifies explicit ranges reach the server.
func TestReadObject_RangeHeader(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=100-149", r.Header.Get("range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 50))
	}))

	resp, err := client.ReadObject(context.Background(), ReadRequest{
		Bucket: "bucket", Object: "object",
		Range: ReadRange{Offset: 100, Length: 50},
	})
	require.NoError(t, err)
	body, err := resp.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, body, 50)
}
