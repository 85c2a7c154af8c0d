// Package storage implements the client runtime for the large-object
// storage service: ranged and resumable downloads, buffered and unbuffered
// uploads with integrity checks, server-side rewrites, and the
// bidirectional multi-range reader. Every network operation goes through
// the call pipeline, so retries, throttling, and spans behave like any
// other call.
package storage

import (
	"net/http"
	"strconv"

	"cloudsdk/pkg/wkt"
)

// Object is the storage object resource. Identity is
// (bucket, name, generation).
type Object struct {
	Bucket          string    `json:"bucket"`
	Name            string    `json:"name"`
	Generation      wkt.Int64 `json:"generation,omitempty"`
	Metageneration  wkt.Int64 `json:"metageneration,omitempty"`
	Size            wkt.Int64 `json:"size,omitempty"`
	ContentEncoding string    `json:"contentEncoding,omitempty"`
	ContentType     string    `json:"contentType,omitempty"`
	StorageClass    string    `json:"storageClass,omitempty"`
	Etag            string    `json:"etag,omitempty"`
	CRC32C          string    `json:"crc32c,omitempty"`
	MD5Hash         string    `json:"md5Hash,omitempty"`
}

// Checksums groups the integrity fields of an object.
type Checksums struct {
	// CRC32C is the big-endian CRC32C, base64-encoded on the JSON wire.
	CRC32C *uint32
	// MD5 is the raw MD5 digest.
	MD5 []byte
}

// ObjectHighlights is the subset of object metadata available from read
// response headers, used when full metadata is not returned.
type ObjectHighlights struct {
	Generation            int64
	Metageneration        int64
	Size                  int64
	StoredContentLength   int64
	StoredContentEncoding string
	ContentType           string
	ContentEncoding       string
	ContentDisposition    string
	Checksums             *Checksums
}

// highlightsFromHeaders populates highlights from the x-goog-* headers of
// a JSON/XML read response.
func highlightsFromHeaders(h http.Header) ObjectHighlights {
	out := ObjectHighlights{
		ContentType:           h.Get("content-type"),
		ContentEncoding:       h.Get("content-encoding"),
		ContentDisposition:    h.Get("content-disposition"),
		StoredContentEncoding: h.Get("x-goog-stored-content-encoding"),
	}
	out.Generation = parseInt64Header(h, "x-goog-generation")
	out.Metageneration = parseInt64Header(h, "x-goog-metageneration")
	out.StoredContentLength = parseInt64Header(h, "x-goog-stored-content-length")
	out.Size = out.StoredContentLength
	if hash := h.Get("x-goog-hash"); hash != "" {
		out.Checksums = checksumsFromHashHeader(hash)
	}
	return out
}

func parseInt64Header(h http.Header, name string) int64 {
	v, err := strconv.ParseInt(h.Get(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Preconditions restrict an operation to a specific object identity.
type Preconditions struct {
	IfGenerationMatch        *int64
	IfGenerationNotMatch     *int64
	IfMetagenerationMatch    *int64
	IfMetagenerationNotMatch *int64
}

// queryInto serializes the preconditions as query parameters.
func (p *Preconditions) queryInto(q map[string][]string) {
	if p == nil {
		return
	}
	set := func(name string, v *int64) {
		if v != nil {
			q[name] = []string{strconv.FormatInt(*v, 10)}
		}
	}
	set("ifGenerationMatch", p.IfGenerationMatch)
	set("ifGenerationNotMatch", p.IfGenerationNotMatch)
	set("ifMetagenerationMatch", p.IfMetagenerationMatch)
	set("ifMetagenerationNotMatch", p.IfMetagenerationNotMatch)
}
