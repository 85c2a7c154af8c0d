package transport

import (
	"fmt"
	"net/url"
	"runtime"
	"sort"
	"strings"
)

// Build-time identity of this library, reported in the x-goog-api-client
// header and on client spans.
const (
	ClientRepo     = "googleapis/google-cloud-go"
	ClientLanguage = "go"
	ClientVersion  = "0.3.0"
)

// APIClientHeader renders the x-goog-api-client value for one generated
// client artifact, such as "gl-go/1.25.0 gccl/storage/0.3.0".
func APIClientHeader(artifact string) string {
	goVersion := strings.TrimPrefix(runtime.Version(), "go")
	return fmt.Sprintf("gl-go/%s gccl/%s/%s", goVersion, artifact, ClientVersion)
}

// UserAgent renders the user-agent value: the library identifier plus the
// runtime.
func UserAgent(artifact string) string {
	return fmt.Sprintf("%s/%s %s", artifact, ClientVersion, runtime.Version())
}

// RequestParams renders the x-goog-request-params header from the routing
// values extracted from a request. Keys and values are URL-encoded, pairs
// ordered by key for stable output.
func RequestParams(routing map[string]string) string {
	if len(routing) == 0 {
		return ""
	}
	keys := make([]string, 0, len(routing))
	for k := range routing {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(routing[k]))
	}
	return strings.Join(pairs, "&")
}
