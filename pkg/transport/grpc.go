package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync/atomic"

	middleware "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/auth"
)

// GRPCConfig configures a gRPC transport.
type GRPCConfig struct {
	// Endpoint is the user-supplied override, empty for the default.
	Endpoint string
	// DefaultEndpoint is the service default, such as
	// "https://storage.googleapis.com".
	DefaultEndpoint string
	// Artifact is the short client name used in identification headers.
	Artifact string
	// UniverseDomain replaces googleapis.com in the default endpoint when
	// the credentials belong to another universe. Ignored when Endpoint is
	// set.
	UniverseDomain string
	// SubchannelCount is how many connections to pool. Defaults to 1.
	SubchannelCount int
	// Insecure disables TLS, for emulators and tests.
	Insecure bool
	// DialOptions are appended to the computed options.
	DialOptions []grpc.DialOption
}

// GRPC wraps a pool of client connections. Unary calls round-robin across
// subchannels; streams pin to the subchannel that opened them.
type GRPC struct {
	conns     []*grpc.ClientConn
	next      atomic.Uint64
	host      string
	apiClient string
	userAgent string
}

// NewGRPC builds a gRPC transport and dials the channel pool.
func NewGRPC(cfg GRPCConfig) (*GRPC, error) {
	defaultEndpoint := cfg.DefaultEndpoint
	if cfg.Endpoint == "" && cfg.UniverseDomain != "" && cfg.UniverseDomain != auth.DefaultUniverseDomain {
		defaultEndpoint = spliceUniverse(defaultEndpoint, cfg.UniverseDomain)
	}
	host, err := HostFromEndpoint(cfg.Endpoint, defaultEndpoint)
	if err != nil {
		return nil, err
	}
	dial := cfg.Endpoint
	if dial == "" {
		dial = defaultEndpoint
	}
	origin, err := parseEndpoint(dial)
	if err != nil {
		return nil, apperror.TransportErr(err)
	}
	target := origin.Host
	if origin.Port() == "" {
		target = origin.Hostname() + ":443"
	}

	creds := credentials.NewTLS(&tls.Config{})
	if cfg.Insecure || origin.Scheme == "http" {
		creds = insecure.NewCredentials()
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(
			middleware.UnaryClientInterceptor(slogInterceptorLogger()),
		),
	}
	opts = append(opts, cfg.DialOptions...)

	count := cfg.SubchannelCount
	if count <= 0 {
		count = 1
	}
	g := &GRPC{
		host:      host,
		apiClient: APIClientHeader(cfg.Artifact),
		userAgent: UserAgent(cfg.Artifact),
	}
	for i := 0; i < count; i++ {
		conn, err := grpc.NewClient(target, opts...)
		if err != nil {
			_ = g.Close()
			return nil, apperror.TransportErr(fmt.Errorf("cannot open channel to %s: %w", target, err))
		}
		g.conns = append(g.conns, conn)
	}
	return g, nil
}

// slogInterceptorLogger adapts the package logger to the middleware's
// logging interface.
func slogInterceptorLogger() middleware.Logger {
	return middleware.LoggerFunc(func(ctx context.Context, lvl middleware.Level, msg string, fields ...any) {
		slog.Default().Log(ctx, slog.Level(lvl), msg, fields...)
	})
}

// Host returns the routing host resolved by HostFromEndpoint. It is not
// sent in any request metadata; x-goog-request-params carries only the
// call's routing pairs.
func (g *GRPC) Host() string { return g.host }

// conn picks the next subchannel.
func (g *GRPC) conn() *grpc.ClientConn {
	n := g.next.Add(1)
	return g.conns[int(n)%len(g.conns)]
}

// withCallMetadata injects credential headers and the standard x-goog-*
// entries into the outgoing metadata.
func (g *GRPC) withCallMetadata(ctx context.Context, creds auth.Headers, routing map[string]string) context.Context {
	pairs := []string{
		"x-goog-api-client", g.apiClient,
		"user-agent", g.userAgent,
	}
	if params := RequestParams(routing); params != "" {
		pairs = append(pairs, "x-goog-request-params", params)
	}
	for _, h := range creds {
		pairs = append(pairs, h.Name, h.Value)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// Invoke sends one unary call. The method is the full RPC path, such as
// "/google.storage.v2.Storage/GetObject". Status errors in the trailers
// are decoded into the AIP-193 model.
func (g *GRPC) Invoke(ctx context.Context, method string, req, resp any, creds auth.Headers, routing map[string]string) error {
	ctx = g.withCallMetadata(ctx, creds, routing)
	if err := g.conn().Invoke(ctx, method, req, resp); err != nil {
		return apperror.FromGRPC(err)
	}
	return nil
}

// NewStream opens a client stream; the caller writes requests and reads
// responses. Used by the bidirectional storage reader.
func (g *GRPC) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, creds auth.Headers, routing map[string]string) (grpc.ClientStream, error) {
	ctx = g.withCallMetadata(ctx, creds, routing)
	stream, err := g.conn().NewStream(ctx, desc, method)
	if err != nil {
		return nil, apperror.FromGRPC(err)
	}
	return stream, nil
}

// Close tears down every subchannel.
func (g *GRPC) Close() error {
	var first error
	for _, c := range g.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
