package storage

import (
	"context"
	"net/http"

	"cloudsdk/pkg/auth"
	"cloudsdk/pkg/metrics"
	"cloudsdk/pkg/options"
	"cloudsdk/pkg/pipeline"
	"cloudsdk/pkg/retry"
	"cloudsdk/pkg/transport"
)

// DefaultEndpoint is the storage service default.
const DefaultEndpoint = "https://storage.googleapis.com"

// serviceName is the short name used on spans and metrics.
const serviceName = "storage"

// Config configures a storage client.
type Config struct {
	// Credentials authenticate every request. Required.
	Credentials auth.Credentials
	// Endpoint overrides the default endpoint.
	Endpoint string
	// Defaults are the client-wide request options.
	Defaults *options.RequestOptions
	// Metrics is optional.
	Metrics *metrics.Metrics
	// HTTPClient overrides the underlying HTTP client, for tests.
	HTTPClient *http.Client
	// GRPC enables the bidirectional read path.
	GRPC *transport.GRPC
}

// Client is the storage client. It is a cheap handle: clone freely.
type Client struct {
	pipe *pipeline.Pipeline
	rest *transport.REST
	grpc *transport.GRPC
}

// NewClient builds a storage client.
func NewClient(cfg Config) (*Client, error) {
	universe := ""
	if cfg.Credentials != nil {
		if domain, ok := cfg.Credentials.UniverseDomain(context.Background()); ok {
			universe = domain
		}
	}
	rest, err := transport.NewREST(transport.RESTConfig{
		Endpoint:        cfg.Endpoint,
		DefaultEndpoint: DefaultEndpoint,
		Artifact:        serviceName,
		UniverseDomain:  universe,
		Client:          cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		pipe: &pipeline.Pipeline{
			Credentials: cfg.Credentials,
			Defaults:    cfg.Defaults,
			Throttler:   retry.NewAdaptiveThrottler(),
			Metrics:     cfg.Metrics,
			Service:     serviceName,
			Client:      "Client",
			RPCSystem:   "http",
		},
		rest: rest,
		grpc: cfg.GRPC,
	}, nil
}
