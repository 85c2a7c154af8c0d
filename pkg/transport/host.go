// Package transport builds and sends requests over HTTP/1.1+JSON and
// HTTP/2+gRPC. It owns URL composition, query parameter serialization,
// standard header injection, endpoint/host resolution, response decoding,
// and pre-I/O binding validation. The call pipeline sits on top and drives
// retries; the transport sends exactly one attempt per call.
package transport

import (
	"fmt"
	"net/url"
	"strings"

	"cloudsdk/pkg/apperror"
)

// OriginFromEndpoint resolves the routing origin, given an optional user
// endpoint override and the service default endpoint.
//
// Locational ({region}-{service}.googleapis.com) and regional
// ({service}.{region}.rep.googleapis.com) overrides are real alternate
// deployments and become the origin. Other overrides (VPC-SC, PSC, custom
// DNS, emulators) reach the same deployment, so the routing host stays the
// default while the override is still used as the dial target.
func OriginFromEndpoint(endpoint, defaultEndpoint string) (*url.URL, error) {
	defaultOrigin, err := parseEndpoint(defaultEndpoint)
	if err != nil {
		return nil, apperror.TransportErr(fmt.Errorf("invalid default endpoint %q: %w", defaultEndpoint, err))
	}
	if endpoint == "" {
		return defaultOrigin, nil
	}
	custom, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, apperror.TransportErr(fmt.Errorf("invalid endpoint %q: %w", endpoint, err))
	}
	customHost := custom.Hostname()
	defaultHost := defaultOrigin.Hostname()
	prefix, okCustom := strings.CutSuffix(customHost, ".googleapis.com")
	service, okDefault := strings.CutSuffix(defaultHost, ".googleapis.com")
	if okCustom && okDefault {
		parts := strings.Split(prefix, ".")
		if len(parts) == 3 && parts[0] == service && parts[2] == "rep" {
			// Regional endpoint: {service}.{region}.rep.googleapis.com.
			return custom, nil
		}
		if len(parts) == 1 && strings.HasSuffix(parts[0], "-"+service) {
			// Locational endpoint: {region}-{service}.googleapis.com.
			return custom, nil
		}
	}
	return defaultOrigin, nil
}

// HostFromEndpoint returns just the host of OriginFromEndpoint. The REST and
// gRPC transports record it as their routing host; neither adds it to a
// request header.
func HostFromEndpoint(endpoint, defaultEndpoint string) (string, error) {
	origin, err := OriginFromEndpoint(endpoint, defaultEndpoint)
	if err != nil {
		return "", err
	}
	host := origin.Hostname()
	if host == "" {
		return "", apperror.TransportErr(fmt.Errorf("missing authority in endpoint"))
	}
	return host, nil
}

// parseEndpoint accepts both full URLs and bare authorities such as
// "localhost:5678".
func parseEndpoint(endpoint string) (*url.URL, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing authority")
	}
	return u, nil
}
