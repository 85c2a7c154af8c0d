package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"cloudsdk/pkg/auth"
	"cloudsdk/pkg/options"
	"cloudsdk/pkg/pipeline"
	"cloudsdk/pkg/transport"
	"cloudsdk/pkg/wkt"
)

// RewriteRequest describes a server-side copy.
type RewriteRequest struct {
	SourceBucket      string
	SourceObject      string
	DestinationBucket string
	DestinationObject string
	// Metadata replaces the destination metadata when non-nil.
	Metadata      *Object
	Preconditions *Preconditions
	Options       *options.RequestOptions
}

// RewriteResponse is one step of a rewrite. Large objects are copied in
// multiple calls; RewriteToken continues an unfinished copy.
type RewriteResponse struct {
	TotalBytesRewritten wkt.Int64 `json:"totalBytesRewritten"`
	ObjectSize          wkt.Int64 `json:"objectSize"`
	Done                bool      `json:"done"`
	RewriteToken        string    `json:"rewriteToken"`
	Resource            *Object   `json:"resource"`
}

// RewriteObject issues one rewrite step. The returned response carries a
// token when the copy is incomplete.
func (c *Client) RewriteObject(ctx context.Context, req RewriteRequest, rewriteToken string) (*RewriteResponse, error) {
	if err := transport.ValidateBinding([]transport.BindingGroup{
		{Alternatives: []transport.PathBinding{{Subs: []transport.Substitution{
			{FieldName: "source_bucket", Value: req.SourceBucket, Template: "*"},
			{FieldName: "source_object", Value: req.SourceObject, Template: "**"},
		}}}},
		{Alternatives: []transport.PathBinding{{Subs: []transport.Substitution{
			{FieldName: "destination_bucket", Value: req.DestinationBucket, Template: "*"},
			{FieldName: "destination_object", Value: req.DestinationObject, Template: "**"},
		}}}},
	}); err != nil {
		return nil, err
	}
	call := &pipeline.Call{
		Method:      "RewriteObject",
		Idempotent:  true,
		HTTPMethod:  http.MethodPost,
		URLTemplate: "/storage/v1/b/{srcBucket}/o/{srcObject}/rewriteTo/b/{dstBucket}/o/{dstObject}",
		Resource: fmt.Sprintf("//storage.googleapis.com/b/%s/o/%s",
			req.DestinationBucket, req.DestinationObject),
		Options: req.Options,
	}
	return pipeline.Invoke(ctx, c.pipe, call, func(ctx context.Context, creds auth.Headers) (*RewriteResponse, error) {
		q := url.Values{}
		if rewriteToken != "" {
			q.Set("rewriteToken", rewriteToken)
		}
		req.Preconditions.queryInto(q)
		var body any
		if req.Metadata != nil {
			body = req.Metadata
		}
		var resp RewriteResponse
		err := c.rest.Do(ctx, &transport.Call{
			Method: http.MethodPost,
			Path: fmt.Sprintf("/storage/v1/b/%s/o/%s/rewriteTo/b/%s/o/%s",
				url.PathEscape(req.SourceBucket), url.PathEscape(req.SourceObject),
				url.PathEscape(req.DestinationBucket), url.PathEscape(req.DestinationObject)),
			URLTemplate: call.URLTemplate,
			Query:       q,
			Body:        body,
			Routing:     map[string]string{"bucket": req.DestinationBucket},
		}, creds, &resp)
		if err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// RewriteUntilDone loops rewrite steps, threading the most recent token,
// until the copy completes, and returns the destination object.
func (c *Client) RewriteUntilDone(ctx context.Context, req RewriteRequest) (*Object, error) {
	token := ""
	for {
		resp, err := c.RewriteObject(ctx, req, token)
		if err != nil {
			return nil, err
		}
		if resp.Done {
			return resp.Resource, nil
		}
		token = resp.RewriteToken
	}
}
