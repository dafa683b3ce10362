package platform

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Orcapt/orca-cli/internal/credentials"
)

// Lambda is a deployed function as reported by the platform.
type Lambda struct {
	FunctionName   string `json:"function_name"`
	Status         string `json:"status,omitempty"`
	ImageURI       string `json:"image_uri,omitempty"`
	MemoryMB       int    `json:"memory_mb,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Region         string `json:"region,omitempty"`
	InvokeURL      string `json:"invoke_url,omitempty"`
	QueueURL       string `json:"sqs_queue_url,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// ListLambdas returns the functions of the workspace.
func (c *Client) ListLambdas(ctx context.Context, creds credentials.Bundle) ([]Lambda, error) {
	var resp struct {
		Functions []Lambda `json:"functions"`
	}
	if err := c.Request(ctx, http.MethodGet, PathLambdas, creds, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Functions, nil
}

// GetLambda returns one function by name.
func (c *Client) GetLambda(ctx context.Context, creds credentials.Bundle, name string) (*Lambda, error) {
	var fn Lambda
	if err := c.Request(ctx, http.MethodGet, PathLambdas+"/"+url.PathEscape(name), creds, nil, &fn); err != nil {
		return nil, err
	}
	return &fn, nil
}

// DeleteLambda removes a function. The pushed image is left in the registry.
func (c *Client) DeleteLambda(ctx context.Context, creds credentials.Bundle, name string) error {
	return c.Request(ctx, http.MethodDelete, PathLambdas+"/"+url.PathEscape(name), creds, nil, nil)
}
