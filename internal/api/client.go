// Package api is the typed client for the transfer gateway's HTTP API. All
// requests go through the transport pipeline, so key-casing normalization,
// identity extraction and error classification apply uniformly.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/diodelink/diodelink/internal/transport"
)

// Client wraps the pipeline with the gateway's endpoints.
type Client struct {
	pipeline  *transport.Client
	loginPath string
}

// NewClient creates an API client on top of an existing pipeline.
func NewClient(pipeline *transport.Client, loginPath string) *Client {
	return &Client{pipeline: pipeline, loginPath: loginPath}
}

// Pipeline exposes the underlying transport client.
func (c *Client) Pipeline() *transport.Client {
	return c.pipeline
}

// Login issues the session-refresh request. Besides priming the session
// cookie it populates the identity store from the Authenticated-User header.
func (c *Client) Login(ctx context.Context) error {
	_, err := c.pipeline.Do(ctx, &transport.Request{
		Method:     http.MethodGet,
		Path:       c.loginPath,
		Idempotent: true,
	})
	return err
}

// Transferable is one file known to the gateway.
type Transferable struct {
	ID               string     `json:"id"`
	CreatedAt        time.Time  `json:"createdAt"`
	Name             string     `json:"name"`
	Size             int64      `json:"size"`
	State            string     `json:"state"`
	Progress         int        `json:"progress"`
	BytesTransferred int64      `json:"bytesTransferred"`
	FinishedAt       *time.Time `json:"finishedAt"`
}

// TransferableList is one page of transferables.
type TransferableList struct {
	Count   int            `json:"count"`
	Results []Transferable `json:"results"`
}

// MultipartUpload is the server-issued descriptor of one encrypted upload
// session. The server dictates the part size; it is never negotiated.
type MultipartUpload struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	PartSize int64  `json:"partSize"`
}

// MultipartCompletion carries the finalize-time metadata: the part sizes the
// server validates the reassembled object against, the stream header, and the
// wrapped symmetric key.
type MultipartCompletion struct {
	PartsCount    int64
	MainPartSize  int64
	LastPartSize  int64
	EncryptedSize int64
	Header        string
	WrappedKey    string
}
