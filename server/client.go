package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/clientserver/stream"
)

// Client calls an interpreter server.
type Client struct {
	openSession  *connect.Client[OpenSessionRequest, OpenSessionResponse]
	closeSession *connect.Client[CloseSessionRequest, CloseSessionResponse]
	process      *connect.Client[ProcessRequest, ProcessResponse]
	listObjects  *connect.Client[ListObjectsRequest, ListObjectsResponse]
}

// NewClient creates a client for the server at baseURL, for example
// "http://localhost:4567".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &Client{
		openSession:  connect.NewClient[OpenSessionRequest, OpenSessionResponse](httpClient, baseURL+OpenSessionProcedure, opts...),
		closeSession: connect.NewClient[CloseSessionRequest, CloseSessionResponse](httpClient, baseURL+CloseSessionProcedure, opts...),
		process:      connect.NewClient[ProcessRequest, ProcessResponse](httpClient, baseURL+ProcessProcedure, opts...),
		listObjects:  connect.NewClient[ListObjectsRequest, ListObjectsResponse](httpClient, baseURL+ListObjectsProcedure, opts...),
	}
}

// OpenSession opens a session and returns its ID and constructible classes.
func (c *Client) OpenSession(ctx context.Context, name string) (*OpenSessionResponse, error) {
	resp, err := c.openSession.CallUnary(ctx, connect.NewRequest(&OpenSessionRequest{Name: name}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// CloseSession closes a session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	_, err := c.closeSession.CallUnary(ctx, connect.NewRequest(&CloseSessionRequest{SessionID: sessionID}))
	return err
}

// Process encodes s and runs it in the session.
func (c *Client) Process(ctx context.Context, sessionID string, s *stream.Stream) (*ProcessResponse, error) {
	data, err := stream.Marshal(s)
	if err != nil {
		return nil, err
	}
	return c.ProcessBytes(ctx, sessionID, data)
}

// ProcessBytes runs an already encoded stream in the session.
func (c *Client) ProcessBytes(ctx context.Context, sessionID string, data []byte) (*ProcessResponse, error) {
	resp, err := c.process.CallUnary(ctx, connect.NewRequest(&ProcessRequest{SessionID: sessionID, Stream: data}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// ListObjects lists the session's live objects.
func (c *Client) ListObjects(ctx context.Context, sessionID string) (*ListObjectsResponse, error) {
	resp, err := c.listObjects.CallUnary(ctx, connect.NewRequest(&ListObjectsRequest{SessionID: sessionID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
