package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a running bill-scraper over gRPC
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target (host:port) using the JSON codec
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	EnsureJSONCodec()
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.conn.Invoke(ctx, methodHealth, &HealthRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StartJob(ctx context.Context, req *StartJobRequest) (*StartJobResponse, error) {
	out := new(StartJobResponse)
	if err := c.conn.Invoke(ctx, methodStartJob, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*GetJobStatusResponse, error) {
	out := new(GetJobStatusResponse)
	if err := c.conn.Invoke(ctx, methodGetJobStatus, &GetJobStatusRequest{JobID: jobID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListVendors(ctx context.Context) (*ListVendorsResponse, error) {
	out := new(ListVendorsResponse)
	if err := c.conn.Invoke(ctx, methodListVendors, &ListVendorsRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetDownloadedFiles(ctx context.Context, jobID string) (*GetDownloadedFilesResponse, error) {
	out := new(GetDownloadedFilesResponse)
	if err := c.conn.Invoke(ctx, methodGetDownloadedFiles, &GetDownloadedFilesRequest{JobID: jobID}, out); err != nil {
		return nil, err
	}
	return out, nil
}
