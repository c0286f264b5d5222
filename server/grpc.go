// Package server exposes the job orchestrator over gRPC. Messages are
// plain Go structs carried by a JSON codec.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcHealth "google.golang.org/grpc/health"
	grpcHealthV1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/jobs"
	"github.com/bill-scraper/notify"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "billscraper.v1.BillScraper"

const (
	methodHealth             = "/" + ServiceName + "/Health"
	methodStartJob           = "/" + ServiceName + "/StartJob"
	methodGetJobStatus       = "/" + ServiceName + "/GetJobStatus"
	methodListVendors        = "/" + ServiceName + "/ListVendors"
	methodGetDownloadedFiles = "/" + ServiceName + "/GetDownloadedFiles"
)

// RequestedBy marks jobs created over gRPC
const RequestedBy = "grpc"

type HealthRequest struct{}

type HealthResponse struct {
	Healthy   bool   `json:"healthy"`
	Version   string `json:"version"`
	ActiveJob string `json:"active_job,omitempty"`
}

type StartJobRequest struct {
	Mode    string `json:"mode"`
	Vendor  string `json:"vendor,omitempty"`
	Account int    `json:"account"`
	EmailTo string `json:"email_to,omitempty"`
}

type StartJobResponse struct {
	JobID string `json:"job_id"`
	Mode  string `json:"mode"`
}

type GetJobStatusRequest struct {
	JobID string `json:"job_id"`
}

type GetJobStatusResponse struct {
	Job jobs.Snapshot `json:"job"`
}

type ListVendorsRequest struct{}

type Vendor struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Accounts    int    `json:"accounts"`
}

type ListVendorsResponse struct {
	Vendors []Vendor `json:"vendors"`
}

// GetDownloadedFilesRequest asks for the bills a finished job saved
type GetDownloadedFilesRequest struct {
	JobID string `json:"job_id"`
}

type DownloadedFile struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

type GetDownloadedFilesResponse struct {
	JobID string           `json:"job_id"`
	Files []DownloadedFile `json:"files"`
}

// JobService is the part of the orchestrator the gRPC service uses
type JobService interface {
	CreateJob(ctx context.Context, req jobs.Request) (string, error)
	GetStatus(id string) (jobs.Snapshot, error)
	Active() (string, bool)
	Profiles() []config.VendorProfile
}

type billScraperServer interface {
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
	StartJob(context.Context, *StartJobRequest) (*StartJobResponse, error)
	GetJobStatus(context.Context, *GetJobStatusRequest) (*GetJobStatusResponse, error)
	ListVendors(context.Context, *ListVendorsRequest) (*ListVendorsResponse, error)
	GetDownloadedFiles(context.Context, *GetDownloadedFilesRequest) (*GetDownloadedFilesResponse, error)
}

// BillScraper implements the gRPC service
type BillScraper struct {
	Jobs    JobService
	Logger  *slog.Logger
	Version string
}

var _ billScraperServer = (*BillScraper)(nil)

// Register adds the service to a gRPC server
func Register(registrar grpc.ServiceRegistrar, svc *BillScraper) {
	EnsureJSONCodec()
	registrar.RegisterService(&billScraperServiceDesc, svc)
}

// Health implements the Health RPC
func (s *BillScraper) Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	active, _ := s.Jobs.Active()
	return &HealthResponse{Healthy: true, Version: s.Version, ActiveJob: active}, nil
}

// StartJob implements the StartJob RPC
func (s *BillScraper) StartJob(ctx context.Context, req *StartJobRequest) (*StartJobResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	emailTo, err := notify.ValidateAddress(req.EmailTo)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid email address: %v", err)
	}

	mode := jobs.Mode(req.Mode)
	if mode == "" {
		mode = jobs.ModeAll
	}
	id, err := s.Jobs.CreateJob(ctx, jobs.Request{
		Mode:           mode,
		Vendor:         req.Vendor,
		Account:        req.Account,
		NotifyOverride: emailTo,
		RequestedBy:    RequestedBy,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	s.Logger.Info("job started over gRPC", "job_id", id, "mode", mode)
	return &StartJobResponse{JobID: id, Mode: string(mode)}, nil
}

// GetJobStatus implements the GetJobStatus RPC
func (s *BillScraper) GetJobStatus(ctx context.Context, req *GetJobStatusRequest) (*GetJobStatusResponse, error) {
	if req == nil || req.JobID == "" {
		return nil, status.Error(codes.InvalidArgument, "job_id is required")
	}
	snap, err := s.Jobs.GetStatus(req.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetJobStatusResponse{Job: snap}, nil
}

// ListVendors implements the ListVendors RPC
func (s *BillScraper) ListVendors(ctx context.Context, req *ListVendorsRequest) (*ListVendorsResponse, error) {
	profiles := s.Jobs.Profiles()
	resp := &ListVendorsResponse{Vendors: make([]Vendor, 0, len(profiles))}
	for i := range profiles {
		p := &profiles[i]
		resp.Vendors = append(resp.Vendors, Vendor{Name: p.Name, DisplayName: p.DisplayName(), Accounts: p.MaxAccounts()})
	}
	return resp, nil
}

// GetDownloadedFiles implements the GetDownloadedFiles RPC. Only finished
// jobs have files; unreadable files are skipped.
func (s *BillScraper) GetDownloadedFiles(ctx context.Context, req *GetDownloadedFilesRequest) (*GetDownloadedFilesResponse, error) {
	if req == nil || req.JobID == "" {
		return nil, status.Error(codes.InvalidArgument, "job_id is required")
	}
	snap, err := s.Jobs.GetStatus(req.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	if !snap.Status.Terminal() {
		return nil, status.Errorf(codes.FailedPrecondition, "job %s is still %s", snap.ID, snap.Status)
	}

	resp := &GetDownloadedFilesResponse{JobID: snap.ID}
	for _, path := range snap.Succeeded() {
		content, err := os.ReadFile(path)
		if err != nil {
			s.Logger.Warn("could not read downloaded file", "path", path, "error", err)
			continue
		}
		resp.Files = append(resp.Files, DownloadedFile{Filename: filepath.Base(path), Content: content})
	}
	s.Logger.Info("returning downloaded files", "job_id", snap.ID, "files", len(resp.Files))
	return resp, nil
}

func toStatus(err error) error {
	var (
		conflict *jobs.ConflictError
		invalid  *jobs.InvalidTargetError
	)
	switch {
	case errors.As(err, &conflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &invalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, jobs.ErrJobNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, jobs.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Server is the gRPC listener with health and reflection
type Server struct {
	addr   string
	grpc   *grpc.Server
	health *grpcHealth.Server
	logger *slog.Logger
}

// NewServer builds a server for svc on port
func NewServer(port int, svc *BillScraper) *Server {
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	s := grpc.NewServer()
	Register(s, svc)

	health := grpcHealth.NewServer()
	health.SetServingStatus("", grpcHealthV1.HealthCheckResponse_SERVING)
	health.SetServingStatus(ServiceName, grpcHealthV1.HealthCheckResponse_SERVING)
	grpcHealthV1.RegisterHealthServer(s, health)
	reflection.Register(s)

	return &Server{
		addr:   fmt.Sprintf(":%d", port),
		grpc:   s,
		health: health,
		logger: svc.Logger,
	}
}

// Run serves until ctx is cancelled, then stops gracefully
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is cancelled
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gRPC server listening", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve gRPC: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("gRPC server stopped")
	return nil
}

var billScraperServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*billScraperServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: healthHandler},
		{MethodName: "StartJob", Handler: startJobHandler},
		{MethodName: "GetJobStatus", Handler: getJobStatusHandler},
		{MethodName: "ListVendors", Handler: listVendorsHandler},
		{MethodName: "GetDownloadedFiles", Handler: getDownloadedFilesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "billscraper/v1/bill_scraper.proto",
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(billScraperServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodHealth}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(billScraperServer).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func startJobHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StartJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(billScraperServer).StartJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStartJob}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(billScraperServer).StartJob(ctx, req.(*StartJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getJobStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetJobStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(billScraperServer).GetJobStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetJobStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(billScraperServer).GetJobStatus(ctx, req.(*GetJobStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listVendorsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListVendorsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(billScraperServer).ListVendors(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListVendors}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(billScraperServer).ListVendors(ctx, req.(*ListVendorsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getDownloadedFilesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetDownloadedFilesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(billScraperServer).GetDownloadedFiles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetDownloadedFiles}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(billScraperServer).GetDownloadedFiles(ctx, req.(*GetDownloadedFilesRequest))
	}
	return interceptor(ctx, in, info, handler)
}
