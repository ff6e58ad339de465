package ipc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sebas/callservice/internal/callservice/callerr"
	"github.com/sebas/callservice/internal/callservice/control"
)

// Server serves the CallControl service.
type Server struct {
	ctl  *control.Manager
	grpc *grpc.Server
}

// NewServer creates a server for ctl. A nil auth accepts every caller.
func NewServer(ctl *control.Manager, auth *Authenticator) *Server {
	interceptors := []grpc.UnaryServerInterceptor{logRequests}
	if auth != nil {
		interceptors = append(interceptors, auth.UnaryInterceptor())
	}
	s := &Server{
		ctl:  ctl,
		grpc: grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...)),
	}
	s.grpc.RegisterService(serviceDesc(), s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("[IPC] gRPC server listening", "address", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop drains in-flight calls and stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
	slog.Info("[IPC] gRPC server stopped")
}

func (s *Server) invoke(ctx context.Context, m method, req *structpb.Struct) (*structpb.Struct, error) {
	out, err := m.call(ctx, s.ctl, args(req.AsMap()))
	if err != nil && !callerr.IsSoft(err) {
		return nil, toStatus(err)
	}
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return resp, nil
}

func logRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		slog.Info("[IPC] Request failed", "method", info.FullMethod, "code", status.Code(err), "duration", time.Since(start), "error", err)
	} else {
		slog.Debug("[IPC] Request served", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}
