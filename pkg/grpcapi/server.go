// Package grpcapi serves spp.v1.Command, the gRPC management service of a
// secondary process. It accepts the same command strings as the controller
// link and answers with the same JSON documents.
package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/psaab/spp/pkg/configstore"
	"github.com/psaab/spp/pkg/runner"
)

// Config configures the gRPC server.
type Config struct {
	Runner *runner.Runner
	Store  *configstore.Store // nil makes History unavailable
}

// Server implements CommandServer.
type Server struct {
	runner *runner.Runner
	store  *configstore.Store
	addr   string
}

// NewServer creates a server that listens on addr when run.
func NewServer(addr string, cfg Config) *Server {
	return &Server{runner: cfg.Runner, store: cfg.Store, addr: addr}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	RegisterCommandServer(srv, s)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	srv.GracefulStop()
	return nil
}

func (s *Server) Execute(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	resp := s.runner.Execute(req.GetValue())
	data, err := resp.Marshal()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return wrapperspb.String(string(data)), nil
}

func (s *Server) Status(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	data, err := json.Marshal(s.runner.Info())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding status: %v", err)
	}
	return wrapperspb.String(string(data)), nil
}

func (s *Server) History(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "history not recorded")
	}
	data, err := json.Marshal(s.store.List())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding history: %v", err)
	}
	return wrapperspb.String(string(data)), nil
}
