package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/ChuLiYu/beaver-migrate/internal/destination"
	"github.com/ChuLiYu/beaver-migrate/internal/transport"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var log = slog.Default()

var _ transport.DestinationServer = (*Server)(nil)

// Server implements the destination gRPC service on top of a Receiver.
type Server struct {
	recv transport.Receiver
}

// NewServer creates a new gRPC server instance.
func NewServer(recv transport.Receiver) *Server {
	return &Server{recv: recv}
}

// Deliver accepts one zstd compressed batch and returns its ticket.
func (s *Server) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if dest := destinationOf(ctx); dest != "" && dest != s.recv.ID() {
		return nil, status.Errorf(codes.NotFound, "unknown destination %q", dest)
	}

	payload, err := transport.Decompress(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ticket := types.Ticket(uuid.NewString())
	if err := s.recv.Receive(ctx, ticket, payload); err != nil {
		if errors.Is(err, destination.ErrNotRunning) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	log.Debug("Batch accepted", "ticket", ticket, "bytes", len(payload))
	return wrapperspb.String(string(ticket)), nil
}

// Acknowledgements returns and clears the acknowledgements collected so far.
func (s *Server) Acknowledgements(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	acks, err := s.recv.PollAcks(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if len(acks) == 0 {
		return wrapperspb.Bytes(nil), nil
	}
	data, err := json.Marshal(acks)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(data), nil
}

// Register attaches the service to a gRPC server.
func (s *Server) Register(g *grpc.Server) {
	transport.RegisterDestinationServer(g, s)
}

// Serve listens on addr and serves until ctx is cancelled.
func Serve(ctx context.Context, addr string, srv *Server, opts ...grpc.ServerOption) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	g := grpc.NewServer(opts...)
	srv.Register(g)

	errCh := make(chan error, 1)
	go func() { errCh <- g.Serve(lis) }()
	log.Info("Destination server listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		g.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func destinationOf(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(transport.DestinationHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}
