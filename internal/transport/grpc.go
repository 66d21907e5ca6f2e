package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// BreakerConfig circuit breaker settings for the remote destination
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// GRPCDeliverer delivers batches to a remote destination over gRPC.
// Payloads are zstd compressed on the wire; calls go through a circuit
// breaker so a down destination fails fast and batches stay unsent.
type GRPCDeliverer struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// DialGRPC connects to the destination at addr
func DialGRPC(addr string, timeout time.Duration, cfg BreakerConfig) (*GRPCDeliverer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial destination %s: %w", addr, err)
	}
	d := NewGRPCDeliverer(conn, timeout, cfg)
	d.closer = conn.Close
	return d, nil
}

// NewGRPCDeliverer wraps an established connection
func NewGRPCDeliverer(conn grpc.ClientConnInterface, timeout time.Duration, cfg BreakerConfig) *GRPCDeliverer {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "destination",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Destination circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return &GRPCDeliverer{
		conn:    conn,
		breaker: breaker,
		timeout: timeout,
	}
}

// Deliver sends one encoded batch and returns the destination's ticket
func (d *GRPCDeliverer) Deliver(ctx context.Context, destination string, payload []byte) (types.Ticket, error) {
	res, err := d.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		callCtx = metadata.AppendToOutgoingContext(callCtx, DestinationHeader, destination)

		out := new(wrapperspb.StringValue)
		if err := d.conn.Invoke(callCtx, MethodDeliver, wrapperspb.Bytes(Compress(payload)), out); err != nil {
			return nil, err
		}
		return out.GetValue(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("destination unavailable: %w", err)
		}
		return "", fmt.Errorf("rpc deliver failed: %w", err)
	}

	ticket := res.(string)
	if ticket == "" {
		return "", errors.New("destination returned empty ticket")
	}
	return types.Ticket(ticket), nil
}

// PollAcks fetches acknowledgements accumulated by the destination
func (d *GRPCDeliverer) PollAcks(ctx context.Context) ([]types.Ack, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out := new(wrapperspb.BytesValue)
	if err := d.conn.Invoke(callCtx, MethodAcknowledgements, &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("rpc acknowledgements failed: %w", err)
	}
	if len(out.GetValue()) == 0 {
		return nil, nil
	}

	var acks []types.Ack
	if err := json.Unmarshal(out.GetValue(), &acks); err != nil {
		return nil, fmt.Errorf("invalid acknowledgements payload: %w", err)
	}
	return acks, nil
}

// State reports the circuit breaker state
func (d *GRPCDeliverer) State() string {
	return d.breaker.State().String()
}

// Close releases the connection when DialGRPC created it
func (d *GRPCDeliverer) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}
