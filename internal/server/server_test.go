package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/destination"
	"github.com/ChuLiYu/beaver-migrate/internal/transport"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func startServer(t *testing.T, recv *destination.Receiver) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	NewServer(recv).Register(g)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newReceiver(t *testing.T) (*destination.Receiver, *destination.MemoryStore) {
	t.Helper()
	store := destination.NewMemoryStore()
	recv := destination.NewReceiver(destination.Config{ID: "dest", Workers: 2}, store, nil)
	require.NoError(t, recv.Start())
	t.Cleanup(recv.Stop)
	return recv, store
}

func accountBatch(t *testing.T, who ...string) []byte {
	t.Helper()
	b := types.Batch{Domain: types.DomainAccounts}
	for i, w := range who {
		b.Messages = append(b.Messages, types.Message{
			Kind:    types.KindAccount,
			Account: &types.AccountMessage{Who: w, Free: uint64(i + 1)},
		})
	}
	payload, err := transport.EncodeBatch(b)
	require.NoError(t, err)
	return payload
}

func TestDeliverAndAcknowledge(t *testing.T) {
	recv, store := newReceiver(t)
	d := transport.NewGRPCDeliverer(startServer(t, recv), time.Second, transport.BreakerConfig{})
	ctx := context.Background()

	ticket, err := d.Deliver(ctx, "dest", accountBatch(t, "alice", "bob"))
	require.NoError(t, err)
	assert.NotEmpty(t, ticket)

	var acks []types.Ack
	require.Eventually(t, func() bool {
		got, err := d.PollAcks(ctx)
		if err != nil {
			return false
		}
		acks = append(acks, got...)
		return len(acks) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.Len(t, acks, 1)
	assert.Equal(t, ticket, acks[0].Ticket)
	assert.True(t, acks[0].Outcome.Success)

	n, err := store.Count(ctx, types.KindAccount)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Nothing new since the last poll.
	acks, err = d.PollAcks(ctx)
	require.NoError(t, err)
	assert.Empty(t, acks)
}

func TestDeliverUnknownDestination(t *testing.T) {
	recv, _ := newReceiver(t)
	conn := startServer(t, recv)
	d := transport.NewGRPCDeliverer(conn, time.Second, transport.BreakerConfig{})

	_, err := d.Deliver(context.Background(), "elsewhere", accountBatch(t, "alice"))
	require.Error(t, err)
	assert.Equal(t, 0, recv.Pending())
}

func TestDeliverRejectsUncompressedPayload(t *testing.T) {
	recv, _ := newReceiver(t)
	conn := startServer(t, recv)

	out := new(wrapperspb.StringValue)
	err := conn.Invoke(context.Background(), transport.MethodDeliver, wrapperspb.Bytes([]byte("garbage")), out)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDeliverToStoppedReceiver(t *testing.T) {
	recv, _ := newReceiver(t)
	conn := startServer(t, recv)
	recv.Stop()

	out := new(wrapperspb.StringValue)
	err := conn.Invoke(context.Background(), transport.MethodDeliver,
		wrapperspb.Bytes(transport.Compress(accountBatch(t, "alice"))), out)
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
