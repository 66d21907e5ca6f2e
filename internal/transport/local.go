package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/google/uuid"
)

// ErrUnknownDestination 目的端識別碼不符
var ErrUnknownDestination = errors.New("unknown destination")

// Receiver 目的端接收介面
type Receiver interface {
	ID() string
	Receive(ctx context.Context, ticket types.Ticket, payload []byte) error
	PollAcks(ctx context.Context) ([]types.Ack, error)
}

// LocalDeliverer 同一行程內的投遞，直接交給目的端 Receiver
type LocalDeliverer struct {
	recv Receiver
}

// NewLocalDeliverer 建立行程內投遞器
func NewLocalDeliverer(recv Receiver) *LocalDeliverer {
	return &LocalDeliverer{recv: recv}
}

// Deliver 配發票據並交給 Receiver
func (d *LocalDeliverer) Deliver(ctx context.Context, destination string, payload []byte) (types.Ticket, error) {
	if destination != d.recv.ID() {
		return "", fmt.Errorf("%w: %s", ErrUnknownDestination, destination)
	}
	ticket := types.Ticket(uuid.NewString())
	if err := d.recv.Receive(ctx, ticket, payload); err != nil {
		return "", err
	}
	return ticket, nil
}

// PollAcks 取回 Receiver 累積的確認
func (d *LocalDeliverer) PollAcks(ctx context.Context) ([]types.Ack, error) {
	return d.recv.PollAcks(ctx)
}
