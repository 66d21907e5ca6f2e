package coordinator

import (
	"context"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/transport"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/juju/clock"
)

// Runner drives the coordinator on a fixed interval. Before every tick it
// drains pending acknowledgements from the transport.
type Runner struct {
	coord    *Coordinator
	acks     transport.AckSource
	clock    clock.Clock
	interval time.Duration
	onTick   func(types.Phase)
}

// NewRunner creates a runner; acks may be nil when acknowledgements are
// delivered by calling Coordinator.OnAcknowledge directly.
func NewRunner(coord *Coordinator, acks transport.AckSource, clk clock.Clock, interval time.Duration) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Runner{coord: coord, acks: acks, clock: clk, interval: interval}
}

// OnTick registers a callback invoked with the phase after every tick.
func (r *Runner) OnTick(fn func(types.Phase)) {
	r.onTick = fn
}

// Run ticks until ctx is cancelled or the migration reaches Done with no
// outbound batch left to retry. Dead batches do not keep it running.
func (r *Runner) Run(ctx context.Context) error {
	log.Info("Runner started", "interval", r.interval)
	waiting := false
	for {
		select {
		case <-ctx.Done():
			log.Info("Runner stopped", "reason", ctx.Err())
			return nil
		case <-r.clock.After(r.interval):
		}

		phase, err := r.Step(ctx)
		if err != nil {
			return err
		}
		if phase.Kind != types.PhaseDone {
			continue
		}
		out := r.coord.Status().Outbound
		if out.Pending() == 0 {
			log.Info("Migration done, runner exiting", "dead", out.Dead)
			return nil
		}
		if !waiting {
			log.Info("Migration done, waiting for outbound batches",
				"in_flight", out.InFlight,
				"unsent", out.Unsent)
			waiting = true
		}
	}
}

// Step polls acknowledgements once and runs one tick.
func (r *Runner) Step(ctx context.Context) (types.Phase, error) {
	r.pollAcks(ctx)
	if err := r.coord.Tick(ctx); err != nil {
		return types.Phase{}, err
	}
	phase := r.coord.Phase()
	if r.onTick != nil {
		r.onTick(phase)
	}
	return phase, nil
}

func (r *Runner) pollAcks(ctx context.Context) {
	if r.acks == nil {
		return
	}
	acks, err := r.acks.PollAcks(ctx)
	if err != nil {
		log.Warn("Failed to poll acknowledgements", "error", err)
		return
	}
	for _, ack := range acks {
		if err := r.coord.OnAcknowledge(ctx, ack.Ticket, ack.Outcome); err != nil {
			log.Warn("Failed to handle acknowledgement", "ticket", ack.Ticket, "error", err)
		}
	}
}
