package feed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/propengine/internal/domain"
)

// Subscriber is the part of the event bus the feeder reads from.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BusFeeder follows every quote channel and hands each snapshot to a sink.
type BusFeeder struct {
	bus    Subscriber
	sink   Sink
	logger *slog.Logger
}

// NewBusFeeder creates a BusFeeder.
func NewBusFeeder(bus Subscriber, sink Sink, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:    bus,
		sink:   sink,
		logger: logger.With(slog.String("component", "bus_feeder")),
	}
}

// Run blocks until ctx is cancelled or the subscription closes. Bad payloads
// and rejected quotes are logged and skipped.
func (f *BusFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, domain.QuoteChannelPattern)
	if err != nil {
		return err
	}
	f.logger.Info("bus feeder started", slog.String("channel", domain.QuoteChannelPattern))
	defer f.logger.Info("bus feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			f.handle(ctx, data)
		}
	}
}

func (f *BusFeeder) handle(ctx context.Context, data []byte) {
	snap, err := decodeSnapshot(data)
	if err != nil {
		f.logger.Debug("bus feeder: bad payload",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	if err := f.sink(ctx, snap); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrInvalidQuote) {
			level = slog.LevelDebug
		}
		f.logger.Log(ctx, level, "bus feeder: ingest failed",
			slog.String("symbol", snap.Symbol),
			slog.String("exchange", snap.ExchangeID),
			slog.String("error", err.Error()),
		)
	}
}
