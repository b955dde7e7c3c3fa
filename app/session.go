package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/evntfy/evntfy/domain/event"
	"github.com/evntfy/evntfy/domain/key"
	"github.com/evntfy/evntfy/ports"
)

// Stream-establishment failures.
var (
	ErrMissingCredential = errors.New("missing api key")
	ErrInvalidCredential = errors.New("invalid api key")
)

// Coordinator drives one inbound event stream end to end: credential
// check at establishment, per-message admission, then the three-way
// hand-off (persistence, aggregation, fan-out) for every admitted event.
type Coordinator struct {
	keys       ports.KeyStore
	meter      *Meter
	ingest     *IngestBatcher
	aggregator *Aggregator
	fanout     *FanoutBatcher
	clock      ports.Clock
	idgen      ports.IDGenerator
	logger     zerolog.Logger
}

// NewCoordinator wires the pipeline entry point.
func NewCoordinator(
	keys ports.KeyStore,
	meter *Meter,
	ingest *IngestBatcher,
	aggregator *Aggregator,
	fanout *FanoutBatcher,
	clock ports.Clock,
	idgen ports.IDGenerator,
	logger zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		keys:       keys,
		meter:      meter,
		ingest:     ingest,
		aggregator: aggregator,
		fanout:     fanout,
		clock:      clock,
		idgen:      idgen,
		logger:     logger.With().Str("component", "coordinator").Logger(),
	}
}

// Serve runs one stream to completion. Establishment failures send a
// terminal error response and return before any message is admitted.
// A quota rejection sends the terminal error response and ends the
// stream; the producer must not be left waiting on further acks.
func (c *Coordinator) Serve(s ports.Stream) error {
	ctx := s.Context()

	record, err := c.authenticate(ctx, s)
	if err != nil {
		if sendErr := s.Send(event.Rejected(err.Error())); sendErr != nil {
			return sendErr
		}
		return err
	}

	if err := c.meter.Initialize(ctx, record); err != nil {
		c.logger.Error().Err(err).Str("key", record.Key).Msg("counter seed failed")
		if sendErr := s.Send(event.Rejected("service unavailable")); sendErr != nil {
			return sendErr
		}
		return err
	}

	for {
		in, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		decision, err := c.meter.Admit(ctx, record.Key)
		if err != nil {
			// Fail closed. An unreachable counter store must not admit.
			c.logger.Error().Err(err).Str("key", record.Key).Msg("admission check failed")
			if sendErr := s.Send(event.Rejected("service unavailable")); sendErr != nil {
				return sendErr
			}
			return err
		}

		if !decision.Admitted {
			msg := fmt.Sprintf("Usage limit exceeded Current: %d/%d",
				decision.UsageCount, decision.UsageLimit)
			if sendErr := s.Send(event.Rejected(msg)); sendErr != nil {
				return sendErr
			}
			return nil
		}

		e := event.FromInbound(c.idgen.New(), decision.OwnerID, in, c.clock.Now())

		// Hand-off order is fixed: persist, aggregate, fan out. None of the
		// three may block the ack.
		c.ingest.Enqueue(e)
		c.aggregator.Process(decision.OwnerID, e)
		c.fanout.AddEvent(decision.OwnerID, e)

		if err := s.Send(event.Received()); err != nil {
			return err
		}
	}
}

// authenticate resolves the stream's credential to a durable key record.
func (c *Coordinator) authenticate(ctx context.Context, s ports.Stream) (key.UsageRecord, error) {
	rawKey := s.Metadata(ports.MetadataAPIKey)
	if rawKey == "" {
		return key.UsageRecord{}, ErrMissingCredential
	}
	if !key.ValidateFormat(rawKey) {
		return key.UsageRecord{}, ErrInvalidCredential
	}

	record, err := c.keys.GetKeyByLookup(ctx, key.LookupPrefix(rawKey))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return key.UsageRecord{}, ErrInvalidCredential
		}
		return key.UsageRecord{}, err
	}
	if !key.Match(record, rawKey) {
		return key.UsageRecord{}, ErrInvalidCredential
	}

	if v := key.Validate(record); !v.Valid {
		return key.UsageRecord{}, fmt.Errorf("%w: %s", ErrInvalidCredential, v.Reason)
	}

	return record, nil
}
