package client

import (
	"context"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/client/models"
	pb "github.com/Masparrito/lactokeeper-sub001/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Backoff bounds the delay between subscription reconnects.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

var DefaultBackoff = Backoff{Min: time.Second, Max: 30 * time.Second}

func (b Backoff) next(d time.Duration) time.Duration {
	if d <= 0 {
		return b.Min
	}
	d *= 2
	if d > b.Max {
		d = b.Max
	}
	return d
}

func (s *GRPCClient) Subscribe(ctx context.Context, kind, ownerID string, onDelta func(models.DeltaBatch)) (Unsubscribe, error) {
	req, err := pb.SubscribeRequest{Kind: kind, OwnerID: ownerID}.Struct()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.subscribeLoop(ctx, kind, req, onDelta)
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func (s *GRPCClient) subscribeLoop(ctx context.Context, kind string, req *structpb.Struct, onDelta func(models.DeltaBatch)) {
	logger := s.logger.With("kind", kind)
	var delay time.Duration

	for {
		access, _ := s.tokens()
		received := false
		stream, err := s.client.Subscribe(ctx, req)
		if err == nil {
			received, err = s.consume(ctx, stream, onDelta)
		}
		if ctx.Err() != nil {
			return
		}
		if received {
			delay = 0
		}

		if isTokenExpired(err) {
			if rerr := s.refresh(ctx, access); rerr == nil {
				continue
			}
		}

		delay = s.backoff.next(delay)
		logger.Warn(ctx, "subscription interrupted", "error", s.mapError(err), "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume delivers deltas until the stream fails. received reports whether
// at least one message arrived.
func (s *GRPCClient) consume(ctx context.Context, stream grpc.ServerStreamingClient[structpb.Struct], onDelta func(models.DeltaBatch)) (bool, error) {
	received := false
	for {
		msg, err := stream.Recv()
		if err != nil {
			return received, err
		}
		received = true

		d, err := pb.DeltaFromStruct(msg)
		if err != nil {
			s.logger.Error(ctx, "bad delta dropped", "error", err)
			continue
		}
		onDelta(toBatch(d))
	}
}

func toBatch(d pb.Delta) models.DeltaBatch {
	b := models.DeltaBatch{Kind: d.Kind, OpID: d.OpID, Snapshot: d.Snapshot}
	for _, c := range d.Changes {
		rec, err := models.RecordFromWire(c.Record)
		if err != nil {
			continue
		}
		b.Changes = append(b.Changes, models.Change{Type: models.ChangeType(c.Type), Record: rec})
	}
	return b
}
