package stream

import (
	"context"
	"fmt"

	"hostwatch-agent/internal/model"
	"hostwatch-agent/internal/wire"
)

// Sink accepts encoded records for a subject.
type Sink interface {
	Publish(ctx context.Context, subject model.Subject, rec wire.Record) error
	Close(ctx context.Context) error
}

// encode serializes rec into a slice rented from pool and sized exactly to the
// encoded length. The caller must hand the slice back with pool.Put. On error
// nothing is rented and the intermediate segments are already released.
func encode(pool wire.Pool, rec wire.Record) ([]byte, error) {
	seg := wire.NewBuffer(pool)
	defer seg.Release()

	if err := rec.MarshalWire(wire.NewWriter(seg)); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	payload := pool.Get(seg.Len())
	seg.CopyTo(payload)
	return payload, nil
}
