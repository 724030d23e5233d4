package sortedscan

import (
	"context"
	"fmt"

	"github.com/camforge/rowkv/pkg/kvengine"
	"github.com/camforge/rowkv/pkg/rowschema"
)

// Transcoder rewrites a decoded row into the (sort-key, sort-value) pair
// the external sorter ingests, per spec.md §4.7: "a target row info whose
// key columns are the ORDER BY columns followed by residual primary-key
// columns."
//
// Spec.md's Transcoder operates on undecoded (key, value) byte pairs and
// must be rebuilt whenever the source crosses a schema-version boundary
// mid-scan ("switching source schema versions mid-scan invalidates the
// transcoder ... requests a new transcoder bound to the current source
// row info"). This port's rows are already decoded column-name -> value
// maps by the time they reach pkg/sortedscan (see pkg/rowscanner.Row), so
// a Transcoder here only ever needs the *target* schema to write against;
// it reads a Row by column name rather than walking source bytes, which
// means one instance serves every schema version the source crosses —
// there is nothing version-specific left to invalidate. This collapse is
// the same trade pkg/rowscanner.Wrapped's map-based projection makes
// versus the source's column-unset bit.
type Transcoder struct {
	codec *rowschema.RowCodec
}

// NewTranscoder builds a Transcoder targeting info.
func NewTranscoder(info *rowschema.RowInfo) (*Transcoder, error) {
	codec, err := rowschema.NewRowCodec(info)
	if err != nil {
		return nil, fmt.Errorf("sortedscan: building transcoder: %w", err)
	}
	return &Transcoder{codec: codec}, nil
}

// Transcode rewrites row into its sort-ordered (key, value) pair.
func (t *Transcoder) Transcode(row Row) (kvengine.KV, error) {
	get := func(name string) interface{} { return row[name] }
	key, err := t.codec.EncodeKey(nil, get)
	if err != nil {
		return kvengine.KV{}, fmt.Errorf("sortedscan: encoding sort key: %w", err)
	}
	value, err := t.codec.EncodeValue(nil, get)
	if err != nil {
		return kvengine.KV{}, fmt.Errorf("sortedscan: encoding sort value: %w", err)
	}
	return kvengine.KV{Key: key, Value: value}, nil
}

// bigScanner is spec.md §4.7's big-result path: rows transcoded into
// (sort-key, sort-value) pairs, staged in fixed-size batches into a
// kvengine.Sorter, and replayed back out through a decoder bound to the
// target schema once every row has been ingested.
type bigScanner struct {
	codec  *rowschema.RowCodec
	source kvengine.SortedSource
}

// newBigScanner drains the remainder of src (buffered already holds the
// rows New pulled while deciding small vs. big mode) through a Transcoder
// and a fresh Sorter, then wraps the merged result.
func newBigScanner(ctx context.Context, src RowSource, buffered []Row, cfg Config) (*bigScanner, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("sortedscan: result exceeds big threshold but Config.Backend is nil")
	}
	if cfg.TargetInfo == nil {
		return nil, fmt.Errorf("sortedscan: result exceeds big threshold but Config.TargetInfo is nil")
	}

	transcoder, err := NewTranscoder(cfg.TargetInfo)
	if err != nil {
		return nil, err
	}
	sorter, err := cfg.Backend.NewSorter(ctx)
	if err != nil {
		return nil, fmt.Errorf("sortedscan: opening sorter: %w", err)
	}

	batch := make([]kvengine.KV, 0, BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sorter.AddBatch(batch, 0, len(batch)); err != nil {
			// "errors during sorter ingestion reset the sorter and
			// propagate" (spec.md §7); the sorter itself owns its own
			// reset, this call just surfaces the failure.
			return fmt.Errorf("sortedscan: adding batch to sorter: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	ingest := func(row Row) error {
		kv, err := transcoder.Transcode(row)
		if err != nil {
			return err
		}
		batch = append(batch, kv)
		if len(batch) == BatchSize {
			return flush()
		}
		return nil
	}

	for _, row := range buffered {
		if err := ingest(row); err != nil {
			return nil, err
		}
	}
	for {
		row, err := src.Step()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		if err := ingest(row); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	sorted, err := sorter.FinishScan()
	if err != nil {
		return nil, fmt.Errorf("sortedscan: finishing sort: %w", err)
	}
	codec, err := rowschema.NewRowCodec(cfg.TargetInfo)
	if err != nil {
		return nil, err
	}
	return &bigScanner{codec: codec, source: sorted}, nil
}

// Step decodes the next row out of the merged sorted stream, per the
// target schema.
func (b *bigScanner) Step() (Row, error) {
	if !b.source.Next() {
		return nil, nil
	}
	row := make(Row)
	set := func(name string, v interface{}) { row[name] = v }
	if _, err := b.codec.DecodeKey(b.source.Key(), set); err != nil {
		return nil, fmt.Errorf("sortedscan: decoding sort key: %w", err)
	}
	value := b.source.Value()
	_, n, err := rowschema.PeekSchemaVersion(value)
	if err != nil {
		return nil, err
	}
	if err := b.codec.DecodeValue(value[n:], set); err != nil {
		return nil, fmt.Errorf("sortedscan: decoding sort value: %w", err)
	}
	return row, nil
}

// Close releases the merged sorted stream's resources.
func (b *bigScanner) Close() error {
	return b.source.Close()
}
