package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloudsdk/pkg/apperror"
	"cloudsdk/pkg/retry"
)

// BidiReadObjectSpec identifies the object a bidirectional read stream
// serves. The routing token and read handle are assigned by the server and
// carried back on reconnects.
type BidiReadObjectSpec struct {
	Bucket       string
	Object       string
	Generation   int64
	RoutingToken string
	ReadHandle   []byte
}

// BidiReadRange requests one byte range on the stream. ReadID is assigned
// by the reader and identifies the range in responses.
type BidiReadRange struct {
	ReadOffset int64
	ReadLength int64
	ReadID     int64
}

// BidiReadRequest is one message on the write side of the stream.
type BidiReadRequest struct {
	// Spec is set only on the first message of a stream.
	Spec   *BidiReadObjectSpec
	Ranges []BidiReadRange
}

// BidiChecksummedData is one payload chunk with its checksum.
type BidiChecksummedData struct {
	Content []byte
	CRC32C  *uint32
}

// BidiObjectRangeData is one range's worth of data in a response message.
type BidiObjectRangeData struct {
	Data     BidiChecksummedData
	ReadID   int64
	RangeEnd bool
}

// BidiReadResponse is one message on the read side of the stream.
type BidiReadResponse struct {
	Ranges []BidiObjectRangeData
	// Metadata arrives on the first response of a stream.
	Metadata *Object
	// ReadHandle refreshes the reconnect handle.
	ReadHandle []byte
}

// BidiRedirectError tells the client to re-open the stream elsewhere. The
// routing token and read handle must be absorbed into the spec before
// reconnecting.
type BidiRedirectError struct {
	RoutingToken string
	ReadHandle   []byte
}

func (e *BidiRedirectError) Error() string {
	return fmt.Sprintf("stream redirected (routing_token=%q)", e.RoutingToken)
}

// BidiStream is the transport-level stream. The gRPC transport provides
// one; tests provide fakes.
type BidiStream interface {
	Send(*BidiReadRequest) error
	Recv() (*BidiReadResponse, error)
	CloseSend() error
}

// BidiStreamOpener opens a new stream for the spec. Each reconnect calls
// it again with the updated spec.
type BidiStreamOpener func(ctx context.Context, spec *BidiReadObjectSpec) (BidiStream, error)

// rangeState tracks one active range on the stream.
type rangeState struct {
	id        int64
	offset    int64 // next byte expected
	remaining int64 // bytes left, <0 when unbounded
	ch        chan rangeChunk
}

type rangeChunk struct {
	data []byte
	err  error
	done bool
}

// BidiReader demultiplexes multiple concurrent range reads over one
// bidirectional stream. On stream interruption every active range is
// replayed against a new stream, narrowed to the bytes not yet delivered.
type BidiReader struct {
	opener BidiStreamOpener
	spec   BidiReadObjectSpec

	mu       sync.Mutex
	stream   BidiStream
	active   map[int64]*rangeState
	nextID   int64
	metadata *Object
	closed   bool

	workerDone chan struct{}
	cancel     context.CancelFunc
}

// NewBidiReader opens the stream and starts the demultiplexing worker.
func NewBidiReader(ctx context.Context, opener BidiStreamOpener, spec BidiReadObjectSpec) (*BidiReader, error) {
	r := &BidiReader{
		opener:     opener,
		spec:       spec,
		active:     make(map[int64]*rangeState),
		workerDone: make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	stream, err := opener(ctx, &r.spec)
	if err != nil {
		cancel()
		return nil, asAppError(err)
	}
	if err := stream.Send(&BidiReadRequest{Spec: &r.spec}); err != nil {
		cancel()
		return nil, asAppError(err)
	}
	r.stream = stream
	go r.worker(ctx)
	return r, nil
}

// Object returns the object metadata once the first response arrived.
func (r *BidiReader) Object() *Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadata
}

// RangeReader streams one byte range read through a BidiReader.
type RangeReader struct {
	reader *BidiReader
	state  *rangeState
}

// ReadRange registers a new range on the stream. Ranges on the same
// stream may interleave; data within one range arrives in order.
func (r *BidiReader) ReadRange(offset, length int64) (*RangeReader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperror.Othermsg("reader is closed")
	}
	r.nextID++
	st := &rangeState{
		id:        r.nextID,
		offset:    offset,
		remaining: length,
		ch:        make(chan rangeChunk, 16),
	}
	if length <= 0 {
		st.remaining = -1
	}
	r.active[st.id] = st
	req := &BidiReadRequest{Ranges: []BidiReadRange{{
		ReadOffset: offset,
		ReadLength: length,
		ReadID:     st.id,
	}}}
	if err := r.stream.Send(req); err != nil {
		delete(r.active, st.id)
		return nil, asAppError(err)
	}
	return &RangeReader{reader: r, state: st}, nil
}

// Next returns the next chunk of the range. ok=false signals the end of
// the range.
func (rr *RangeReader) Next(ctx context.Context) ([]byte, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, apperror.IO(ctx.Err())
	case chunk, open := <-rr.state.ch:
		if !open || chunk.done {
			return nil, false, chunk.err
		}
		if chunk.err != nil {
			return nil, true, chunk.err
		}
		return chunk.data, true, nil
	}
}

// worker drains the stream, forwards chunks to range receivers, and
// replays active ranges over a fresh stream after interruptions.
func (r *BidiReader) worker(ctx context.Context) {
	defer close(r.workerDone)
	policy := RecommendedResumePolicy{Limit: 5}
	start := time.Now()
	attempts := 0
	for {
		err := r.drain(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		if redirect, ok := apperror.AsInner[*BidiRedirectError](err); ok {
			// Absorb the redirect into the spec and reconnect right away.
			r.mu.Lock()
			if redirect.RoutingToken != "" {
				r.spec.RoutingToken = redirect.RoutingToken
			}
			if len(redirect.ReadHandle) > 0 {
				r.spec.ReadHandle = redirect.ReadHandle
			}
			r.mu.Unlock()
			slog.Debug("bidi stream redirected, reopening",
				"object", r.spec.Object, "routing_token", redirect.RoutingToken)
		} else {
			attempts++
			state := retry.State{Start: start, AttemptCount: attempts, Idempotent: true}
			if policy.OnResume(state, asAppError(err)) != retry.Continue {
				r.failAll(asAppError(err))
				return
			}
			slog.Debug("bidi stream interrupted, replaying active ranges",
				"object", r.spec.Object, "attempt", attempts, "error", err)
		}
		if err := r.reconnect(ctx); err != nil {
			r.failAll(asAppError(err))
			return
		}
	}
}

// drain processes responses until the stream ends or fails.
func (r *BidiReader) drain(ctx context.Context) error {
	for {
		r.mu.Lock()
		stream := r.stream
		r.mu.Unlock()
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		r.mu.Lock()
		if resp.Metadata != nil {
			r.metadata = resp.Metadata
		}
		if len(resp.ReadHandle) > 0 {
			r.spec.ReadHandle = resp.ReadHandle
		}
		r.mu.Unlock()
		for _, rd := range resp.Ranges {
			r.deliver(ctx, rd)
		}
		r.mu.Lock()
		idle := len(r.active) == 0 && r.closed
		r.mu.Unlock()
		if idle {
			return nil
		}
	}
}

// deliver forwards one chunk to its range receiver, verifying the
// per-chunk checksum.
func (r *BidiReader) deliver(ctx context.Context, rd BidiObjectRangeData) {
	r.mu.Lock()
	st, ok := r.active[rd.ReadID]
	r.mu.Unlock()
	if !ok {
		// Data for a range the application dropped; ignore.
		return
	}
	if len(rd.Data.Content) > 0 {
		if rd.Data.CRC32C != nil {
			if got := crc32cUpdate(0, rd.Data.Content); got != *rd.Data.CRC32C {
				r.closeRange(st, rangeChunk{
					err: apperror.Checksum(fmt.Sprintf(
						"crc32c mismatch on read_id %d at offset %d", rd.ReadID, st.offset)),
					done: true,
				})
				return
			}
		}
		st.offset += int64(len(rd.Data.Content))
		if st.remaining > 0 {
			st.remaining -= int64(len(rd.Data.Content))
		}
		select {
		case st.ch <- rangeChunk{data: rd.Data.Content}:
		case <-ctx.Done():
			return
		}
	}
	if rd.RangeEnd {
		r.closeRange(st, rangeChunk{done: true})
	}
}

func (r *BidiReader) closeRange(st *rangeState, final rangeChunk) {
	r.mu.Lock()
	_, ok := r.active[st.id]
	if ok {
		delete(r.active, st.id)
	}
	r.mu.Unlock()
	if ok {
		st.ch <- final
		close(st.ch)
	}
}

// reconnect opens a fresh stream and replays every active range, narrowed
// to the bytes not yet delivered.
func (r *BidiReader) reconnect(ctx context.Context) error {
	r.mu.Lock()
	spec := r.spec
	ranges := make([]BidiReadRange, 0, len(r.active))
	for _, st := range r.active {
		length := st.remaining
		if length < 0 {
			length = 0
		}
		ranges = append(ranges, BidiReadRange{
			ReadOffset: st.offset,
			ReadLength: length,
			ReadID:     st.id,
		})
	}
	r.mu.Unlock()

	stream, err := r.opener(ctx, &spec)
	if err != nil {
		return err
	}
	first := &BidiReadRequest{Spec: &spec, Ranges: ranges}
	if err := stream.Send(first); err != nil {
		return err
	}
	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()
	return nil
}

// failAll delivers the terminal error to every active range.
func (r *BidiReader) failAll(err *apperror.Error) {
	r.mu.Lock()
	states := make([]*rangeState, 0, len(r.active))
	for _, st := range r.active {
		states = append(states, st)
	}
	r.mu.Unlock()
	for _, st := range states {
		r.closeRange(st, rangeChunk{err: err, done: true})
	}
}

// Close tears down the stream and cancels the worker.
func (r *BidiReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stream := r.stream
	r.mu.Unlock()
	if stream != nil {
		_ = stream.CloseSend()
	}
	r.cancel()
	return nil
}

func asAppError(err error) *apperror.Error {
	if appErr, ok := apperror.AsInner[*apperror.Error](err); ok {
		return appErr
	}
	return apperror.TransportErr(err)
}
