package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBidiStream is a scripted stream: requests accumulate, responses are
// pushed by the test.
type fakeBidiStream struct {
	mu        sync.Mutex
	requests  []*BidiReadRequest
	responses chan fakeRecv
	closed    bool
}

type fakeRecv struct {
	resp *BidiReadResponse
	err  error
}

func newFakeBidiStream() *fakeBidiStream {
	return &fakeBidiStream{responses: make(chan fakeRecv, 32)}
}

func (f *fakeBidiStream) Send(req *BidiReadRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeBidiStream) Recv() (*BidiReadResponse, error) {
	r, ok := <-f.responses
	if !ok {
		return nil, context.Canceled
	}
	return r.resp, r.err
}

func (f *fakeBidiStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBidiStream) push(resp *BidiReadResponse) {
	f.responses <- fakeRecv{resp: resp}
}

func (f *fakeBidiStream) fail(err error) {
	f.responses <- fakeRecv{err: err}
}

func (f *fakeBidiStream) sentRanges() []BidiReadRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []BidiReadRange
	for _, req := range f.requests {
		out = append(out, req.Ranges...)
	}
	return out
}

func chunk(readID int64, data string, end bool) BidiObjectRangeData {
	crc := crc32cUpdate(0, []byte(data))
	return BidiObjectRangeData{
		Data:     BidiChecksummedData{Content: []byte(data), CRC32C: &crc},
		ReadID:   readID,
		RangeEnd: end,
	}
}

func collectRange(t *testing.T, rr *RangeReader) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []byte
	for {
		data, ok, err := rr.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return string(out)
		}
		out = append(out, data...)
	}
}

// TestBidiReader_InterleavedRanges verifies two ranges demultiplex by
// read_id, with data of one range staying in order.
func TestBidiReader_InterleavedRanges(t *testing.T) {
	stream := newFakeBidiStream()
	opener := func(ctx context.Context, spec *BidiReadObjectSpec) (BidiStream, error) {
		return stream, nil
	}
	reader, err := NewBidiReader(context.Background(),
		opener, BidiReadObjectSpec{Bucket: "b", Object: "o"})
	require.NoError(t, err)
	defer reader.Close()

	r1, err := reader.ReadRange(0, 10)
	require.NoError(t, err)
	r2, err := reader.ReadRange(100, 10)
	require.NoError(t, err)

	stream.push(&BidiReadResponse{
		Metadata: &Object{Bucket: "b", Name: "o"},
		Ranges: []BidiObjectRangeData{
			chunk(1, "aaaa", false),
			chunk(2, "zzzz", false),
		},
	})
	stream.push(&BidiReadResponse{
		Ranges: []BidiObjectRangeData{
			chunk(2, "yy", true),
			chunk(1, "bb", true),
		},
	})

	assert.Equal(t, "aaaabb", collectRange(t, r1))
	assert.Equal(t, "zzzzyy", collectRange(t, r2))
	require.NotNil(t, reader.Object())
	assert.Equal(t, "o", reader.Object().Name)

	// The stream carried the spec first, then one message per range.
	ranges := stream.sentRanges()
	require.Len(t, ranges, 2)
	assert.EqualValues(t, 1, ranges[0].ReadID)
	assert.EqualValues(t, 2, ranges[1].ReadID)
}

// TestBidiReader_RedirectReplay verifies redirects absorb the routing
// token and replay active ranges, narrowed by delivered bytes.
func TestBidiReader_RedirectReplay(t *testing.T) {
	first := newFakeBidiStream()
	second := newFakeBidiStream()
	var specs []BidiReadObjectSpec
	var mu sync.Mutex
	streams := []*fakeBidiStream{first, second}
	opener := func(ctx context.Context, spec *BidiReadObjectSpec) (BidiStream, error) {
		mu.Lock()
		defer mu.Unlock()
		specs = append(specs, *spec)
		s := streams[0]
		streams = streams[1:]
		return s, nil
	}

	reader, err := NewBidiReader(context.Background(),
		opener, BidiReadObjectSpec{Bucket: "b", Object: "o"})
	require.NoError(t, err)
	defer reader.Close()

	rr, err := reader.ReadRange(0, 10)
	require.NoError(t, err)

	// Four bytes arrive, then the server redirects.
	first.push(&BidiReadResponse{Ranges: []BidiObjectRangeData{chunk(1, "abcd", false)}})
	first.fail(&BidiRedirectError{RoutingToken: "rt-1", ReadHandle: []byte("h2")})

	// The replayed range resumes at offset 4 on the new stream.
	deadline := time.Now().Add(5 * time.Second)
	for {
		second.mu.Lock()
		n := len(second.requests)
		second.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no replay request on the second stream")
		}
		time.Sleep(time.Millisecond)
	}
	second.push(&BidiReadResponse{Ranges: []BidiObjectRangeData{chunk(1, "efghij", true)}})

	assert.Equal(t, "abcdefghij", collectRange(t, rr))

	mu.Lock()
	require.Len(t, specs, 2)
	assert.Empty(t, specs[0].RoutingToken)
	assert.Equal(t, "rt-1", specs[1].RoutingToken)
	assert.Equal(t, []byte("h2"), specs[1].ReadHandle)
	mu.Unlock()

	replayed := second.sentRanges()
	require.Len(t, replayed, 1)
	assert.EqualValues(t, 4, replayed[0].ReadOffset)
	assert.EqualValues(t, 6, replayed[0].ReadLength)
	assert.EqualValues(t, 1, replayed[0].ReadID)
}

// TestBidiReader_ChecksumMismatch verifies corrupted chunks fail the
// range.
func TestBidiReader_ChecksumMismatch(t *testing.T) {
	stream := newFakeBidiStream()
	opener := func(ctx context.Context, spec *BidiReadObjectSpec) (BidiStream, error) {
		return stream, nil
	}
	reader, err := NewBidiReader(context.Background(),
		opener, BidiReadObjectSpec{Bucket: "b", Object: "o"})
	require.NoError(t, err)
	defer reader.Close()

	rr, err := reader.ReadRange(0, 4)
	require.NoError(t, err)

	bad := uint32(12345)
	stream.push(&BidiReadResponse{Ranges: []BidiObjectRangeData{{
		Data:   BidiChecksummedData{Content: []byte("data"), CRC32C: &bad},
		ReadID: 1,
	}}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = rr.Next(ctx)
	require.Error(t, err)
}
