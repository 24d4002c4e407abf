package decode

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource serves pages from memory, optionally stalling reads so tests can
// force overlapping requests.
type memSource struct {
	pages [][]byte
	names []string
	stall chan struct{} // if non-nil, ReadPage waits for it

	mu    sync.Mutex
	reads int
}

func (s *memSource) TotalPages() int { return len(s.pages) }

func (s *memSource) PageName(page int) string {
	if page < 0 || page >= len(s.names) {
		return ""
	}
	return s.names[page]
}

func (s *memSource) ReadPage(ctx context.Context, page int) ([]byte, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()

	if s.stall != nil {
		select {
		case <-s.stall:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if page < 0 || page >= len(s.pages) {
		return nil, image.ErrFormat
	}
	return s.pages[page], nil
}

func (s *memSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPipeline_DecodeProducesFrame(t *testing.T) {
	src := &memSource{
		pages: [][]byte{pngBytes(t, 3, 2)},
		names: []string{"p1.png"},
	}
	p := NewPipeline(src, nil)

	frame, err := p.Decode(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 0, frame.PageIndex)
	assert.Equal(t, "p1.png", frame.Name)
	assert.Equal(t, 3, frame.Width)
	assert.Equal(t, 2, frame.Height)
	assert.Equal(t, src.pages[0], frame.Data)

	m := p.Metrics()
	assert.Equal(t, uint64(1), m.Decodes)
	assert.Equal(t, uint64(0), m.Failures)
}

func TestPipeline_NonImageDataFails(t *testing.T) {
	src := &memSource{
		pages: [][]byte{[]byte("not an image")},
		names: []string{"p1.png"},
	}
	p := NewPipeline(src, nil)

	_, err := p.Decode(context.Background(), 0)
	assert.Error(t, err)
	assert.Equal(t, uint64(1), p.Metrics().Failures)
}

func TestPipeline_SourceErrorFails(t *testing.T) {
	src := &memSource{
		pages: [][]byte{pngBytes(t, 1, 1)},
		names: []string{"p1.png"},
	}
	p := NewPipeline(src, nil)

	_, err := p.Decode(context.Background(), 7)
	assert.Error(t, err)
	assert.Equal(t, uint64(1), p.Metrics().Failures)
}

func TestPipeline_ConcurrentRequestsShareOneDecode(t *testing.T) {
	src := &memSource{
		pages: [][]byte{pngBytes(t, 1, 1)},
		names: []string{"p1.png"},
		stall: make(chan struct{}),
	}
	p := NewPipeline(src, nil)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Decode(context.Background(), 0)
		}(i)
	}

	// Wait until the first caller is inside ReadPage, give the rest time to
	// pile onto the in-flight call, then release it.
	waitFor := time.Now().Add(2 * time.Second)
	for src.readCount() == 0 {
		if time.Now().After(waitFor) {
			t.Fatal("first read never started")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	close(src.stall)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, 1, src.readCount(), "the page must be fetched exactly once")
	m := p.Metrics()
	assert.Equal(t, uint64(1), m.Decodes)
	assert.Positive(t, m.Deduplicated)
}
