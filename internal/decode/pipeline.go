package decode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	// Registered formats for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/yomu-app/yomu/internal/model"
)

// slowDecodeWarnMs is the decode duration above which a warning is logged.
const slowDecodeWarnMs = 500

// Metrics counts pipeline activity.
type Metrics struct {
	Decodes       uint64  `json:"decodes"`
	Failures      uint64  `json:"failures"`
	Deduplicated  uint64  `json:"deduplicated"`
	TotalDecodeMs int64   `json:"total_decode_ms"`
	AvgDecodeMs   float64 `json:"avg_decode_ms"`
}

// Pipeline fetches raw page bytes from a PageSource and probes image
// dimensions to produce frames. Concurrent requests for the same page are
// collapsed into a single decode via singleflight.
type Pipeline struct {
	source PageSource
	group  singleflight.Group
	logger *log.Logger

	mu      sync.Mutex
	metrics Metrics
}

// NewPipeline creates a decode pipeline over source. logger may be nil.
func NewPipeline(source PageSource, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "", 0)
	}
	return &Pipeline{source: source, logger: logger}
}

// Decode fetches and decodes one page. Safe for concurrent use; duplicate
// in-flight requests for the same page share one decode.
func (p *Pipeline) Decode(ctx context.Context, page int) (*model.Frame, error) {
	v, err, shared := p.group.Do(strconv.Itoa(page), func() (any, error) {
		return p.decodeOnce(ctx, page)
	})
	if shared {
		p.mu.Lock()
		p.metrics.Deduplicated++
		p.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}
	return v.(*model.Frame), nil
}

func (p *Pipeline) decodeOnce(ctx context.Context, page int) (*model.Frame, error) {
	start := time.Now()

	data, err := p.source.ReadPage(ctx, page)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}

	elapsed := time.Since(start).Milliseconds()
	p.recordSuccess(elapsed)

	if elapsed > slowDecodeWarnMs {
		p.logger.Printf("%s WARN decode: slow_decode page=%d format=%s elapsed_ms=%d",
			time.Now().Format(time.RFC3339), page, format, elapsed)
	}

	return &model.Frame{
		PageIndex: page,
		Name:      p.source.PageName(page),
		Data:      data,
		Width:     cfg.Width,
		Height:    cfg.Height,
		DecodeMs:  elapsed,
	}, nil
}

func (p *Pipeline) recordSuccess(elapsedMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.Decodes++
	p.metrics.TotalDecodeMs += elapsedMs
	p.metrics.AvgDecodeMs = float64(p.metrics.TotalDecodeMs) / float64(p.metrics.Decodes)
}

func (p *Pipeline) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.Failures++
}

// Metrics returns a snapshot of the pipeline counters.
func (p *Pipeline) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}
