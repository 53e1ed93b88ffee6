// Package render drives the per-pixel Monte Carlo loop over a frame.
package render

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"cardtrace/camera"
	"cardtrace/rgbimage"
	"cardtrace/scene"
	"cardtrace/vmath/vec3"

	"github.com/golang/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultSamplesPerPixel = 64

	// Every pixel starts from a dim gray floor, and each sample is weighted
	// by sampleWeight.
	baseLevel    = 13.0
	sampleWeight = 3.5
)

// RowStore persists finished rows so that an interrupted render can pick up
// where it left off.  Implementations must be safe for concurrent use.
type RowStore interface {
	// LoadRow returns the stored bytes of row, and false if the row has not
	// been stored.
	LoadRow(row int) ([]byte, bool, error)
	SaveRow(row int, pix []byte) error
}

type RenderOptions struct {
	// Zero means DefaultSamplesPerPixel.
	SamplesPerPixel int

	// Zero means runtime.NumCPU().
	Workers int

	Seed int64

	// RowSrc and RowLim select a band of output rows to render.  A zero
	// RowLim means the whole image.
	RowSrc int
	RowLim int

	// Optional.
	Rows RowStore
}

// ProgressFunction receives the number of rows finished so far and the number
// of rows in the band.
type ProgressFunction func(int, int)

// RowSeed mixes the run seed with a row index.  Each row draws from its own
// generator, so output doesn't depend on scheduling.
func RowSeed(seed int64, row int) int64 {
	z := uint64(seed) + uint64(row+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}

type rowWorker struct {
	rng             *rand.Rand
	samplesPerPixel int

	// These are the dimensions of the overall image, not just the row.
	imgRows int
	imgCols int

	row int

	camera camera.Camera
	scene  *scene.Scene
}

func (w *rowWorker) Render(ctx context.Context) (*rgbimage.Image, error) {
	out := rgbimage.New(1, w.imgCols)

	for cc := 0; cc < w.imgCols; cc++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		accum := vec3.T{baseLevel, baseLevel, baseLevel}
		for cs := 0; cs < w.samplesPerPixel; cs++ {
			query := w.camera.ImageToRay(w.row, w.imgRows, cc, w.imgCols, w.rng)
			sample := w.scene.SampleRay(query, w.rng, 0)
			if glog.V(4) {
				glog.Infof("row=%d col=%d sample=%d point=%v slope=%v value=%v", w.row, cc, cs, query.Point, query.Slope, sample)
			}
			accum = vec3.AddVV(accum, vec3.MulVS(sample, sampleWeight))
		}

		out.Set(0, cc, accum)
	}

	return out, nil
}

// RenderScene fills rows [RowSrc, RowLim) of img.  img must already be sized
// to the full frame.
func RenderScene(ctx context.Context, s *scene.Scene, cam camera.Camera, options *RenderOptions, img *rgbimage.Image, progressFunction ProgressFunction) error {
	tracer := otel.Tracer("cardtrace/render")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "render.RenderScene")
	defer span.End()

	if err := renderScene(ctx, s, cam, options, img, progressFunction); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func renderScene(ctx context.Context, s *scene.Scene, cam camera.Camera, options *RenderOptions, img *rgbimage.Image, progressFunction ProgressFunction) error {
	samplesPerPixel := options.SamplesPerPixel
	if samplesPerPixel == 0 {
		samplesPerPixel = DefaultSamplesPerPixel
	}
	if samplesPerPixel < 0 {
		return fmt.Errorf("samples per pixel must be positive, got %d", samplesPerPixel)
	}

	workers := options.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	rowSrc, rowLim := options.RowSrc, options.RowLim
	if rowLim == 0 {
		rowLim = img.RowSize
	}
	if rowSrc < 0 || rowLim > img.RowSize || rowSrc >= rowLim {
		return fmt.Errorf("bad row band [%d, %d) for an image with %d rows", rowSrc, rowLim, img.RowSize)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("seed", options.Seed),
		attribute.Int("samples_per_pixel", samplesPerPixel),
		attribute.Int("workers", workers),
		attribute.Int("row_src", rowSrc),
		attribute.Int("row_lim", rowLim),
	)

	totalRows := rowLim - rowSrc
	curProgress := 0

	// progressMutex locks both curProgress and img.
	progressMutex := sync.Mutex{}
	finishRow := func(row int, pix []byte) {
		progressMutex.Lock()
		defer progressMutex.Unlock()

		img.Paste(&rgbimage.Image{RowSize: 1, ColSize: img.ColSize, Pix: pix}, row, 0)
		curProgress++
		if progressFunction != nil {
			progressFunction(curProgress, totalRows)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(workers))

	var scheduleErr error
	for row := rowSrc; row < rowLim; row++ {
		row := row

		if err := ctx.Err(); err != nil {
			scheduleErr = err
			break
		}

		if options.Rows != nil {
			pix, ok, err := options.Rows.LoadRow(row)
			if err != nil {
				scheduleErr = fmt.Errorf("while loading row %d: %w", row, err)
				break
			}
			if ok {
				if len(pix) != img.ColSize*3 {
					scheduleErr = fmt.Errorf("stored row %d has %d bytes, want %d", row, len(pix), img.ColSize*3)
					break
				}
				recordRow(ctx, sourceCheckpoint)
				finishRow(row, pix)
				continue
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			scheduleErr = fmt.Errorf("while acquiring concurrency limiter semaphore: %w", err)
			break
		}

		eg.Go(func() error {
			defer sem.Release(1)
			if err := renderRow(ctx, s, cam, options, samplesPerPixel, img, row, finishRow); err != nil {
				return fmt.Errorf("while rendering row %d: %w", row, err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("while waiting for completion of errgroup: %w", err)
	}
	if scheduleErr != nil {
		return scheduleErr
	}

	return nil
}

func renderRow(ctx context.Context, s *scene.Scene, cam camera.Camera, options *RenderOptions, samplesPerPixel int, img *rgbimage.Image, row int, finishRow func(int, []byte)) error {
	tracer := otel.Tracer("cardtrace/render")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "render.row")
	defer span.End()
	span.SetAttributes(attribute.Int("row", row))

	start := time.Now()

	worker := &rowWorker{
		rng:             rand.New(rand.NewSource(RowSeed(options.Seed, row))),
		samplesPerPixel: samplesPerPixel,
		imgRows:         img.RowSize,
		imgCols:         img.ColSize,
		row:             row,
		camera:          cam,
		scene:           s,
	}

	out, err := worker.Render(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if options.Rows != nil {
		if err := options.Rows.SaveRow(row, out.Pix); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("while saving row: %w", err)
		}
	}

	elapsed := time.Since(start)
	glog.V(1).Infof("Rendered row %d in %v", row, elapsed)
	recordRow(ctx, sourceRendered)
	recordRendered(ctx, samplesPerPixel*img.ColSize, elapsed)

	finishRow(row, out.Pix)
	return nil
}
