// cardtrace renders the business card scene, a grid of mirrored spheres
// spelling out initials over a checkerboard floor, to a 512x512 PPM image.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"cardtrace/camera"
	"cardtrace/checkpoint"
	"cardtrace/render"
	"cardtrace/rgbimage"
	"cardtrace/scene"
	"cardtrace/sink"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/profiler"
	"contrib.go.opencensus.io/exporter/stackdriver"
	cloudtrace "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/golang/glog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/term"
	"golang.org/x/time/rate"
)

var (
	output   = flag.String("output", "-", "Where to write the PPM image: -, a local path, gs://bucket/object, or s3://bucket/key")
	seed     = flag.Int64("seed", 0, "Random seed.  Zero means derive one from the clock")
	samples  = flag.Int("samples", render.DefaultSamplesPerPixel, "Samples per pixel")
	workers  = flag.Int("workers", runtime.NumCPU(), "Number of rows rendered concurrently")
	maxDepth = flag.Int("max-depth", 0, "Maximum number of mirror bounces to follow.  Zero means unbounded")

	checkpointDir = flag.String("checkpoint-dir", "", "Directory for the finished-row checkpoint.  Empty disables checkpointing")
	resume        = flag.Bool("resume", false, "Should we pick up the render stored in -checkpoint-dir?")

	previewFile  = flag.String("preview-file", "", "Where to write a PNG thumbnail, in the same forms as -output.  Empty disables the preview")
	previewWidth = flag.Uint("preview-width", 128, "Thumbnail width in pixels")

	s3Region           = flag.String("s3-region", "", "AWS region for s3:// destinations.  If not specified, the AWS SDK default chain is used")
	s3Endpoint         = flag.String("s3-endpoint", "", "Override endpoint for s3:// destinations, for S3-compatible stores")
	gcsCredentialsFile = flag.String("gcs-credentials-file", "", "Service account key for gs:// destinations.  If not specified, Application Default Credentials are used")

	monitoring           = flag.Bool("monitoring", false, "Enable trace export?")
	monitoringProject    = flag.String("monitoring-project", "", "Override project used for monitoring integration.  If not specified, the project associated with Application Default Credentials is used.")
	monitoringTraceRatio = flag.Float64("monitoring-trace-ratio", 0.01, "What ratio of traces should be exported?")
	enableMetrics        = flag.Bool("enable-metrics", false, "Export render metrics to Cloud Monitoring?")
	enableProfiling      = flag.Bool("enable-profiling", false, "Enable Cloud Profiler?")

	cpuprofile = flag.String("cpu-profile", "", "write cpu profile to `file`")
	memprofile = flag.String("mem-profile", "", "write memory profile to `file`")
)

func main() {
	flag.Parse()

	glog.CopyStandardLogTo("INFO")
	defer glog.Flush()

	glog.Infof("flags:")
	glog.Infof("output: %q", *output)
	glog.Infof("seed: %d", *seed)
	glog.Infof("samples: %d", *samples)
	glog.Infof("workers: %d", *workers)
	glog.Infof("max-depth: %d", *maxDepth)
	glog.Infof("checkpoint-dir: %q", *checkpointDir)
	glog.Infof("resume: %v", *resume)
	glog.Infof("preview-file: %q", *previewFile)
	glog.Infof("preview-width: %d", *previewWidth)
	glog.Infof("s3-region: %q", *s3Region)
	glog.Infof("s3-endpoint: %q", *s3Endpoint)
	glog.Infof("gcs-credentials-file: %q", *gcsCredentialsFile)
	glog.Infof("monitoring: %v", *monitoring)
	glog.Infof("monitoring-project: %q", *monitoringProject)
	glog.Infof("monitoring-trace-ratio: %v", *monitoringTraceRatio)
	glog.Infof("enable-metrics: %v", *enableMetrics)
	glog.Infof("enable-profiling: %v", *enableProfiling)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signalCh
		glog.Warningf("Received %v, stopping after in-flight rows", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		glog.Fatalf("Error: %v", err)
	}
}

// run sets up monitoring and profiling around do.  Every exporter and
// profile it starts is shut down before it returns, error or not.
func run(ctx context.Context) error {
	project := *monitoringProject
	if project == "" && (*monitoring || *enableMetrics || *enableProfiling) && metadata.OnGCE() {
		id, err := metadata.ProjectID()
		if err != nil {
			return fmt.Errorf("while fetching project from metadata server: %w", err)
		}
		project = id

		sa, err := metadata.Email("")
		if err != nil {
			return fmt.Errorf("while fetching service account: %w", err)
		}
		glog.Infof("serviceaccount: %s", sa)
	}

	// Cloud Profiler initialization, best done as early as possible.
	if *enableProfiling {
		if err := profiler.Start(profiler.Config{
			Service:        "cardtrace",
			ServiceVersion: "0.0.1",
			ProjectID:      project,
		}); err != nil {
			return fmt.Errorf("while initializing profiler: %w", err)
		}
	}

	if *monitoring {
		traceOpts := []cloudtrace.Option{}
		if project != "" {
			traceOpts = append(traceOpts, cloudtrace.WithProjectID(project))
		}

		_, traceShutdown, err := cloudtrace.InstallNewPipeline(traceOpts, sdktrace.WithSampler(sdktrace.TraceIDRatioBased(*monitoringTraceRatio)))
		if err != nil {
			return fmt.Errorf("while installing Cloud Trace OpenTelemetry trace pipeline: %w", err)
		}
		defer traceShutdown()
	}

	if *enableMetrics {
		if err := render.RegisterViews(); err != nil {
			return err
		}

		exporter, err := stackdriver.NewExporter(stackdriver.Options{
			ProjectID:         project,
			MetricPrefix:      "cardtrace",
			ReportingInterval: 60 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("while initializing metrics: %w", err)
		}
		if err := exporter.StartMetricsExporter(); err != nil {
			return fmt.Errorf("while starting metrics exporter: %w", err)
		}
		defer exporter.Flush()
		defer exporter.StopMetricsExporter()
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	if err := do(ctx); err != nil {
		return err
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			return fmt.Errorf("could not create memory profile: %w", err)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("could not write memory profile: %w", err)
		}
	}

	return nil
}

func do(ctx context.Context) error {
	// Catch a bad destination before spending minutes rendering.
	if _, err := sink.ParseDestination(*output); err != nil {
		return fmt.Errorf("while parsing -output: %w", err)
	}
	if *previewFile != "" {
		if _, err := sink.ParseDestination(*previewFile); err != nil {
			return fmt.Errorf("while parsing -preview-file: %w", err)
		}
	}

	if *resume && *checkpointDir == "" {
		return fmt.Errorf("resumption requested, but no -checkpoint-dir given")
	}

	runSeed := *seed
	if runSeed == 0 && *resume {
		stored, err := checkpoint.ReadManifest(*checkpointDir)
		if err != nil {
			return fmt.Errorf("while reading checkpoint manifest: %w", err)
		}
		if stored != nil {
			runSeed, err = checkpoint.ManifestSeed(stored)
			if err != nil {
				return err
			}
			glog.Infof("Resuming with seed %d from the checkpoint", runSeed)
		}
	}
	if runSeed == 0 {
		runSeed = time.Now().UnixNano()
		glog.Infof("Derived seed %d from the clock; pass -seed=%d to reproduce this render", runSeed, runSeed)
	}

	s := scene.NewCardScene()
	s.MaxDepth = *maxDepth

	cam := camera.NewCardCamera()
	glog.V(1).Infof("camera: focus=%v forward=%v horiz=%v vert=%v plane-offset=%v", cam.Focus, cam.Forward, cam.Horiz, cam.Vert, cam.PlaneOffset)
	glog.V(1).Infof("scene: %d spheres", len(s.Spheres))

	img := rgbimage.New(camera.ImageSize, camera.ImageSize)

	options := &render.RenderOptions{
		SamplesPerPixel: *samples,
		Workers:         *workers,
		Seed:            runSeed,
	}

	if *checkpointDir != "" {
		manifest, err := checkpoint.NewManifest(runSeed, *samples, *maxDepth, img.RowSize, img.ColSize)
		if err != nil {
			return err
		}

		store, err := checkpoint.Open(*checkpointDir, manifest, *resume)
		if err != nil {
			return fmt.Errorf("while opening checkpoint: %w", err)
		}
		defer store.Close()

		done, err := store.Rows()
		if err != nil {
			return fmt.Errorf("while listing checkpointed rows: %w", err)
		}
		glog.Infof("Checkpoint holds %d of %d rows", len(done), img.RowSize)

		options.Rows = store
	}

	start := time.Now()
	if err := render.RenderScene(ctx, s, cam, options, img, newProgressFunction()); err != nil {
		return fmt.Errorf("while rendering: %w", err)
	}
	glog.Infof("Rendered %dx%d at %d samples per pixel in %v, mean luminance %.2f", img.ColSize, img.RowSize, *samples, time.Since(start), img.MeanLuminance())

	sinkOpts := &sink.Options{
		ContentType:        sink.PPMContentType,
		GCSCredentialsFile: *gcsCredentialsFile,
		S3Region:           *s3Region,
		S3Endpoint:         *s3Endpoint,
	}

	out, err := sink.Open(ctx, *output, sinkOpts)
	if err != nil {
		return fmt.Errorf("while opening output: %w", err)
	}
	if err := rgbimage.WritePPM(img, out); err != nil {
		out.Close()
		return fmt.Errorf("while writing image: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("while closing output: %w", err)
	}

	if *previewFile != "" {
		sinkOpts.ContentType = sink.PNGContentType
		pw, err := sink.Open(ctx, *previewFile, sinkOpts)
		if err != nil {
			return fmt.Errorf("while opening preview: %w", err)
		}
		if err := sink.WritePreview(img, pw, *previewWidth); err != nil {
			pw.Close()
			return fmt.Errorf("while writing preview: %w", err)
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("while closing preview: %w", err)
		}
	}

	return nil
}

// newProgressFunction redraws a single status line when stderr is a terminal,
// and logs at most every ten seconds otherwise.
func newProgressFunction() render.ProgressFunction {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return func(cur, tot int) {
			fmt.Fprintf(os.Stderr, "\r%d/%d %d%%", cur, tot, 100*cur/tot)
			if cur == tot {
				fmt.Fprintf(os.Stderr, "\n")
			}
		}
	}

	limiter := rate.NewLimiter(rate.Every(10*time.Second), 1)
	return func(cur, tot int) {
		if cur == tot || limiter.Allow() {
			glog.Infof("Progress: %d/%d rows (%d%%)", cur, tot, 100*cur/tot)
		}
	}
}
