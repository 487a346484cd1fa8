package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"github.com/vidforge/composer-api/api"
	"github.com/vidforge/composer-api/config"
	clog "github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
	"github.com/vidforge/composer-api/pipeline"
	"github.com/vidforge/composer-api/pprof"
	"github.com/vidforge/composer-api/scope"
	"golang.org/x/sync/errgroup"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("composer-api", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	config.AddrFlag(fs, &cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind for external-facing Composer HTTP handling")
	fs.IntVar(&cli.PromPort, "prom-port", 2112, "Prometheus metrics listen port")
	fs.IntVar(&cli.PprofPort, "pprof-port", 6061, "Pprof listen port")

	// composer-api parameters
	fs.StringVar(&cli.APIToken, "api-token", "IAmAuthorized", "Auth header value for API access")

	// download settings
	fs.IntVar(&cli.DownloadMaxConcurrent, "download-max-concurrent", 10, "Maximum number of assets downloaded in parallel")
	fs.DurationVar(&cli.DownloadTimeout, "download-timeout", 30*time.Second, "Timeout for a single asset download attempt")
	fs.Int64Var(&cli.DownloadMaxBytes, "download-max-bytes", 512*1024*1024, "Maximum size of a single downloaded asset")

	// output video settings
	fs.IntVar(&cli.VideoWidth, "video-width", 1920, "Output video width in pixels")
	fs.IntVar(&cli.VideoHeight, "video-height", 1080, "Output video height in pixels")
	fs.IntVar(&cli.VideoFPS, "video-fps", 24, "Output video frame rate")
	fs.StringVar(&cli.VideoCodec, "video-codec", "libx264", "Output video codec")
	fs.StringVar(&cli.VideoPixelFormat, "video-pixel-format", "yuv420p", "Output video pixel format")
	fs.Float64Var(&cli.VideoImageDuration, "video-image-duration", 4, "Seconds a still image is shown when the segment has no voice-over")

	// output audio settings
	fs.StringVar(&cli.AudioCodec, "audio-codec", "aac", "Output audio codec")
	fs.IntVar(&cli.AudioSampleRate, "audio-sample-rate", 44100, "Output audio sample rate")
	fs.IntVar(&cli.AudioChannels, "audio-channels", 2, "Output audio channel count")
	fs.StringVar(&cli.AudioBitrate, "audio-bitrate", "192k", "Output audio bitrate")
	fs.Float64Var(&cli.AudioBGMVolume, "audio-bgm-volume", 0.2, "Background music volume when neither the job nor auto-ducking decides it")
	config.InvertedBoolFlag(fs, &cli.AudioBGMAutoDuck, "audio-bgm-auto-duck", true, "Pick the background music volume from the measured loudness of both tracks")
	fs.BoolVar(&cli.AudioBGMLoop, "audio-bgm-loop", false, "Loop background music shorter than the video")

	// text overlay settings
	fs.StringVar(&cli.TextFont, "text-font", "Arial", "Default font for text overlays")
	fs.IntVar(&cli.TextFontSize, "text-font-size", 48, "Default font size for text overlays")
	fs.StringVar(&cli.TextFontColor, "text-font-color", "white", "Default font color for text overlays")
	fs.IntVar(&cli.TextMaxSpanChars, "text-max-span-chars", 35, "Maximum characters per aligned text span")
	fs.IntVar(&cli.TextMinSpanWords, "text-min-span-words", 2, "Minimum words per aligned text span")
	fs.IntVar(&cli.TextMaxSpanWords, "text-max-span-words", 7, "Maximum words per aligned text span")

	// renderer settings
	fs.IntVar(&cli.MaxConcurrentSegments, "max-concurrent-segments", 3, "Number of segments rendered in parallel")
	fs.BoolVar(&cli.StrictMode, "strict-mode", false, "Fail the whole job when any single segment fails")
	config.CommaSliceFlag(fs, &cli.ProbeIgnoreErrMessages, "probe-ignore-err-messages", []string{}, "Comma delimited list of ffprobe error message substrings to tolerate")

	// forced aligner settings
	config.URLVarFlag(fs, &cli.AlignerURL, "aligner-url", "", "URL of the forced alignment service. Empty disables alignment and text overlays fall back to uniform timing")
	fs.DurationVar(&cli.AlignerTimeout, "aligner-timeout", 300*time.Second, "Timeout for forced alignment requests")
	fs.Float64Var(&cli.AlignerMinSuccessRatio, "aligner-min-success-ratio", 0.8, "Minimum ratio of aligned words below which a segment falls back to uniform timing")

	// optional LLM settings
	fs.BoolVar(&cli.AIEnabled, "ai", false, "Enable LLM assistance for image search keywords")
	config.URLVarFlag(fs, &cli.AIEndpoint, "ai-endpoint", "", "OpenAI-compatible API endpoint")
	fs.StringVar(&cli.AIModel, "ai-model", "gpt-4o-mini", "Model requested from the LLM endpoint")
	fs.DurationVar(&cli.AITimeout, "ai-timeout", 60*time.Second, "Timeout for LLM requests")

	// image substitution settings
	config.URLVarFlag(fs, &cli.ImageSearchURL, "image-search-url", "", "URL of the stock image search API. Empty disables image replacement")
	fs.StringVar(&cli.ImageSearchKey, "image-search-key", "", "API key for the stock image search API")
	fs.IntVar(&cli.ImageMinWidth, "image-min-width", 800, "Minimum acceptable width of a segment image")
	fs.IntVar(&cli.ImageMinHeight, "image-min-height", 600, "Minimum acceptable height of a segment image")
	config.CommaSliceFlag(fs, &cli.ImageFallbackKeywords, "image-fallback-keywords", []string{"abstract", "background"}, "Comma delimited keywords tried when a job has none for image search")

	// object storage settings
	fs.StringVar(&cli.StorageOutputURL, "storage-output-url", "", "Object store URL for final videos. Empty keeps the file local and returns its path")
	fs.StringVar(&cli.StorageKeyPattern, "storage-key-pattern", "videos/{request_id}/{timestamp}.mp4", "Storage key template for final videos")
	config.CommaMapFlag(fs, &cli.StorageMetadata, "storage-metadata", map[string]string{}, "Comma delimited key=value metadata attached to uploaded videos")

	// temp file lifecycle settings
	fs.Uint64Var(&cli.CleanupRetryAttempts, "cleanup-retry-attempts", 3, "Times to retry removing a request's temporary files")
	fs.DurationVar(&cli.CleanupRetryDelay, "cleanup-retry-delay", 2*time.Second, "Delay between temporary file removal retries")
	fs.DurationVar(&cli.TempMaxAge, "temp-max-age", 6*time.Hour, "Age past which leftover temporary directories are swept at boot")

	// special parameters
	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("COMPOSER_API"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("composer-api version: %s\n", config.Version)
		return
	}

	if *verbosity != "" {
		err = vFlag.Value.Set(*verbosity)
		if err != nil {
			glog.Fatal(err)
		}
	}

	if swept, err := scope.SweepAged(os.TempDir(), cli.TempMaxAge); err != nil {
		glog.Warningf("error sweeping aged temporary directories: %v", err)
	} else if swept > 0 {
		clog.LogNoRequestID("Swept aged temporary directories", "count", swept)
	}

	coordinator := pipeline.NewCoordinator(&cli)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli, coordinator)
	})

	group.Go(func() error {
		return metrics.ListenAndServe(cli.PromPort)
	})

	group.Go(func() error {
		return pprof.ListenAndServe(cli.PprofPort)
	})

	err = group.Wait()
	glog.Infof("Composer API stopped err=%s", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case s := <-c:
			log.Default().Printf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
