package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	rtmp "github.com/torresjeff/rtmp-publisher"
	"github.com/torresjeff/rtmp-publisher/config"
	"github.com/torresjeff/rtmp-publisher/internal/ingest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// unpublishGrace is how long the session keeps running after the input ended so that the unpublish commands
// reach the server, unless it confirms earlier.
const unpublishGrace = time.Second

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger.Sugar()); err != nil && errors.Cause(err) != context.Canceled {
		logger.Sugar().Errorf("publish: %+v", err)
		logger.Sync()
		os.Exit(1)
	}
}

// loadConfig merges, in increasing priority, the defaults, the YAML file, the environment and the flags.
func loadConfig(opts *cliConfig) (*config.Config, error) {
	if err := config.LoadEnv(opts.envFile); err != nil {
		return nil, err
	}
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if opts.url != "" {
		cfg.URL = opts.url
	}
	if opts.streamKey != "" {
		cfg.StreamKey = opts.streamKey
	}
	if opts.logLevel != "" {
		cfg.Log.Level = strings.ToLower(opts.logLevel)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.Level)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// openSource picks the demuxer from the file extension, or from the first byte when the extension is unknown.
func openSource(path string, logger *zap.SugaredLogger) (ingest.Source, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open input")
	}
	var src ingest.Source
	if isFLV(path, f) {
		var flvSrc *ingest.FLVSource
		if flvSrc, err = ingest.NewFLVSource(f, logger); err == nil {
			logger.Debugf("flv header: video %v, audio %v", flvSrc.HasVideo(), flvSrc.HasAudio())
			src = flvSrc
		}
	} else {
		src, err = ingest.NewTSSource(f, logger)
	}
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return src, f, nil
}

func isFLV(path string, f *os.File) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flv":
		return true
	case ".ts", ".m2ts", ".mts":
		return false
	}
	b := make([]byte, 1)
	n, _ := f.ReadAt(b, 0)
	return n == 1 && b[0] == 'F'
}

func run(ctx context.Context, cfg *config.Config, opts *cliConfig, logger *zap.SugaredLogger) error {
	client, err := rtmp.NewClient(cfg, logger)
	if err != nil {
		return err
	}

	src, file, err := openSource(opts.input, logger)
	if err != nil {
		return err
	}
	src, metadata, err := ingest.Metadata(src)
	if err != nil {
		file.Close()
		return err
	}
	logger.Infof("input %s: %v", opts.input, metadata)

	var dump *os.File
	if opts.dump != "" {
		if dump, err = os.Create(opts.dump); err != nil {
			file.Close()
			return errors.Wrap(err, "create dump")
		}
		defer dump.Close()
	}
	var dumpWriter io.Writer
	if dump != nil {
		dumpWriter = dump
	}
	p, err := newPublisher(client.Stream(), logger, opts.realtime, dumpWriter)
	if err != nil {
		file.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := make(chan struct{}, 1)
	stream := client.Stream()
	stream.OnPublishStart = func() {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	terminal := make(chan rtmp.Event, 1)
	unpublished := make(chan struct{}, 1)
	client.OnEvent = eventHandler(logger, cancel, terminal, unpublished)
	if err := stream.SetMetadata(metadata); err != nil {
		file.Close()
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	select {
	case <-started:
	case <-ctx.Done():
		file.Close()
		<-done
		return terminalError(terminal, ctx.Err())
	}
	logger.Infof("publishing %q", client.StreamKey())

	for {
		err = p.publish(ctx, src)
		src.Close()
		file.Close()
		if err != nil || !opts.loop {
			break
		}
		p.rewind()
		logger.Infof("looping %s", opts.input)
		if src, file, err = openSource(opts.input, logger); err != nil {
			break
		}
	}
	if err != nil {
		cancel()
		<-done
		return terminalError(terminal, err)
	}

	logger.Infof("input ended after %v", p.last)
	stream.Publish("")
	select {
	case <-unpublished:
	case <-time.After(unpublishGrace):
	case <-ctx.Done():
	}
	cancel()
	<-done
	return nil
}

// eventHandler stops the run on the terminal event of the session or when the server refuses the stream name, and
// signals unpublished once the server confirms the end of publishing.
func eventHandler(logger *zap.SugaredLogger, cancel context.CancelFunc, terminal chan<- rtmp.Event, unpublished chan<- struct{}) func(rtmp.Event) {
	return func(event rtmp.Event) {
		logger.Debugf("event %+v", event)
		switch {
		case event.Terminal(), event.Code == rtmp.CodePublishBadName:
			select {
			case terminal <- event:
			default:
			}
			cancel()
		case event.Code == rtmp.CodeUnpublishSuccess:
			select {
			case unpublished <- struct{}{}:
			default:
			}
		}
	}
}

// terminalError prefers the terminal event of the session over err, which is then only a consequence.
func terminalError(terminal <-chan rtmp.Event, err error) error {
	select {
	case event := <-terminal:
		if event.Err != nil {
			return errors.Wrap(event.Err, event.Code)
		}
		return errors.Errorf("%s: %s", event.Code, event.Description)
	default:
		return err
	}
}
