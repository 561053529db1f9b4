// Command avdecode opens media inputs and decodes them.
//
// Usage:
//
//	avdecode probe [-config file] <locator>
//	avdecode decode [-config file] [-o out.raw] <locator>
//	avdecode serve [-config file] [-addr :8080]
//
// Locators are file paths or srt://, rtmp://, rtp:// and testsrc:// URLs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/thesyncim/av"
	"github.com/thesyncim/av/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "probe":
		err = runProbe(ctx, os.Args[2:])
	case "decode":
		err = runDecode(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "avdecode: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "avdecode: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage:
  avdecode probe  [-config file] <locator>
  avdecode decode [-config file] [-o file] <locator>
  avdecode serve  [-config file] [-addr host:port]
`)
}

// loadConfig reads the config file when one is given, otherwise defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().Timestamp().Logger()
}

func runProbe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("probe needs exactly one locator")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)
	pcfg, err := cfg.Pipeline(&log)
	if err != nil {
		return err
	}
	pcfg.Open.Logger = &log
	if err := av.Init(); err != nil {
		log.Warn().Err(err).Msg("native libraries")
	}

	sess, err := av.Open(ctx, fs.Arg(0), pcfg.Open)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := struct {
		Format     string            `json:"format"`
		DurationMs int64             `json:"duration_ms,omitempty"`
		Seekable   bool              `json:"seekable"`
		Metadata   map[string]string `json:"metadata,omitempty"`
		Streams    []streamInfo      `json:"streams"`
		Runtime    runtimeInfo       `json:"runtime"`
	}{
		Format:   sess.Format(),
		Seekable: sess.Seekable(),
		Metadata: sess.Metadata(),
		Runtime:  describeRuntime(),
	}
	if d, ok := sess.Duration(); ok {
		out.DurationMs = d.Milliseconds()
	}
	for _, st := range sess.Streams() {
		out.Streams = append(out.Streams, describeStream(st))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runDecode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	output := fs.String("o", "", "Write raw frame data to this file (- for stdout)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("decode needs exactly one locator")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)
	pcfg, err := cfg.Pipeline(&log)
	if err != nil {
		return err
	}

	p, err := av.NewPipeline(ctx, fs.Arg(0), pcfg)
	if err != nil {
		return err
	}
	defer p.Close()

	var w io.Writer = io.Discard
	switch *output {
	case "":
	case "-":
		w = os.Stdout
	default:
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	for _, st := range p.Streams() {
		log.Info().Int("stream", st.Index).Stringer("type", st.Type).Stringer("codec", st.Codec).Msg("decoding")
	}

	start := time.Now()
	n, err := drain(ctx, p, w)
	stats := p.Stats()
	log.Info().
		Int("frames", n).
		Uint64("packets", stats.PacketsRead).
		Uint64("dropped", stats.PacketsDropped).
		Uint64("retries", stats.Retries).
		Dur("elapsed", time.Since(start)).
		Msg("decode finished")
	return err
}

// drain writes every frame's planes to w until end of stream.
func drain(ctx context.Context, p *av.Pipeline, w io.Writer) (int, error) {
	n := 0
	for {
		f, err := p.Next(ctx)
		if errors.Is(err, av.ErrEndOfStream) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		for _, plane := range f.Data {
			if _, err := w.Write(plane); err != nil {
				return n, err
			}
		}
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	addr := fs.String("addr", "", "Listen address (overrides server.addr)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	log := newLogger(cfg.LogLevel)

	srv := newServer(ctx, cfg, log)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Strs("formats", av.Formats()).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		srv.closeAll()
		log.Info().Msg("server stopped")
		return err
	})
	return g.Wait()
}
