// Command hwtutor runs a live tutoring session from the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"hwtutor/internal/bootstrap"
	"hwtutor/internal/credential"
	"hwtutor/internal/domain"
)

func main() {
	imagePath := flag.String("image", "", "homework photo to analyse before the session")
	mimeType := flag.String("mime", "", "MIME type of the photo (default: from extension)")
	illustrationOut := flag.String("illustration", "", "write a generated illustration to this file")
	videoOut := flag.String("video", "", "write a generated explainer video to this file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options{
		imagePath:       *imagePath,
		mimeType:        *mimeType,
		illustrationOut: *illustrationOut,
		videoOut:        *videoOut,
	}, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "hwtutor:", err)
		os.Exit(1)
	}
}

type options struct {
	imagePath       string
	mimeType        string
	illustrationOut string
	videoOut        string
}

func run(ctx context.Context, opts options, out io.Writer) error {
	sink := newConsoleSink(out)
	services, err := bootstrap.Build(sink, nil, credential.NewTerminalSelector(os.Stdin, os.Stderr))
	if err != nil {
		return err
	}
	logger := services.Logger

	if addr := services.Config.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", services.Metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening", "addr", addr)
	}

	var analysis domain.HomeworkAnalysis
	if opts.imagePath != "" {
		image, err := os.ReadFile(opts.imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		mt := opts.mimeType
		if mt == "" {
			mt = mime.TypeByExtension(filepath.Ext(opts.imagePath))
		}
		analysis, err = services.Generation.Analyze(ctx, image, mt)
		if err != nil {
			return err
		}
		printAnalysis(out, analysis)
	}

	if opts.illustrationOut != "" && analysis.VisualPrompt != "" {
		img, err := services.Generation.GenerateIllustration(ctx, analysis.VisualPrompt)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.illustrationOut, img.Data, 0o644); err != nil {
			return fmt.Errorf("write illustration: %w", err)
		}
		fmt.Fprintf(out, "Illustration written to %s\n", opts.illustrationOut)
	}
	if opts.videoOut != "" && analysis.VideoPrompt != "" {
		fmt.Fprintln(out, "Generating video, this can take a few minutes...")
		video, err := services.Generation.GenerateVideo(ctx, analysis.VideoPrompt)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.videoOut, video.Data, 0o644); err != nil {
			return fmt.Errorf("write video: %w", err)
		}
		fmt.Fprintf(out, "Video written to %s\n", opts.videoOut)
	}

	session := services.NewTutorSession(analysis)
	if err := session.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Speak to your tutor. Press Ctrl+C to finish.")

	select {
	case <-ctx.Done():
	case <-sink.closed:
	}
	_ = session.Close()

	if text := session.TranscriptText(); text != "" {
		fmt.Fprintln(out, "\n--- Transcript ---")
		fmt.Fprintln(out, text)
	}
	return nil
}

func printAnalysis(out io.Writer, a domain.HomeworkAnalysis) {
	fmt.Fprintf(out, "%s: %s\n\n%s\n", a.Subject, a.Topic, a.Explanation)
	for _, point := range a.KeyPoints {
		fmt.Fprintf(out, "  - %s\n", point)
	}
	fmt.Fprintln(out)
}

// consoleSink prints session events and signals when the session closes.
type consoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	once   sync.Once
	closed chan struct{}
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out, closed: make(chan struct{})}
}

func (s *consoleSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.printf("[%s] %s\n", state, reason)
	if state == domain.SessionStateClosed {
		s.once.Do(func() { close(s.closed) })
	}
}

func (s *consoleSink) TranscriptAppended(line domain.TranscriptLine) {
	s.printf("%s\n", line)
}

func (s *consoleSink) SessionError(code domain.ErrorCode, detail string) {
	s.printf("error (%s): %s\n", code, detail)
}

func (s *consoleSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
