// ABOUTME: Scripted OpenAI-compatible model server for local runs and E2E testing
// ABOUTME: Usage: fake-llm [-addr localhost:4010] [-delay 300ms]; point llm.base_url at http://addr/v1

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/2389/sourcing-gateway/internal/llm/llmtest"
)

func main() {
	addr := flag.String("addr", "localhost:4010", "listen address")
	delay := flag.Duration("delay", 300*time.Millisecond, "delay before the answer streams, so progress is visible")
	dimension := flag.Int("dimension", 1536, "embedding length")
	flag.Parse()

	if err := run(*addr, *delay, *dimension); err != nil {
		log.Fatal(err)
	}
}

func run(addr string, delay time.Duration, dimension int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           llmtest.NewHandler(llmtest.SearchThenAnswer(delay)).WithDimension(dimension),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("fake model listening on http://%s/v1", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
