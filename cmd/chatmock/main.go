// Command chatmock serves an in-memory conversation service for local
// development against chatterm.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/csheth/chatterm/internal/remote/remotetest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "listen address")
	token := flag.String("token", "dev-token", "bearer token clients must present")
	expire := flag.Duration("expire", 0, "delete conversations idle for longer than this (0 disables)")
	seed := flag.Bool("seed", true, "start with a sample conversation")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	fake := remotetest.NewServer(remotetest.Options{Token: *token, StructuredErrors: true})
	if *seed {
		now := time.Now()
		fake.Seed("welcome", "Welcome", now, now)
		fake.SeedMessage("welcome", "assistant", "Hi! Ask me anything.\n\n```sh\nchatterm -api http://"+*addr+" -token "+*token+"\n```", now)
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, fake.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *expire > 0 {
		go expireIdle(ctx, logger, fake, *expire)
	}

	go func() {
		logger.Info("chatmock listening", zap.String("addr", *addr), zap.String("token", *token))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("chatmock stopped")
}

func expireIdle(ctx context.Context, logger *zap.Logger, fake *remotetest.Server, maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := fake.ExpireIdle(maxIdle); n > 0 {
				logger.Info("expired idle conversations", zap.Int("count", n))
			}
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		logger.Debug("request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
