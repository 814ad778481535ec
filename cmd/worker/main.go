package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"llmrouter/backend/internal/logger"
	"llmrouter/backend/internal/rpc"
)

func main() {
	server := flag.String("server", "ws://127.0.0.1:8087/ws", "router websocket endpoint")
	token := flag.String("token", os.Getenv("LLMROUTER_NODE_TOKEN"), "node token (default $LLMROUTER_NODE_TOKEN)")
	model := flag.String("model", "echo", "model served by this worker")
	name := flag.String("name", "", "worker name (default random)")
	maxConc := flag.Int("max-concurrency", 4, "tasks handled at once")
	delay := flag.Duration("delay", 50*time.Millisecond, "delay between streamed words")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := logger.New(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if *name == "" {
		*name = uuid.NewString()[:8]
	}
	hs := rpc.Handshake{Token: *token, Model: *model, MaxConcurrency: *maxConc, Name: *name}
	log = log.Named("worker").With(zap.String("node", hs.Key()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		err := serve(ctx, *server, hs, *delay, log)
		if ctx.Err() != nil {
			log.Info("worker stopped")
			return
		}
		log.Warn("connection lost, retrying", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// serve runs one connection until it fails or ctx is done.
func serve(ctx context.Context, server string, hs rpc.Handshake, delay time.Duration, log *zap.Logger) error {
	cl, err := rpc.Dial(ctx, server, hs)
	if err != nil {
		return err
	}
	log.Info("connected", zap.String("server", server))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = cl.Close()
	}()

	// 心跳 loop
	go func() {
		tick := time.NewTicker(10 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-tick.C:
				if err := cl.Ping(); err != nil {
					log.Warn("ping failed", zap.Error(err))
				}
			}
		}
	}()

	e := newEcho(cl, delay, log)
	defer e.stopAll()
	for {
		cmd, err := cl.Receive()
		if err != nil {
			return err
		}
		if cmd.Stop {
			e.stop(cmd.ID)
			continue
		}
		e.start(connCtx, cmd.Payload)
	}
}
