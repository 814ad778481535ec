package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"llmrouter/backend/internal/api"
	"llmrouter/backend/internal/config"
	"llmrouter/backend/internal/dispatch"
	"llmrouter/backend/internal/logger"
	"llmrouter/backend/internal/moderation"
	"llmrouter/backend/internal/rpc"
	"llmrouter/backend/internal/task"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the config file")
	spawn := flag.Int("spawn", 0, "spawn N local echo workers")
	workerBin := flag.String("worker-bin", "./bin/worker", "path to worker binary")
	flag.Parse()

	if _, err := os.Stat(*cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := config.WriteDefault(*cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "wrote default config to %s, edit it and restart\n", *cfgPath)
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, *spawn, *workerBin, log); err != nil {
		log.Fatal("coordinator stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, spawn int, workerBin string, log *zap.Logger) error {
	filter, err := moderation.LoadFile(cfg.Moderation.Wordlist)
	if err != nil {
		return err
	}
	log.Info("moderation loaded", zap.Bool("enabled", filter.Enabled()), zap.String("wordlist", cfg.Moderation.Wordlist))

	d := dispatch.New(dispatch.Options{
		AdmissionTimeout:   cfg.Timeouts.Admission,
		CompletionTimeout:  cfg.Timeouts.Completion,
		LivenessTimeout:    cfg.Node.LivenessTimeout,
		CancelOnDisconnect: cfg.Node.CancelOnDisconnect,
		RecentMessages:     cfg.Moderation.RecentMessages,
		Window:             moderation.Window{ChunkSize: cfg.Moderation.ChunkSize, Overlap: cfg.Moderation.Overlap},
		Models:             cfg.Models,
	}, filter, log)

	nodes := rpc.NewServer(d, rpc.ServerOptions{
		NodeToken:    cfg.Node.Token,
		SendQueue:    cfg.Node.SendQueue,
		WriteTimeout: cfg.Node.WriteTimeout,
	}, log)

	users := make(map[string]task.User, len(cfg.Users))
	for name, u := range cfg.Users {
		users[u.Token] = task.User{Name: name, BypassModeration: u.BypassModeration}
	}
	router := api.NewRouter(d, nodes, api.Options{
		DefaultModel:        cfg.API.DefaultModel,
		DefaultSystemPrompt: cfg.API.DefaultSystemPrompt,
		Users:               users,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go d.Run(ctx)

	srv := &http.Server{Addr: cfg.API.ListenAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.API.ListenAddr), zap.Bool("tls", cfg.API.TLSCert != ""))
		if cfg.API.TLSCert != "" {
			errCh <- srv.ListenAndServeTLS(cfg.API.TLSCert, cfg.API.TLSKey)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	var procs *workerGroup
	if spawn > 0 {
		model := cfg.API.DefaultModel
		if len(cfg.Models) > 0 {
			model = cfg.Models[0]
		}
		procs = spawnWorkers(ctx, spawn, workerBin, workerEnv{
			Server: localURL(cfg),
			Token:  cfg.Node.Token,
			Model:  model,
		}, log.Named("spawn"))
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	procs.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func localURL(cfg *config.Config) string {
	scheme := "ws"
	if cfg.API.TLSCert != "" {
		scheme = "wss"
	}
	addr := cfg.API.ListenAddr
	if len(addr) > 0 && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	return scheme + "://" + addr + "/ws"
}
