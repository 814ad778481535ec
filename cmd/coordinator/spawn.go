package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type workerEnv struct {
	Server string
	Token  string
	Model  string
}

// workerGroup keeps N local workers running until stopped.
type workerGroup struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
	log   *zap.Logger
}

func spawnWorkers(ctx context.Context, n int, workerBin string, env workerEnv, log *zap.Logger) *workerGroup {
	g := &workerGroup{procs: make(map[int]*exec.Cmd), log: log}

	// 把 workerBin 转成绝对路径
	abs, err := filepath.Abs(workerBin)
	if err != nil {
		log.Error("resolve worker binary failed", zap.String("bin", workerBin), zap.Error(err))
		return g
	}
	for i := 0; i < n; i++ {
		g.watch(ctx, i, abs, env)
	}
	return g
}

func (g *workerGroup) start(slot int, bin string, env workerEnv) (*exec.Cmd, error) {
	cmd := exec.Command(bin,
		"-server", env.Server,
		"-model", env.Model,
		"-name", fmt.Sprintf("local-%d", slot),
	)
	cmd.Env = append(os.Environ(), "LLMROUTER_NODE_TOKEN="+env.Token)
	// 让 worker 日志直接打到 coordinator 终端
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.procs[slot] = cmd
	g.mu.Unlock()
	g.log.Info("spawned worker", zap.Int("slot", slot), zap.Int("pid", cmd.Process.Pid))
	return cmd, nil
}

// watch starts the worker in slot and restarts it whenever it exits, until ctx
// is done.
func (g *workerGroup) watch(ctx context.Context, slot int, bin string, env workerEnv) {
	go func() {
		for {
			cmd, err := g.start(slot, bin, env)
			if err != nil {
				g.log.Error("spawn worker failed", zap.Int("slot", slot), zap.Error(err))
			} else {
				err = cmd.Wait()
				g.log.Warn("worker exited", zap.Int("slot", slot), zap.Error(err))
			}
			// 简单防抖：避免秒退无限刷
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
		}
	}()
}

func (g *workerGroup) stop() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, cmd := range g.procs {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}
}
