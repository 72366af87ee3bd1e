package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/agentcouncil/internal/config"
	ctxengine "github.com/user/agentcouncil/internal/context"
	"github.com/user/agentcouncil/internal/council"
	"github.com/user/agentcouncil/internal/delivery"
	"github.com/user/agentcouncil/internal/gateway"
	"github.com/user/agentcouncil/internal/httpapi"
	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/scheduler"
	"github.com/user/agentcouncil/internal/telegram"
	"github.com/user/agentcouncil/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentcouncil daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

const (
	rosterDebounce = 500 * time.Millisecond
	drainTimeout   = 10 * time.Second
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	provider := newProvider(cfg)
	engine, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create context engine: %w", err)
	}

	broker := council.NewBroker(0)
	var orch *council.Orchestrator
	if cfg.Council.Enabled {
		orch = council.NewOrchestrator(svc.councils, provider, svc.roster, broker)
	}

	rt := runtime.New(provider, engine, svc.conversations, svc.memories, svc.registry, svc.roster, runtime.Options{
		DefaultAgent:       types.AgentID(cfg.DefaultAgent),
		HistoryLimit:       cfg.HistoryLimit,
		MemoryContextLimit: cfg.MemoryContextLimit,
		MemoryThreshold:    cfg.Memory.Threshold,
		MemoryImportance:   cfg.Memory.Importance,
		MaxToolRounds:      cfg.MaxToolRounds,
		Council:            orch,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lanes := gateway.NewLanes(int64(cfg.MaxConcurrent))
	queue := gateway.NewQueue(lanes, 0)
	queue.Start(ctx)
	defer queue.Stop()
	gw := gateway.New(rt, lanes, queue)

	go func() {
		if err := svc.roster.Watch(ctx, cfg.RosterPath(), rosterDebounce); err != nil {
			slog.Warn("agent roster watch disabled", "error", err)
		}
	}()

	deliveries := delivery.NewRegistry()
	deliveries.Register("log:", delivery.LogHandler(nil))

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, telegram.Deps{
			Gateway:       gw,
			Conversations: svc.conversations,
			Agents:        svc.roster,
			Tasks:         svc.tasks,
			DefaultAgent:  types.AgentID(cfg.DefaultAgent),
		})
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		deliveries.Register("telegram:", adapter.Deliver)
		go adapter.Start(ctx)
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	sched := scheduler.New(cfg.Schedules, svc.tasks, gw, deliveries)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	api := httpapi.NewServer(httpapi.Deps{
		Gateway:       gw,
		Tools:         svc.registry,
		Agents:        svc.roster,
		Conversations: svc.conversations,
		Council:       svc.councils,
		Broker:        broker,
		Tasks:         svc.tasks,
		Scheduler:     sched,
		DefaultAgent:  types.AgentID(cfg.DefaultAgent),
	})
	go func() {
		if err := api.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http api stopped", "error", err)
			cancel()
		}
	}()

	slog.Info("agentcouncil started",
		"data_dir", cfg.DataDir,
		"http_addr", cfg.HTTPAddr,
		"agents", len(svc.roster.Agents()),
		"tools", len(svc.registry.Names()),
		"schedules", sched.Entries(),
		"council", cfg.Council.Enabled,
		"llm_model", cfg.LLM.Model,
		"max_concurrent", cfg.MaxConcurrent,
	)

	defer func() {
		if !gw.Lanes().WaitIdle(drainTimeout) {
			slog.Warn("turns still running at shutdown", "active", gw.Lanes().Active())
		}
		if n := broker.Dropped(); n > 0 {
			slog.Info("council events dropped for slow subscribers", "count", n)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("http api failed to start on %s", cfg.HTTPAddr)
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				restart(cfg.DataDir, pidFile)
				continue
			}
			if sig == syscall.SIGUSR1 {
				reloadSchedules(sched)
				continue
			}
			slog.Info("shutting down", "signal", sig)
			return nil
		}
	}
}

// reloadSchedules re-reads the config file and swaps in its schedules.
func reloadSchedules(sched *scheduler.Scheduler) {
	fresh, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("reload config", "error", err)
		return
	}
	if err := sched.Reload(fresh.Schedules); err != nil {
		slog.Error("reload schedules", "error", err)
		return
	}
	slog.Info("schedules reloaded", "entries", sched.Entries())
}

// restart re-executes the binary in place. On failure the current process
// keeps running.
func restart(dataDir, pidFile string) {
	execPath, err := os.Executable()
	if err != nil {
		slog.Error("failed to get executable path", "error", err)
		return
	}
	os.Remove(pidFile)
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		slog.Error("failed to re-exec", "error", err)
		if _, err := writePIDFile(dataDir); err != nil {
			slog.Error("failed to re-write PID file", "error", err)
		}
	}
}
