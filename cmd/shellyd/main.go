// Command shellyd is the Shelly agent daemon entrypoint: it wires the
// transport, executor, inference client, agent loop, and memory journal
// together and runs until signaled, grounded on the teacher's
// cmd/gateway/main.go lifecycle (Start → wait for signal → bounded
// Stop).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shelly-agent/shelly/internal/agent"
	"github.com/shelly-agent/shelly/internal/brain"
	"github.com/shelly-agent/shelly/internal/comm"
	"github.com/shelly-agent/shelly/internal/config"
	"github.com/shelly-agent/shelly/internal/executor"
	"github.com/shelly-agent/shelly/internal/infrastructure/logger"
	"github.com/shelly-agent/shelly/internal/memory"
	apperrors "github.com/shelly-agent/shelly/pkg/errors"
)

const (
	appName    = "shellyd"
	appVersion = "0.1.0"
)

func main() {
	log, err := logger.NewLogger(logger.Config{
		Level:      "info",
		Format:     "json",
		OutputPath: "stdout",
	})
	if err != nil {
		appErr := apperrors.NewInternalErrorWithCause("failed to initialize logger", err)
		fmt.Fprintln(os.Stderr, appErr.Error())
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting shelly daemon", zap.String("name", appName), zap.String("version", appVersion))

	cfg := config.Load(log)

	registry := executor.NewInMemoryRegistry()
	if err := registry.Register(executor.NewBashTool(log)); err != nil {
		appErr := apperrors.NewInternalErrorWithCause("failed to register bash tool", err)
		log.Fatal(appErr.Error(), zap.String("code", string(appErr.Code)))
	}

	stopWatcher := make(chan struct{})
	defer close(stopWatcher)
	if err := executor.WatchToolDescriptions("tools.toml", registry, log, stopWatcher); err != nil {
		log.Warn("tool description watcher not started", zap.Error(err))
	}

	brainClient := brain.NewClient(brain.Config{
		Endpoint:        cfg.InferenceEndpoint,
		APIKey:          cfg.InferenceAPIKey,
		Model:           cfg.InferenceModel,
		MaxRetries:      cfg.InferenceMaxRetries,
		BaseRetryDelay:  cfg.InferenceRetryDelay,
		RequestTimeout:  cfg.InferenceTimeout,
		MaxOutputTokens: cfg.InferenceMaxTokens,
		Temperature:     cfg.InferenceTemperature,
		TopP:            cfg.InferenceTopP,
		TopK:            cfg.InferenceTopK,
	}, log)

	journal := memory.New()

	agentCfg := agent.Config{
		Model:           cfg.InferenceModel,
		MaxOutputTokens: cfg.InferenceMaxTokens,
		MaxToolRounds:   cfg.AgentMaxToolRounds,
		InitTimeout:     cfg.AgentInitTimeout,
		HandleTimeout:   cfg.AgentHandleTimeout,
		ShutdownTimeout: cfg.AgentShutdownTimeout,
	}
	loop := agent.New(brainClient, registry, journal, agentCfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := loop.Init(ctx); err != nil {
		appErr := apperrors.NewInternalErrorWithCause("agent init failed", err)
		log.Fatal(appErr.Error(), zap.String("code", string(appErr.Code)))
	}

	commCfg := comm.DefaultConfig(cfg.ShellyListenAddr)
	commCfg.DedupCapacity = cfg.ShellyDedupCapacity
	commCfg.DedupTTL = cfg.ShellyDedupTTL
	commCfg.SweepInterval = cfg.ShellyDedupSweep
	commCfg.MaxPayloadBytes = cfg.ShellyMaxPayloadBytes
	commCfg.QueueCapacity = cfg.ShellyQueueCapacity

	server, err := comm.NewServer(commCfg, log)
	if err != nil {
		appErr := apperrors.NewInternalErrorWithCause("failed to bind transport", err)
		log.Fatal(appErr.Error(), zap.String("code", string(appErr.Code)))
	}

	go server.Serve(ctx)
	log.Info("listening", zap.String("addr", server.LocalAddr().String()))

	go dispatchRequests(ctx, server, loop, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.AgentShutdownTimeout)
	defer shutdownCancel()
	loop.Shutdown(shutdownCtx)

	cancel()
	if err := server.Close(); err != nil {
		log.Error("error closing transport", zap.Error(err))
	}
	server.Wait()

	log.Info("shelly daemon stopped")
}

// dispatchRequests bridges the transport's inbound queue to the agent
// loop: each accepted request is handled independently so a slow Handle
// call never blocks the reception of unrelated requests, per spec.md
// §4.2's concurrency contract.
func dispatchRequests(ctx context.Context, server *comm.Server, loop *agent.Loop, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-server.Requests():
			if !ok {
				return
			}
			go func(req *comm.InboundRequest) {
				text, err := loop.Handle(ctx, req.Content)
				if err != nil {
					log.Warn("agent handle failed",
						zap.String("sender", req.Sender.String()),
						zap.Uint32("seq", req.Seq),
						zap.Error(err))
					req.Reply <- &comm.AgentReply{Content: err.Error(), IsError: true}
					return
				}
				req.Reply <- &comm.AgentReply{Content: text, IsError: false}
			}(req)
		}
	}
}
