// Command jinn-worker runs the decentralized agent worker: it wires the
// operator profile, every external-service adapter, and the Request
// Lifecycle Engine's cooperating background loops (credential rotation
// runs inline inside the main cycle; the Tx Queue processor, Venture
// Watcher, and Checkpoint Driver run as independent periodic tasks per
// spec §5), then waits for SIGINT/SIGTERM to shut down cleanly.
//
// Grounded on cmd/appserver/main.go's bootstrap shape (load config, fail
// fast with log.Fatalf before a logger exists, build a signal-driven
// context, start every collaborator, block until shutdown, stop with a
// bounded timeout) adapted from the teacher's single HTTP service to this
// worker's several independent periodic loops.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/jinn-network/jinn-worker/internal/agentrunner"
	"github.com/jinn-network/jinn-worker/internal/blueprint"
	"github.com/jinn-network/jinn-worker/internal/chainrpc"
	"github.com/jinn-network/jinn-worker/internal/checkpoint"
	"github.com/jinn-network/jinn-worker/internal/config"
	"github.com/jinn-network/jinn-worker/internal/controlapi"
	"github.com/jinn-network/jinn-worker/internal/credentialbridge"
	"github.com/jinn-network/jinn-worker/internal/erc8128"
	"github.com/jinn-network/jinn-worker/internal/ipfsclient"
	"github.com/jinn-network/jinn-worker/internal/ipfspayload"
	"github.com/jinn-network/jinn-worker/internal/ledgerindex"
	"github.com/jinn-network/jinn-worker/internal/lifecycle"
	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/metrics"
	"github.com/jinn-network/jinn-worker/internal/profile"
	"github.com/jinn-network/jinn-worker/internal/safetx"
	"github.com/jinn-network/jinn-worker/internal/signingproxy"
	"github.com/jinn-network/jinn-worker/internal/stakingfilter"
	"github.com/jinn-network/jinn-worker/internal/txqueue"
	"github.com/jinn-network/jinn-worker/internal/venture"
	"github.com/jinn-network/jinn-worker/internal/venturedispatch"
	"github.com/jinn-network/jinn-worker/internal/workerloop"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	prof, err := profile.Load(cfg.OperateBasePath, cfg.OperatePassword, cfg.ChainID)
	if err != nil {
		log.Fatalf("load operator profile: %v", err)
	}
	agentKey, err := prof.AgentPrivateKey()
	if err != nil {
		log.Fatalf("load agent signing key: %v", err)
	}
	workerID := gethcrypto.PubkeyToAddress(agentKey.PublicKey).Hex()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chainClient, err := chainrpc.Dial(rootCtx, chainrpc.Config{
		URL:               cfg.RPCURL,
		ChainID:           cfg.ChainID,
		RequestsPerSecond: 5,
	})
	if err != nil {
		log.Fatalf("dial chain rpc: %v", err)
	}

	signer := erc8128.NewSigner(agentKey)
	if cfg.CredentialBridgeURL != "" {
		registrar, err := credentialbridge.NewRegistrar(cfg.CredentialBridgeURL, signer)
		if err == nil {
			err = registrar.Register(rootCtx)
		}
		if err != nil {
			logger.WithError(err).Warn("credential bridge operator registration failed, continuing")
		}
	}
	control, err := controlapi.New(cfg.ControlAPIURL, signer, logger)
	if err != nil {
		log.Fatalf("construct control api client: %v", err)
	}

	safeEngine := safetx.New(chainClient, safetx.NewKeySigner(agentKey))

	ledger := ledgerindex.New(cfg.PonderGraphQLURL)
	ipfs := ipfsclient.New(cfg.IPFSGatewayURL)

	dispatcher := lifecycle.NewSafeDispatcher(safeEngine, ipfs, prof.MarketplaceAddress(), prof.ServiceSafe(), cfg.ChainID)
	proxy, err := signingproxy.New(prof, dispatcher, logger)
	if err != nil {
		log.Fatalf("construct signing proxy: %v", err)
	}

	stake := stakingfilter.New(ledger, time.Duration(cfg.StakingRefreshMillis)*time.Millisecond)

	jobContext := &blueprint.JobContextProvider{
		Index:      ledger,
		HTTPClient: &http.Client{Timeout: 7 * time.Second},
		Gateway:    cfg.IPFSGatewayURL,
	}
	blueprintBuilder := blueprint.NewBuilder(logger, jobContext, &blueprint.ProgressCheckpointProvider{})
	payloadBuilder := ipfspayload.NewBuilder(ledger, nil, os.Environ())

	agent := agentrunner.New(cfg.AgentBinaryPath, cfg.AgentWorkDir, time.Duration(cfg.AgentTimeoutSeconds)*time.Second)

	credentials, err := credentialbridge.LoadCredentials(cfg.GeminiOAuthCredentialsJSON)
	if err != nil {
		log.Fatalf("load gemini credentials: %v", err)
	}
	rotator := credentialbridge.NewRotator(
		credentialbridge.NewGeminiRefresher(cfg.GeminiOAuthClientID, cfg.GeminiOAuthClientSecret),
		credentialbridge.NewGeminiIntrospector(),
		credentialbridge.NewGeminiTokenWriter(cfg.MiddlewarePath),
		logger,
	)

	txStore, err := txqueue.Open(cfg.LocalQueueDBPath)
	if err != nil {
		log.Fatalf("open tx queue: %v", err)
	}
	defer txStore.Close()

	allowlist, err := txqueue.LoadAllowlist(cfg.AllowlistConfigPath)
	if err != nil {
		log.Fatalf("load allowlist: %v", err)
	}

	engine := lifecycle.NewEngine(lifecycle.Config{
		WorkerID:         workerID,
		Credentials:      credentials,
		Rotator:          rotator,
		Stake:            stake,
		StakingContract:  cfg.StakingContract,
		Index:            ledger,
		IPFS:             ipfs,
		Control:          control,
		Proxy:            proxy,
		BlueprintBuilder: blueprintBuilder,
		PayloadBuilder:   payloadBuilder,
		Agent:            agent,
		Uploader:         ipfs,
		TxStore:          txStore,
		Log:              logger,
	})

	txProcessor := lifecycle.NewTxProcessor(txStore, allowlist, safeEngine, control, chainClient, agentKey, prof.ServiceSafe(), cfg.ChainID, workerID, logger)
	txTicker := workerloop.New("tx-processor", time.Duration(cfg.TxProcessorIntervalMillis)*time.Millisecond, logger, func(ctx context.Context) {
		if _, err := txProcessor.ProcessOne(ctx); err != nil {
			logger.WithError(err).Warn("tx processor cycle failed")
		}
	})

	var ventureTicker *workerloop.Worker
	if cfg.VentureWatcherEnabled {
		ventureDispatcher := venturedispatch.New(
			safeEngine, ipfs,
			prof.MarketplaceAddress(), prof.ServiceSafe(), prof.MechAddress(),
			cfg.ChainID, cfg.MarketplaceResponseTimeout,
		)
		watcher := venture.New(ledger, control, ventureDispatcher, logger)
		ventureTicker = workerloop.New("venture-watcher", time.Duration(cfg.VentureTickIntervalMillis)*time.Millisecond, logger, func(ctx context.Context) {
			ventures, err := ledger.ListVentures(ctx)
			if err != nil {
				logger.WithError(err).Warn("list ventures failed")
				return
			}
			watcher.Tick(ctx, time.Now(), ventures)
		})
	}

	var checkpointDriver *checkpoint.Driver
	if cfg.CheckpointEnabled {
		checkpointDriver = checkpoint.New(chainClient, agentKey, prof.StakingContract(), time.Duration(cfg.CheckpointIntervalSeconds)*time.Second, logger)
	}

	if cfg.MetricsEnabled {
		metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metrics.Handler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("metrics server stopped unexpectedly")
			}
		}()
		go func() {
			<-rootCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(rootCtx)
	}()

	txTicker.Start(rootCtx)
	if ventureTicker != nil {
		ventureTicker.Start(rootCtx)
	}
	if checkpointDriver != nil {
		checkpointDriver.Start(rootCtx)
	}

	logger.WithField("worker_id", workerID).Info("jinn-worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	txTicker.Stop()
	if ventureTicker != nil {
		ventureTicker.Stop()
	}
	if checkpointDriver != nil {
		checkpointDriver.Stop()
	}
	if err := proxy.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("signing proxy shutdown error")
	}

	wg.Wait()
	logger.Info("jinn-worker stopped")
}
