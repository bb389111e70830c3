// Package main provides otcbrokerd - the OTC swap broker daemon.
package main

import (
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/klingon-exchange/otc-broker/internal/assetreg"
	"github.com/klingon-exchange/otc-broker/internal/chainplugin"
	cfgpkg "github.com/klingon-exchange/otc-broker/internal/config"
	"github.com/klingon-exchange/otc-broker/internal/dealfsm"
	"github.com/klingon-exchange/otc-broker/internal/depositwatch"
	"github.com/klingon-exchange/otc-broker/internal/engine"
	"github.com/klingon-exchange/otc-broker/internal/escrowvault"
	"github.com/klingon-exchange/otc-broker/internal/oracle"
	"github.com/klingon-exchange/otc-broker/internal/rpcserver"
	"github.com/klingon-exchange/otc-broker/internal/simplugin"
	"github.com/klingon-exchange/otc-broker/internal/store"
	"github.com/klingon-exchange/otc-broker/internal/txqueue"
	"github.com/klingon-exchange/otc-broker/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.otc-broker", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "JSON-RPC/WebSocket listen address, overrides config port")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("otcbrokerd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	configPath := *configFile
	if configPath == "" {
		configPath = cfgpkg.Path(*dataDir)
	}
	cfg, err := cfgpkg.Load(configPath)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", configPath)

	dataPath := cfgpkg.ExpandPath(cfg.DataDir)
	if err := os.MkdirAll(dataPath, 0700); err != nil {
		log.Fatal("failed to create data directory", "error", err)
	}

	s, err := store.New(&store.Config{DataDir: dataPath}, log)
	if err != nil {
		log.Fatal("failed to open store", "error", err)
	}
	defer s.Close()
	log.Info("store opened", "path", dataPath)

	assets, err := assetreg.NewRegistry(defaultAssets())
	if err != nil {
		log.Fatal("failed to build asset registry", "error", err)
	}

	passphrase := os.Getenv("ESCROW_VAULT_PASSPHRASE")
	if passphrase == "" {
		log.Warn("ESCROW_VAULT_PASSPHRASE not set, escrow keys will be encrypted under an empty passphrase")
	}
	vault := escrowvault.New(dataPath+"/escrow-keys", passphrase)

	plugins := chainplugin.NewRegistry()
	for _, p := range defaultPlugins(vault) {
		if err := plugins.Register(p); err != nil {
			log.Fatal("failed to register chain plugin", "error", err)
		}
	}
	log.Info("chain plugins registered", "chains", plugins.ChainIDs())

	oracleSource := oracle.New(s, log)

	fsm := dealfsm.New(dealfsm.Config{
		Store:        s,
		Assets:       assets,
		Plugins:      plugins,
		Oracle:       oracleSource,
		OperatorAddr: cfg.OperatorAddress,
		Log:          log,
	})

	watcher := depositwatch.New(depositwatch.Config{
		Store:         s,
		Plugins:       plugins,
		RecordDeposit: fsm.RecordDeposit,
		Log:           log,
	})

	queueWorker := txqueue.New(txqueue.Config{
		Store:       s,
		Plugins:     plugins,
		Log:         log,
		MaxAttempts: cfg.MaxAttemptsPerItem,
	})

	rpc := rpcserver.New(rpcserver.Config{
		DealFSM: fsm,
		Store:   s,
		Oracle:  oracleSource,
		Assets:  assets,
		BaseURL: cfg.BaseURL,
		Log:     log,
	})

	tickInterval := time.Duration(cfg.TickIntervalMS) * time.Millisecond
	eng := engine.New(engine.Config{
		Store:         s,
		DealFSM:       fsm,
		DepositWatch:  watcher,
		TxQueue:       queueWorker,
		TickInterval:  tickInterval,
		OnDealChanged: rpc.BroadcastDealUpdated,
		Log:           log,
	})
	eng.Start()
	log.Info("engine tick loop started", "interval", tickInterval)

	addr := *apiAddr
	if addr == "" {
		addr = "0.0.0.0:" + strconv.Itoa(cfg.Port)
	}
	if err := rpc.Start(addr); err != nil {
		log.Fatal("failed to start rpc server", "error", err)
	}

	printBanner(log, addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	eng.Stop()
	if err := rpc.Stop(); err != nil {
		log.Error("error stopping rpc server", "error", err)
	}
	log.Info("goodbye!")
}

// defaultAssets is the broker's built-in catalog; spec §6.3's
// plugin_config passthrough is reserved for a future on-disk asset
// list, but until then the daemon ships one known-good set that
// exercises all three reference chain plugins.
func defaultAssets() []assetreg.Asset {
	return []assetreg.Asset{
		{ChainID: "ETH", Symbol: "ETH", Decimals: 18, Native: true},
		{ChainID: "ETH", Symbol: "USDC", Decimals: 6},
		{ChainID: "POLYGON", Symbol: "MATIC", Decimals: 18, Native: true},
		{ChainID: "BITCOIN", Symbol: "BTC", Decimals: 8, Native: true},
		{ChainID: "SOLANA", Symbol: "SOL", Decimals: 9, Native: true},
	}
}

func defaultPlugins(vault *escrowvault.Vault) []chainplugin.Plugin {
	return []chainplugin.Plugin{
		simplugin.NewEVMLike("ETH", "ETH@ETH", vault),
		simplugin.NewEVMLike("POLYGON", "MATIC@POLYGON", vault),
		simplugin.NewBitcoinLike("BITCOIN", "BTC@BITCOIN", &chaincfg.MainNetParams, vault),
		simplugin.NewSolanaLike("SOLANA", "SOL@SOLANA", vault),
	}
}

func printBanner(log *logging.Logger, addr string) {
	log.Info("")
	log.Info("=================================================")
	log.Info("  otc-broker daemon")
	log.Infof("  version: %s", version)
	log.Info("=================================================")
	log.Infof("  RPC:  http://%s", addr)
	log.Infof("  WS:   ws://%s/ws", addr)
	log.Info("=================================================")
	log.Info("")
}

