package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"suits/internal/blobnet"
	"suits/internal/blobstore"
	"suits/internal/config"
	"suits/internal/ledger"
	"suits/internal/ledger/localnet"
	"suits/internal/ledger/rpc"
	"suits/internal/messaging"
	"suits/internal/metrics"
	"suits/internal/publish"
	"suits/internal/registry"
	"suits/internal/watch"
)

const gatewayTimeout = 30 * time.Second

var (
	errAccountRequired  = errors.New("account is not configured")
	errRegistryRequired = errors.New("registry id is not configured")
	errLocalnetOnly     = errors.New("blob publishing requires the localnet network")
)

// commandEnv is the set of clients one command invocation works with.
type commandEnv struct {
	cfg        *config.Config
	logger     *slog.Logger
	ledger     ledger.Client
	registryID ledger.ObjectID
	hub        *watch.Hub
	metrics    *metrics.Metrics

	// local is set on localnet only.
	local *blobnet.Local
	// fetcher reads blobs: the local node on localnet, the gateway otherwise.
	fetcher blobnet.Fetcher

	closers []func() error
}

func withEnv(cfg *config.Config, fn func(*commandEnv) error) error {
	rt, err := openEnv(cfg)
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(rt)
}

func openEnv(cfg *config.Config) (*commandEnv, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	logger := slog.Default()
	m := metrics.New()
	rt := &commandEnv{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		hub:        watch.NewHub(m, logger),
		registryID: ledger.ObjectID(cfg.RegistryID),
	}

	if !cfg.IsLocalnet() {
		logger.Debug("using full node", "network", cfg.Network, "rpc_url", cfg.RPCURL)
		rt.ledger = rpc.NewClient(cfg.RPCURL)
		rt.fetcher = blobnet.NewGateway(cfg.GatewayURL, gatewayTimeout)
		return rt, nil
	}

	logger.Debug("opening localnet", "path", cfg.LocalnetDB)
	ln, err := localnet.Open(cfg.LocalnetDB, localnet.Options{
		PackageID:    cfg.PackageID,
		BlobSystemID: cfg.BlobSystemID,
		ClockID:      cfg.ClockID,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, ln.Close)
	rt.ledger = ln
	if rt.registryID == "" {
		rt.registryID = ln.RegistryID()
	}

	cas, err := blobstore.NewLocalCAS(cfg.BlobRoot)
	if err != nil {
		rt.close()
		return nil, err
	}
	systemID := cfg.BlobSystemID
	if systemID == "" {
		systemID = cfg.PackageID
	}
	rt.local = blobnet.NewLocal(cas, ln, systemID, logger)
	rt.fetcher = rt.local
	return rt, nil
}

func (rt *commandEnv) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close failed", "err", err)
		}
	}
	rt.closers = nil
}

func (rt *commandEnv) account() (ledger.Address, error) {
	if rt.cfg.Account == "" {
		return "", errAccountRequired
	}
	return ledger.Address(rt.cfg.Account), nil
}

func (rt *commandEnv) reader() (*registry.Reader, error) {
	if rt.registryID == "" {
		return nil, errRegistryRequired
	}
	return registry.NewReader(rt.ledger, registry.ReaderOptions{
		RegistryID:  rt.registryID,
		Gateway:     rt.cfg.GatewayURL,
		Concurrency: rt.cfg.Feed.FetchConcurrency,
		Metrics:     rt.metrics,
		Hub:         rt.hub,
		Logger:      rt.logger,
	}), nil
}

func (rt *commandEnv) poster() (*registry.Poster, error) {
	account, err := rt.account()
	if err != nil {
		return nil, err
	}
	if rt.registryID == "" {
		return nil, errRegistryRequired
	}
	return registry.NewPoster(rt.ledger, registry.PosterOptions{
		PackageID:  rt.cfg.PackageID,
		RegistryID: rt.registryID,
		ClockID:    ledger.ObjectID(rt.cfg.ClockID),
		Sender:     account,
		Hub:        rt.hub,
		Logger:     rt.logger,
	}), nil
}

func (rt *commandEnv) uploader(epochs uint64) (*publish.Uploader, error) {
	account, err := rt.account()
	if err != nil {
		return nil, err
	}
	if rt.local == nil {
		return nil, errLocalnetOnly
	}
	if epochs == 0 {
		epochs = rt.cfg.Blob.Epochs
	}
	return publish.NewUploader(rt.local, rt.ledger, publish.Options{
		Epochs:  epochs,
		Owner:   account,
		Gateway: rt.cfg.GatewayURL,
		Metrics: rt.metrics,
		Logger:  rt.logger,
	}, int64(rt.cfg.Blob.MaxBytes)), nil
}

// messaging returns the channel service. Reads work without an account;
// mutations fail on the ledger with an empty sender, so commands that
// mutate check the account first.
func (rt *commandEnv) messaging() *messaging.Service {
	return messaging.NewService(rt.ledger, messaging.Options{
		PackageID:      rt.cfg.PackageID,
		ClockID:        ledger.ObjectID(rt.cfg.ClockID),
		Account:        ledger.Address(rt.cfg.Account),
		DedupeChannels: rt.cfg.Chat.DedupeChannels,
		Hub:            rt.hub,
		Metrics:        rt.metrics,
		Logger:         rt.logger,
	})
}
