package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"riskexecutor/src/database"
	appengine "riskexecutor/src/engine"
	"riskexecutor/src/execution"
	"riskexecutor/src/ledger"
	"riskexecutor/src/marketdata"
	"riskexecutor/src/repository"
	"riskexecutor/src/risk"
	"riskexecutor/src/security"
	"riskexecutor/src/server"
)

// Engine is the trading engine command: database, risk engine, execution
// pipeline, market data feed and the HTTP API, run until SIGINT/SIGTERM.
type Engine struct{}

func (t *Engine) Start() error {
	config := GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	riskCfg := risk.GetConfig()
	riskEngine, err := risk.NewEngine(riskCfg)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid risk configuration")
		return err
	}

	book := ledger.NewWithSymbols(riskCfg.Symbols)

	execCfg := execution.GetConfig()
	apiKey, err := security.DecryptString(execCfg.APIKeySealed)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to decrypt API Key")
		return err
	}
	apiSecret, err := security.DecryptString(execCfg.APISecretSealed)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to decrypt API Secret")
		return err
	}

	adapter := execution.NewRestAdapter(apiKey, apiSecret, execCfg.BaseURL, execCfg.RequestTimeout)
	store := repository.NewTradeStore()
	pipeline := execution.NewPipeline(execCfg, adapter, store, book, riskEngine)

	facade := appengine.NewEngine(
		appengine.GetConfig(),
		riskEngine,
		book,
		pipeline,
		store.Orders,
		repository.NewPositionRepository(),
		repository.NewEquityRepository(),
		repository.NewRiskEventRepository(),
	)

	if err := facade.Restore(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to restore persisted state")
		return err
	}

	go func() {
		if err := facade.Run(ctx); err != nil {
			logrus.WithError(err).Error("Risk evaluation loop exited")
		}
	}()

	if !config.DisableFeed {
		feed := marketdata.NewFeed(marketdata.GetConfig(), facade)
		go func() {
			if err := feed.Run(ctx); err != nil {
				logrus.WithError(err).Error("Market data feed exited")
			}
		}()
	}

	serverCfg := server.GetConfig()
	logrus.WithField("port", serverCfg.Port).Info("Starting trading engine")
	server.StartServer(serverCfg.Port, facade, store.Orders)

	stop()
	return nil
}
