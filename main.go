package main

import (
	"time"

	"github.com/russeree/mempool/audit"
	"github.com/russeree/mempool/backend"
	"github.com/russeree/mempool/common"
	"github.com/russeree/mempool/config"
	"github.com/russeree/mempool/difficulty"
	"github.com/russeree/mempool/fees"
	"github.com/russeree/mempool/mempool"
	"github.com/russeree/mempool/prices"
	"github.com/russeree/mempool/repository"
	"github.com/russeree/mempool/statistics"
	"github.com/russeree/mempool/websocket"
)

func init() {
	config.InitSigInt()
}

func main() {
	yamlcfg := config.InitConfig("")
	config.InitLog(yamlcfg)

	common.Log.Info("Starting...")
	defer func() {
		config.ReleaseRes()
		common.Log.Info("shut down")
	}()

	client, err := backend.NewClient(&yamlcfg.ShareRPC.Bitcoin)
	if err != nil {
		common.Log.Error(err)
		return
	}

	engine := mempool.New()
	templates := mempool.NewTemplateBuilder()
	rbfCache := mempool.NewRbfCache()
	blocks := backend.NewBlocks(yamlcfg.WebSocket.InitialBlocksAmount)
	adjuster := difficulty.NewAdjuster()
	feeApi := fees.NewApi(templates, 1)
	priceUpdater := prices.NewUpdater(&yamlcfg.Prices)
	indicators := backend.NewIndicators()
	info := backend.NewInfo(yamlcfg.Backend.Kind)

	hub := websocket.NewHub(yamlcfg, websocket.HubConfig{
		Mempool:       engine,
		MempoolBlocks: templates,
		Blocks:        blocks,
		RbfCache:      rbfCache,
		Fees:          feeApi,
		Difficulty:    adjuster,
		Prices:        priceUpdater,
		Loading:       indicators,
		BackendInfo:   info,
		TxFetcher:     client,
		Auditor:       audit.New(),
		Repository:    repository.NewNoop(),
	})

	stopChan := make(chan struct{})
	config.RegistSigIntFunc(func() {
		common.Log.Info("handle SIGINT, stopping watchers")
		close(stopChan)
	})

	watcher := backend.NewWatcher(client, engine, blocks, hub, adjuster, indicators,
		backend.ChainParams(yamlcfg.Chain), 5*time.Second)
	go watcher.Start(stopChan)

	go priceUpdater.Start(stopChan, hub.HandleNewConversionRates)

	stats := statistics.NewRunner(engine, time.Minute)
	go stats.Start(stopChan, func(tick *statistics.Tick) {
		hub.HandleNewStatistic(tick)
	})

	service := websocket.NewService(hub)
	if err := service.Start(yamlcfg.WebSocket.Listen); err != nil {
		common.Log.Error(err)
	}
}
