package main

import (
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seinj0312/furu-limit-order-handler/params"
	"github.com/seinj0312/furu-limit-order-handler/pkg/api"
	"github.com/seinj0312/furu-limit-order-handler/pkg/core"
	"github.com/seinj0312/furu-limit-order-handler/pkg/router"
	"github.com/seinj0312/furu-limit-order-handler/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// External swap provider. The AMM stands in for the exchange fills
	// are realized against; seed a devnet pool when asked to.
	amm := router.NewAMM()
	if os.Getenv("SEED_DEMO_LIQUIDITY") == "true" {
		quote := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
		eth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
		reserveNative := new(big.Int).Mul(big.NewInt(10_000), eth)
		reserveQuote := new(big.Int).Mul(big.NewInt(30_000_000), eth)
		amm.AddLiquidity(core.NativeAsset, quote, reserveNative, reserveQuote)
		sugar.Infow("demo_liquidity_seeded", "quote", quote.Hex())
	}

	app, err := core.NewAppWithStore(cfg.Protocol, amm, cfg.Node.DBPath, logger)
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}
	defer app.Close()

	sugar.Infow("protocol_ready",
		"module", cfg.Protocol.ModuleAddress.Hex(),
		"vault", cfg.Protocol.VaultAddress.Hex(),
		"db", cfg.Node.DBPath,
	)

	server := api.NewServer(app, cfg.API.AllowedOrigins, logger)
	go func() {
		if err := server.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sugar.Infow("shutting_down")
}
