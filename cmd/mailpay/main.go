package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mailpay/internal/audit"
	"mailpay/internal/chain"
	"mailpay/internal/config"
	"mailpay/internal/ledger"
	"mailpay/internal/ledger/postgres"
	"mailpay/internal/metrics"
	"mailpay/internal/model"
	"mailpay/internal/proxy"
	"mailpay/internal/server"
	"mailpay/internal/upgrade"
	"mailpay/internal/verify"
	"mailpay/internal/voucher"
)

func main() {
	root := &cobra.Command{
		Use:          "mailpay",
		Short:        "On-chain payment verification and delegated purchase service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the payment API server",
		RunE:  runServe,
	}
	addCommonFlags(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "listen address")
	serveCmd.Flags().Bool("metrics-enabled", true, "expose /metrics")
	serveCmd.Flags().String("account-service-url", "", "account service base URL")
	root.AddCommand(serveCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a deposit transaction hash once and credit it",
		RunE:  runVerify,
	}
	addCommonFlags(verifyCmd)
	verifyCmd.Flags().String("tx", "", "transaction hash")
	verifyCmd.Flags().String("wallet", "", "payer wallet address")
	verifyCmd.Flags().Uint64("chain-id", 0, "chain id (0 probes all chains in priority order)")
	root.AddCommand(verifyCmd)

	purchaseCmd := &cobra.Command{
		Use:   "purchase",
		Short: "Buy a registrar name for an owner with custodial funds",
		RunE:  runPurchase,
	}
	addCommonFlags(purchaseCmd)
	purchaseCmd.Flags().String("name", "", "name to register")
	purchaseCmd.Flags().String("owner", "", "owner wallet address")
	root.AddCommand(purchaseCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("pg-dsn", "", "Postgres DSN (empty uses an in-memory ledger)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().String("deposit-address", "", "credit deposit address")
	cmd.Flags().String("custodial-key", "", "custodial wallet private key (hex)")
	cmd.Flags().String("registrar-url", "", "registrar API base URL")
	cmd.Flags().String("registrar-referrer", "", "referrer address sent to the registrar")
	cmd.Flags().String("registrar-contract", "", "registrar controller contract address")
	cmd.Flags().Uint64("registrar-chain-id", 0, "chain id the registrar contract lives on")
	cmd.Flags().String("base-price-wei", "0", "undiscounted name price in wei")
	cmd.Flags().Uint64("gas-limit", 500_000, "fixed gas limit for registrar calls")
	cmd.Flags().Duration("wait-timeout", 30*time.Second, "receipt wait ceiling")
	cmd.Flags().String("audit-log", "", "JSONL audit trail path (empty disables it)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !common.IsHexAddress(cfg.DepositAddress) {
		return fmt.Errorf("deposit-address is required")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := dialChains(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	store, closeStore, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		rec            metrics.Recorder = metrics.Noop{}
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		rec = metrics.NewPrometheusRecorder(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	verifier := verify.New(chainReaders(registry), store, common.HexToAddress(cfg.DepositAddress), logger, rec)

	executor, err := buildExecutor(cfg, registry, store, logger, rec)
	if err != nil {
		return err
	}
	voucherClient := voucher.NewClient(cfg.RegistrarURL, cfg.RegistrarReferrer, cfg.RegistrarChainID, logger, rec)
	accounts := upgrade.NewAccountClient(cfg.AccountServiceURL)
	orchestrator := upgrade.New(voucherClient, executor, accounts, logger)

	srv := server.New(verifier, orchestrator, store, logger, metricsHandler)

	logger.Info("mailpay start",
		zap.String("listen", cfg.ListenAddr),
		zap.Int("chains", len(cfg.Chains)),
		zap.String("deposit", cfg.DepositAddress),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	return srv.Start(ctx, cfg.ListenAddr)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	txHash, _ := cmd.Flags().GetString("tx")
	wallet, _ := cmd.Flags().GetString("wallet")
	chainID, _ := cmd.Flags().GetUint64("chain-id")
	if txHash == "" || wallet == "" {
		return fmt.Errorf("--tx and --wallet are required")
	}
	if !common.IsHexAddress(cfg.DepositAddress) {
		return fmt.Errorf("deposit-address is required")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := dialChains(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	store, closeStore, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	verifier := verify.New(chainReaders(registry), store, common.HexToAddress(cfg.DepositAddress), logger, metrics.Noop{})

	res, err := verifier.Confirm(ctx, wallet, txHash, chainID)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runPurchase(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	name, _ := cmd.Flags().GetString("name")
	owner, _ := cmd.Flags().GetString("owner")
	if name == "" || !common.IsHexAddress(owner) {
		return fmt.Errorf("--name and a valid --owner are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := dialChains(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	store, closeStore, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	executor, err := buildExecutor(cfg, registry, store, logger, metrics.Noop{})
	if err != nil {
		return err
	}
	voucherClient := voucher.NewClient(cfg.RegistrarURL, cfg.RegistrarReferrer, cfg.RegistrarChainID, logger, metrics.Noop{})

	v, err := voucherClient.FetchVoucher(ctx, name, owner)
	if err != nil {
		return err
	}
	rec, err := executor.Purchase(ctx, v)
	if errors.Is(err, model.ErrReceiptTimeout) {
		logger.Warn("purchase still pending, poll the hash later", zap.String("tx_hash", rec.TxHash))
		return printJSON(rec)
	}
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func dialChains(ctx context.Context, cfg config.Config) (*chain.Registry, error) {
	clients := make([]*chain.Client, 0, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		client, err := chain.NewClient(ctx, cc, cfg.CustodialKey)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("connect %s: %w", cc.Name, err)
		}
		clients = append(clients, client)
	}
	return chain.NewRegistry(clients...), nil
}

func openLedger(ctx context.Context, cfg config.Config, logger *zap.Logger) (ledger.Ledger, func(), error) {
	var (
		store     ledger.Ledger
		closeFunc = func() {}
	)
	if cfg.PGDSN == "" {
		logger.Warn("no pg-dsn given, using in-memory ledger")
		store = ledger.NewMemoryStore()
	} else {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		store = pg
		closeFunc = pg.Close
	}

	if cfg.AuditLog != "" {
		store = ledger.NewAudited(store, audit.NewJsonlTrail(cfg.AuditLog), logger)
	}
	return store, closeFunc, nil
}

func buildExecutor(cfg config.Config, registry *chain.Registry, store ledger.Ledger, logger *zap.Logger, rec metrics.Recorder) (*proxy.Executor, error) {
	registrarChain, ok := registry.ByID(cfg.RegistrarChainID)
	if !ok {
		if cfg.RegistrarURL != "" {
			return nil, fmt.Errorf("registrar-chain-id %d is not a configured chain", cfg.RegistrarChainID)
		}
		// purchases are not configured; fall back to the primary chain so
		// the executor exists, voucher fetches will fail first anyway
		registrarChain = registry.All()[0]
	}
	basePrice, ok := new(big.Int).SetString(cfg.BasePriceWei, 10)
	if !ok {
		return nil, fmt.Errorf("base-price-wei %q is not a number", cfg.BasePriceWei)
	}
	return proxy.New(registrarChain, proxy.Config{
		Registrar:    common.HexToAddress(cfg.RegistrarContract),
		Referrer:     common.HexToAddress(cfg.RegistrarReferrer),
		BasePriceWei: basePrice,
		GasLimit:     cfg.GasLimit,
		WaitTimeout:  cfg.WaitTimeout,
	}, store, logger, rec), nil
}

func chainReaders(registry *chain.Registry) []verify.ChainReader {
	clients := registry.All()
	readers := make([]verify.ChainReader, 0, len(clients))
	for _, c := range clients {
		readers = append(readers, c)
	}
	return readers
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
