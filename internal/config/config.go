package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mailpay/internal/model"
)

// ChainConfig is one chain entry from the config file. Amounts stay as
// strings until Load converts them; declaration order is the probing
// priority order.
type ChainConfig struct {
	Name       string `mapstructure:"name"`
	ChainID    uint64 `mapstructure:"chain-id"`
	RPC        string `mapstructure:"rpc"`
	Decimals   int32  `mapstructure:"decimals"`
	MinAmount  string `mapstructure:"min-amount"`
	CreditRate string `mapstructure:"credit-rate"`
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	ListenAddr     string
	PGDSN          string
	LogLevel       string
	MetricsEnabled bool

	DepositAddress string
	CustodialKey   string

	RegistrarURL      string
	RegistrarReferrer string
	RegistrarContract string
	RegistrarChainID  uint64
	BasePriceWei      string
	GasLimit          uint64
	WaitTimeout       time.Duration

	AccountServiceURL string
	AuditLog          string

	Chains []model.Chain
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MAILPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("log-level", "info")
	v.SetDefault("metrics-enabled", true)
	v.SetDefault("gas-limit", uint64(500_000))
	v.SetDefault("wait-timeout", 30*time.Second)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var chainCfgs []ChainConfig
	if err := v.UnmarshalKey("chains", &chainCfgs); err != nil {
		return Config{}, fmt.Errorf("chains config: %w", err)
	}
	chains := make([]model.Chain, 0, len(chainCfgs))
	for _, cc := range chainCfgs {
		c, err := cc.toModel()
		if err != nil {
			return Config{}, err
		}
		chains = append(chains, c)
	}

	cfg := Config{
		ListenAddr:        v.GetString("listen"),
		PGDSN:             v.GetString("pg-dsn"),
		LogLevel:          v.GetString("log-level"),
		MetricsEnabled:    v.GetBool("metrics-enabled"),
		DepositAddress:    v.GetString("deposit-address"),
		CustodialKey:      v.GetString("custodial-key"),
		RegistrarURL:      v.GetString("registrar-url"),
		RegistrarReferrer: v.GetString("registrar-referrer"),
		RegistrarContract: v.GetString("registrar-contract"),
		RegistrarChainID:  v.GetUint64("registrar-chain-id"),
		BasePriceWei:      v.GetString("base-price-wei"),
		GasLimit:          v.GetUint64("gas-limit"),
		WaitTimeout:       v.GetDuration("wait-timeout"),
		AccountServiceURL: v.GetString("account-service-url"),
		AuditLog:          v.GetString("audit-log"),
		Chains:            chains,
	}

	return cfg, nil
}

func (cc ChainConfig) toModel() (model.Chain, error) {
	if cc.Name == "" || cc.ChainID == 0 || cc.RPC == "" {
		return model.Chain{}, fmt.Errorf("chain entry needs name, chain-id and rpc")
	}
	minAmount, err := decimal.NewFromString(defaultString(cc.MinAmount, "0"))
	if err != nil {
		return model.Chain{}, fmt.Errorf("chain %s min-amount: %w", cc.Name, err)
	}
	rate, err := decimal.NewFromString(defaultString(cc.CreditRate, "0"))
	if err != nil {
		return model.Chain{}, fmt.Errorf("chain %s credit-rate: %w", cc.Name, err)
	}
	decimals := cc.Decimals
	if decimals == 0 {
		decimals = 18
	}
	return model.Chain{
		Name:       cc.Name,
		ChainID:    cc.ChainID,
		RPCURL:     cc.RPC,
		Decimals:   decimals,
		MinAmount:  minAmount,
		CreditRate: rate,
	}, nil
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
