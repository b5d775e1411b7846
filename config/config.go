package config

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"gobridgeledger/types"
)

type Configuration struct {
	// Server config
	Server struct {
		Listen    string            `yaml:"listen" envconfig:"LISTEN"`
		UseSSL    bool              `yaml:"ssl" envconfig:"SSL"`
		RedisPort int               `yaml:"redis_port" envconfig:"REDIS_PORT"`
		RedisHost string            `yaml:"redis_host" envconfig:"REDIS_HOST"`
		LogLevel  string            `yaml:"log_level" envconfig:"LOG_LEVEL"`
		LogDir    string            `yaml:"log_dir" envconfig:"LOG_DIR"`
		APIKeys   map[string]string `yaml:"api_keys" ignored:"true"` // key -> principal
		// how far X-Signature-Time may drift from the server clock
		SignatureWindow time.Duration `yaml:"signature_window" envconfig:"SIGNATURE_WINDOW"`
	} `yaml:"server"`
	// Ledger-wide parameters
	Ledger struct {
		HomeChainID uint64 `yaml:"home_chain_id" envconfig:"HOME_CHAIN_ID"`
		// amounts are decimal strings in token base units
		MinAmount          string `yaml:"min_amount" envconfig:"MIN_AMOUNT"`
		MaxAmount          string `yaml:"max_amount" envconfig:"MAX_AMOUNT"`
		DefaultDailyLimit  string `yaml:"default_daily_limit" envconfig:"DEFAULT_DAILY_LIMIT"`
		DefaultSingleLimit string `yaml:"default_single_limit" envconfig:"DEFAULT_SINGLE_LIMIT"`
		// completions older than this are rejected, cancel is never time-bound
		OperationTimeout   time.Duration `yaml:"operation_timeout" envconfig:"OPERATION_TIMEOUT"`
		RedispatchInterval time.Duration `yaml:"redispatch_interval" envconfig:"REDISPATCH_INTERVAL"`
		// how long one sender owns an operation it is dispatching
		DispatchLease time.Duration `yaml:"dispatch_lease" envconfig:"DISPATCH_LEASE"`
		// destination gas forwarded when a request names none
		GasBudget   uint64        `yaml:"gas_budget" envconfig:"GAS_BUDGET"`
		GasPriceTTL time.Duration `yaml:"gas_price_ttl" envconfig:"GAS_PRICE_TTL"`
	} `yaml:"ledger"`
	Chains []ChainConfig `yaml:"chains" ignored:"true"`
	Roles  struct {
		Admins    []string `yaml:"admins" envconfig:"ADMINS"`
		Resolvers []string `yaml:"resolvers" envconfig:"RESOLVERS"`
		// may open operations on behalf of any user
		Gateways  []string `yaml:"gateways" envconfig:"GATEWAYS"`
	} `yaml:"roles"`
	Custody struct {
		Mode string `yaml:"mode" envconfig:"CUSTODY_MODE"` // memory | rpc
		URL  string `yaml:"url" envconfig:"CUSTODY_URL"`
	} `yaml:"custody"`
	Services []ServiceConfig `yaml:"services" ignored:"true"`
	Routing  struct {
		Default   string            `yaml:"default" envconfig:"ROUTING_DEFAULT"`
		Preferred map[uint64]string `yaml:"preferred" ignored:"true"`
	} `yaml:"routing"`
}

// EVM-chains configs, the allow-list
type ChainConfig struct {
	Name    string   `yaml:"name"`
	ChainID uint64   `yaml:"chain_id"`
	RPCList []string `yaml:"rpc"`
}

// One backend instance
type ServiceConfig struct {
	ID              string            `yaml:"id"`
	Type            types.ServiceType `yaml:"type"`
	Active          bool              `yaml:"active"`
	Priority        int               `yaml:"priority"`
	SupportedChains []uint64          `yaml:"supported_chains"`

	// relayer
	Validators    []string `yaml:"validators"`
	Threshold     int      `yaml:"threshold"`
	BaseFee       string   `yaml:"base_fee"`
	PerByteFee    string   `yaml:"per_byte_fee"`
	GasMultiplier string   `yaml:"gas_multiplier"` // e.g. "2" on testnets
	GasPriceWei   string   `yaml:"gas_price_wei"`  // fixed price, used unless use_chain_gas
	UseChainGas   bool     `yaml:"use_chain_gas"`

	// endpoint
	EndpointURL       string            `yaml:"endpoint_url"`
	EndpointPrincipal string            `yaml:"endpoint_principal"`
	LocalAddress      string            `yaml:"local_address"`
	TrustedRemotes    map[uint64]string `yaml:"trusted_remotes"`
	AdapterGas        uint64            `yaml:"adapter_gas"`
}

const (
	CustodyMemory = "memory"
	CustodyRPC    = "rpc"
)

func (c *Configuration) Chain(chainID uint64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// AllowedChains returns remote chain ids (home chain excluded)
func (c *Configuration) AllowedChains() []uint64 {
	ids := make([]uint64, 0, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ChainID != c.Ledger.HomeChainID {
			ids = append(ids, ch.ChainID)
		}
	}
	return ids
}

func parseAmount(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", name, s)
	}
	return v, nil
}

// Amounts parses the ledger amount settings
func (c *Configuration) Amounts() (min, max, daily, single *big.Int, err error) {
	if min, err = parseAmount("min_amount", c.Ledger.MinAmount); err != nil {
		return
	}
	if max, err = parseAmount("max_amount", c.Ledger.MaxAmount); err != nil {
		return
	}
	if daily, err = parseAmount("default_daily_limit", c.Ledger.DefaultDailyLimit); err != nil {
		return
	}
	single, err = parseAmount("default_single_limit", c.Ledger.DefaultSingleLimit)
	return
}

func (c *Configuration) Validate() error {
	if c.Ledger.HomeChainID == 0 {
		return errors.New("ledger.home_chain_id is required")
	}
	if _, ok := c.Chain(c.Ledger.HomeChainID); !ok {
		return fmt.Errorf("home chain %d missing from chains", c.Ledger.HomeChainID)
	}
	min, max, daily, single, err := c.Amounts()
	if err != nil {
		return err
	}
	if min.Cmp(max) > 0 {
		return errors.New("ledger.min_amount greater than max_amount")
	}
	if daily.Cmp(single) < 0 || single.Cmp(min) < 0 {
		return errors.New("default limits must satisfy daily >= single >= min_amount")
	}
	if c.Custody.Mode != CustodyMemory && c.Custody.Mode != CustodyRPC {
		return fmt.Errorf("unknown custody mode %q", c.Custody.Mode)
	}
	if c.Custody.Mode == CustodyRPC && c.Custody.URL == "" {
		return errors.New("custody.url is required in rpc mode")
	}

	seen := make(map[string]bool)
	for _, s := range c.Services {
		if s.ID == "" {
			return errors.New("service without id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate service %s", s.ID)
		}
		seen[s.ID] = true
		if !s.Type.Valid() {
			return fmt.Errorf("service %s: unknown type %q", s.ID, s.Type)
		}
		switch s.Type {
		case types.ServiceRelayerVerified:
			if s.Threshold <= 0 || s.Threshold > len(s.Validators) {
				return fmt.Errorf("service %s: threshold %d out of range for %d validators", s.ID, s.Threshold, len(s.Validators))
			}
		case types.ServiceEndpointTrusted:
			if s.EndpointPrincipal == "" {
				return fmt.Errorf("service %s: endpoint_principal is required", s.ID)
			}
			if s.EndpointURL == "" {
				return fmt.Errorf("service %s: endpoint_url is required", s.ID)
			}
		}
	}
	if c.Routing.Default != "" && !seen[c.Routing.Default] {
		return fmt.Errorf("routing.default references unknown service %s", c.Routing.Default)
	}
	for chain, id := range c.Routing.Preferred {
		if !seen[id] {
			return fmt.Errorf("routing.preferred[%d] references unknown service %s", chain, id)
		}
	}
	return nil
}

func (c *Configuration) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.RedisHost == "" {
		c.Server.RedisHost = "127.0.0.1"
	}
	if c.Server.RedisPort == 0 {
		c.Server.RedisPort = 6379
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.SignatureWindow == 0 {
		c.Server.SignatureWindow = 5 * time.Minute
	}
	if c.Ledger.OperationTimeout == 0 {
		c.Ledger.OperationTimeout = 7 * 24 * time.Hour
	}
	if c.Ledger.RedispatchInterval == 0 {
		c.Ledger.RedispatchInterval = 15 * time.Second
	}
	if c.Ledger.DispatchLease == 0 {
		c.Ledger.DispatchLease = 2 * time.Minute
	}
	if c.Ledger.GasBudget == 0 {
		c.Ledger.GasBudget = 200000
	}
	if c.Ledger.GasPriceTTL == 0 {
		c.Ledger.GasPriceTTL = time.Minute
	}
	if c.Custody.Mode == "" {
		c.Custody.Mode = CustodyMemory
	}
}
