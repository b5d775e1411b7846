package main

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gobridgeledger/EVMRPC"
	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc"
	"gobridgeledger/bridgesvc/endpoint"
	"gobridgeledger/bridgesvc/relayer"
	"gobridgeledger/config"
	"gobridgeledger/ledger"
	"gobridgeledger/redis"
	"gobridgeledger/router"
	"gobridgeledger/types"
)

// systemPrincipal registers the configured backends at startup
const systemPrincipal = "system"

func optionalAmount(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", name, s)
	}
	return v, nil
}

func feeModel(sc config.ServiceConfig, gas *EVMRPC.GasOracle) (*relayer.FeeModel, error) {
	base, err := optionalAmount("base_fee", sc.BaseFee)
	if err != nil {
		return nil, err
	}
	perByte, err := optionalAmount("per_byte_fee", sc.PerByteFee)
	if err != nil {
		return nil, err
	}
	fees := &relayer.FeeModel{BaseFee: base, PerByteFee: perByte}
	if sc.GasMultiplier != "" {
		if fees.GasMultiplier, err = decimal.NewFromString(sc.GasMultiplier); err != nil {
			return nil, fmt.Errorf("gas_multiplier: %w", err)
		}
	}
	switch {
	case sc.UseChainGas:
		fees.Gas = gas
	case sc.GasPriceWei != "":
		price, err := optionalAmount("gas_price_wei", sc.GasPriceWei)
		if err != nil {
			return nil, err
		}
		fees.Gas = EVMRPC.StaticGasPrice{Price: price}
	}
	return fees, nil
}

func newRelayer(sc config.ServiceConfig, store *redis.Store, roles *acl.List, gas *EVMRPC.GasOracle, log *zap.SugaredLogger) (*relayer.Service, error) {
	validators := make([]common.Address, 0, len(sc.Validators))
	for _, v := range sc.Validators {
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid validator address %q", v)
		}
		validators = append(validators, common.HexToAddress(v))
	}
	fees, err := feeModel(sc, gas)
	if err != nil {
		return nil, err
	}
	return relayer.New(relayer.Config{
		ID:         sc.ID,
		Chains:     sc.SupportedChains,
		Validators: validators,
		Threshold:  sc.Threshold,
		Fees:       fees,
	}, store, nil, roles, log)
}

func newEndpoint(sc config.ServiceConfig, homeChainID uint64, store *redis.Store, roles *acl.List, log *zap.SugaredLogger) (*endpoint.Service, error) {
	remotes := make(map[uint64][]byte, len(sc.TrustedRemotes))
	for chain, hex := range sc.TrustedRemotes {
		b, err := hexutil.Decode(hex)
		if err != nil {
			return nil, fmt.Errorf("trusted remote of chain %d: %w", chain, err)
		}
		remotes[chain] = b
	}
	var local common.Address
	if sc.LocalAddress != "" {
		if !common.IsHexAddress(sc.LocalAddress) {
			return nil, fmt.Errorf("invalid local address %q", sc.LocalAddress)
		}
		local = common.HexToAddress(sc.LocalAddress)
	}
	return endpoint.New(endpoint.Config{
		ID:             sc.ID,
		Chains:         sc.SupportedChains,
		LocalChainID:   homeChainID,
		LocalAddress:   local,
		Principal:      sc.EndpointPrincipal,
		TrustedRemotes: remotes,
		AdapterGas:     sc.AdapterGas,
	}, endpoint.NewRPCEndpoint(sc.EndpointURL, nil), store, nil, roles, log), nil
}

// handlerSetter is implemented by both backend variants
type handlerSetter interface {
	bridgesvc.Backend
	SetHandler(h bridgesvc.Handler)
}

// registerServices builds every configured backend, wires it to the ledger and publishes the
// routing table
func registerServices(cfg *config.Configuration, l *ledger.Ledger, r *router.Router, store *redis.Store, roles *acl.List, log *zap.SugaredLogger) error {
	rpc := make(map[uint64][]string, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		rpc[ch.ChainID] = ch.RPCList
	}
	gas := EVMRPC.NewGasOracle(rpc, cfg.Ledger.GasPriceTTL, log.Named("evmrpc"))

	roles.Grant(acl.RoleAdmin, systemPrincipal)
	defer roles.Revoke(acl.RoleAdmin, systemPrincipal)

	for _, sc := range cfg.Services {
		var b handlerSetter
		var err error
		switch sc.Type {
		case types.ServiceRelayerVerified:
			b, err = newRelayer(sc, store, roles, gas, log)
		case types.ServiceEndpointTrusted:
			b, err = newEndpoint(sc, cfg.Ledger.HomeChainID, store, roles, log)
		default:
			err = fmt.Errorf("unknown type %q", sc.Type)
		}
		if err != nil {
			return fmt.Errorf("service %s: %w", sc.ID, err)
		}
		b.SetHandler(l.MessageHandler(sc.ID))

		err = r.Add(systemPrincipal, types.ServiceConfig{
			ID:              sc.ID,
			ServiceType:     sc.Type,
			Active:          sc.Active,
			Priority:        sc.Priority,
			SupportedChains: sc.SupportedChains,
		}, b)
		if err != nil {
			return fmt.Errorf("service %s: %w", sc.ID, err)
		}
	}

	if cfg.Routing.Default != "" {
		if err := r.SetDefault(systemPrincipal, cfg.Routing.Default); err != nil {
			return err
		}
	}
	for chain, id := range cfg.Routing.Preferred {
		if err := r.SetPreferred(systemPrincipal, chain, id); err != nil {
			return fmt.Errorf("routing.preferred[%d]: %w", chain, err)
		}
	}
	return nil
}
