package main

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc/endpoint"
	"gobridgeledger/config"
	"gobridgeledger/custody"
	"gobridgeledger/ledger"
	"gobridgeledger/redis"
	"gobridgeledger/registry"
	"gobridgeledger/router"
	"gobridgeledger/types"
)

func testConfig() *config.Configuration {
	cfg := &config.Configuration{}
	cfg.Ledger.HomeChainID = 1
	cfg.Chains = []config.ChainConfig{{ChainID: 1}, {ChainID: 56}}
	cfg.Services = []config.ServiceConfig{
		{
			ID:              "hashport",
			Type:            types.ServiceRelayerVerified,
			Active:          true,
			Priority:        10,
			SupportedChains: []uint64{56},
			Validators:      []string{"0x00000000000000000000000000000000000000c3"},
			Threshold:       1,
			BaseFee:         "100",
			GasMultiplier:   "2",
			GasPriceWei:     "3",
		},
		{
			ID:                "lz",
			Type:              types.ServiceEndpointTrusted,
			Active:            true,
			Priority:          5,
			SupportedChains:   []uint64{56},
			EndpointURL:       "http://127.0.0.1:1",
			EndpointPrincipal: "endpoint",
			TrustedRemotes:    map[uint64]string{56: "0x00000000000000000000000000000000000000d4"},
		},
	}
	cfg.Routing.Default = "hashport"
	cfg.Routing.Preferred = map[uint64]string{56: "lz"}
	return cfg
}

func setup(t *testing.T) (*ledger.Ledger, *router.Router, *redis.Store, *acl.List) {
	mr := miniredis.RunT(t)
	store := redis.New(redis.NewPool(mr.Addr()))
	t.Cleanup(func() { store.Close() })

	log := zap.NewNop().Sugar()
	roles := acl.New()
	defaults := &types.BridgeLimits{DailyLimit: big.NewInt(100), SingleOperationLimit: big.NewInt(10)}
	reg := registry.New(store, roles, 1, []uint64{56}, defaults, log)
	rt := router.New(roles, log)
	led := ledger.New(ledger.Config{
		HomeChainID:      1,
		MinAmount:        big.NewInt(1),
		MaxAmount:        big.NewInt(100),
		DefaultLimits:    defaults,
		OperationTimeout: time.Hour,
	}, store, reg, rt, custody.NewMemory(), roles, log)
	return led, rt, store, roles
}

func TestRegisterServices(t *testing.T) {
	led, rt, store, roles := setup(t)
	cfg := testConfig()
	cfg.Ledger.GasPriceTTL = time.Minute

	require.NoError(t, registerServices(cfg, led, rt, store, roles, zap.NewNop().Sugar()))

	services := rt.Services()
	require.Len(t, services, 2)
	assert.Equal(t, "hashport", services[0].ID)
	assert.Equal(t, types.ServiceEndpointTrusted, services[1].ServiceType)

	routing := rt.Routing()
	assert.Equal(t, "hashport", routing.Default)
	assert.Equal(t, "lz", routing.Preferred[56])

	// base 100 + 50000 gas * ceil(3 * 2)
	b, ok := rt.Backend("hashport")
	require.True(t, ok)
	fee, err := b.EstimateFee(context.Background(), 56, 50000, nil)
	require.NoError(t, err)
	assert.Equal(t, "300100", fee.String())

	b, ok = rt.Backend("lz")
	require.True(t, ok)
	remote, ok := b.(*endpoint.Service).TrustedRemote(56)
	require.True(t, ok)
	assert.Len(t, remote, 20)

	assert.True(t, roles.Has("endpoint", acl.EndpointRole("lz")))
	assert.True(t, roles.Has("0x00000000000000000000000000000000000000c3", acl.ValidatorRole("hashport")))
	assert.True(t, roles.Has("service:hashport", acl.RoleResolver))
	// the bootstrap principal does not outlive startup
	assert.False(t, roles.Has(systemPrincipal, acl.RoleAdmin))
}

func TestRegisterServices_Errors(t *testing.T) {
	cases := map[string]func(c *config.Configuration){
		"bad validator":  func(c *config.Configuration) { c.Services[0].Validators = []string{"nope"} },
		"bad multiplier": func(c *config.Configuration) { c.Services[0].GasMultiplier = "x" },
		"bad base fee":   func(c *config.Configuration) { c.Services[0].BaseFee = "-1" },
		"bad remote":     func(c *config.Configuration) { c.Services[1].TrustedRemotes[56] = "zz" },
		"unsupported":    func(c *config.Configuration) { c.Routing.Preferred[137] = "lz" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			led, rt, store, roles := setup(t)
			cfg := testConfig()
			mutate(cfg)
			assert.Error(t, registerServices(cfg, led, rt, store, roles, zap.NewNop().Sugar()))
		})
	}
}
