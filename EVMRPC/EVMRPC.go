package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var errNoRPC = errors.New("no rpc endpoints configured")

// WithClient tries f against every rpc url in order until one succeeds
func WithClient[T any](rpcList []string, log *zap.SugaredLogger, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	err = errNoRPC
	var client *ethclient.Client
	for _, url := range rpcList {
		client, err = ethclient.Dial(url)
		if err != nil {
			log.Warnf("Error connecting to %s: %s", url, err.Error())
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil {
			return
		}
		log.Warnf("Error calling %s: %s", url, err.Error())
	}
	return
}

type cachedPrice struct {
	price *big.Int
	at    time.Time
}

// GasOracle reads gas prices from chain rpc endpoints and caches them for ttl
type GasOracle struct {
	rpc map[uint64][]string
	ttl time.Duration
	log *zap.SugaredLogger

	mu    sync.Mutex
	cache map[uint64]cachedPrice
}

func NewGasOracle(rpc map[uint64][]string, ttl time.Duration, log *zap.SugaredLogger) *GasOracle {
	return &GasOracle{
		rpc:   rpc,
		ttl:   ttl,
		log:   log,
		cache: make(map[uint64]cachedPrice),
	}
}

func (o *GasOracle) GasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	o.mu.Lock()
	if c, ok := o.cache[chainID]; ok && time.Since(c.at) < o.ttl {
		o.mu.Unlock()
		return new(big.Int).Set(c.price), nil
	}
	o.mu.Unlock()

	list, ok := o.rpc[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", chainID, errNoRPC)
	}
	price, err := WithClient(list, o.log, func(client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("error getting suggested gas price on %d: %w", chainID, err)
	}

	o.mu.Lock()
	o.cache[chainID] = cachedPrice{price: price, at: time.Now()}
	o.mu.Unlock()
	return new(big.Int).Set(price), nil
}

// StaticGasPrice answers every chain with the same price
type StaticGasPrice struct {
	Price *big.Int
}

func (s StaticGasPrice) GasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	return new(big.Int).Set(s.Price), nil
}
