// Package registry keeps the token mappings between the home chain and the remote chains.
package registry

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"gobridgeledger/acl"
	"gobridgeledger/redis"
	"gobridgeledger/types"
)

type Registry struct {
	store       *redis.Store
	roles       *acl.List
	homeChainID uint64
	allowed     map[uint64]struct{}
	defaults    *types.BridgeLimits
	log         *zap.SugaredLogger
	now         func() time.Time
}

// New takes the allow-list of remote chains and the limits a token gets on its first mapping
func New(store *redis.Store, roles *acl.List, homeChainID uint64, allowedChains []uint64, defaults *types.BridgeLimits, log *zap.SugaredLogger) *Registry {
	allowed := make(map[uint64]struct{}, len(allowedChains))
	for _, id := range allowedChains {
		if id != homeChainID {
			allowed[id] = struct{}{}
		}
	}
	return &Registry{
		store:       store,
		roles:       roles,
		homeChainID: homeChainID,
		allowed:     allowed,
		defaults:    defaults,
		log:         log.Named("registry"),
		now:         time.Now,
	}
}

func (r *Registry) HomeChainID() uint64 {
	return r.homeChainID
}

func (r *Registry) ChainAllowed(chainID uint64) bool {
	_, ok := r.allowed[chainID]
	return ok
}

func (r *Registry) CheckChain(chainID uint64) error {
	if !r.ChainAllowed(chainID) {
		return types.Errorf(types.ErrChainUnsupported, "chain %d", chainID)
	}
	return nil
}

// CreateMapping registers an active mapping for (home, chainID). A representation token can
// back only one active mapping per chain.
func (r *Registry) CreateMapping(ctx context.Context, caller string, home, remote common.Address, chainID uint64) (*types.TokenMapping, error) {
	if err := r.roles.Require(caller, acl.RoleAdmin); err != nil {
		return nil, err
	}
	if err := r.CheckChain(chainID); err != nil {
		return nil, err
	}
	if home == (common.Address{}) || remote == (common.Address{}) {
		return nil, types.Errorf(types.ErrInvalidRequest, "zero token address")
	}

	m := &types.TokenMapping{
		HomeToken:     home,
		RemoteToken:   remote,
		RemoteChainID: chainID,
		Active:        true,
		TotalBridged:  new(big.Int),
		CreatedAt:     r.now().Unix(),
	}
	if err := r.store.CreateMapping(ctx, m, r.defaults, types.NewRecord(types.RecordMappingCreated, m)); err != nil {
		if errors.Is(err, types.ErrMappingExists) {
			return nil, err
		}
		return nil, types.Wrap(types.ErrInternal, err, "creating mapping")
	}
	r.log.Infow("Mapping created", "home", home.Hex(), "remote", remote.Hex(), "chain", chainID, "by", caller)
	return m, nil
}

// Deactivate is a no-op on an inactive or missing mapping. Pending operations opened against
// the mapping still resolve.
func (r *Registry) Deactivate(ctx context.Context, caller string, home common.Address, chainID uint64) error {
	if err := r.roles.Require(caller, acl.RoleAdmin); err != nil {
		return err
	}
	at := r.now().Unix()
	rec := types.NewRecord(types.RecordMappingDeactivated, map[string]interface{}{
		"homeToken":     home,
		"remoteChainId": chainID,
		"deactivatedAt": at,
	})
	changed, err := r.store.DeactivateMapping(ctx, home, chainID, at, rec)
	if err != nil {
		return types.Wrap(types.ErrInternal, err, "deactivating mapping")
	}
	if changed {
		r.log.Infow("Mapping deactivated", "home", home.Hex(), "chain", chainID, "by", caller)
	}
	return nil
}

// Lookup returns nil when no mapping was ever created for the pair
func (r *Registry) Lookup(ctx context.Context, home common.Address, chainID uint64) (*types.TokenMapping, error) {
	m, err := r.store.GetMapping(ctx, home, chainID)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "reading mapping")
	}
	return m, nil
}

func (r *Registry) LookupByRemote(ctx context.Context, remote common.Address, chainID uint64) (*types.TokenMapping, error) {
	m, err := r.store.GetMappingByRemote(ctx, remote, chainID)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "reading mapping")
	}
	return m, nil
}

// Active is Lookup that fails with MappingInactive unless the mapping can take new operations
func (r *Registry) Active(ctx context.Context, home common.Address, chainID uint64) (*types.TokenMapping, error) {
	m, err := r.Lookup(ctx, home, chainID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Active {
		return nil, types.Errorf(types.ErrMappingInactive, "%s on chain %d", home.Hex(), chainID)
	}
	return m, nil
}

func (r *Registry) List(ctx context.Context) ([]*types.TokenMapping, error) {
	return r.store.ListMappings(ctx)
}

func (r *Registry) History(ctx context.Context, home common.Address, chainID uint64) ([]*types.TokenMapping, error) {
	return r.store.MappingHistory(ctx, home, chainID)
}
