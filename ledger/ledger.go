// Package ledger opens, dispatches and resolves bridge operations.
//
// Every operation is admitted under a per-home-token lock: validation, the custody
// reservation and the store commit happen in that order, and a commit failure undoes the
// reservation. Only after the Pending record is committed is the message handed to a backend,
// so a crash after dispatch still leaves a resolvable operation.
package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"gobridgeledger/acl"
	"gobridgeledger/custody"
	"gobridgeledger/redis"
	"gobridgeledger/registry"
	"gobridgeledger/router"
	"gobridgeledger/types"
)

const dayLayout = "2006-01-02"

type Config struct {
	HomeChainID uint64
	MinAmount   *big.Int
	MaxAmount   *big.Int
	// limits of a token that never had SetLimits called
	DefaultLimits *types.BridgeLimits
	// completions later than this after opening fail with OperationExpired
	OperationTimeout time.Duration
	// gas forwarded to backends when the caller gives none
	GasBudget uint64
	// how long a sender owns an operation while its message is on the wire
	DispatchLease time.Duration
}

const defaultDispatchLease = 2 * time.Minute

type Ledger struct {
	cfg      Config
	store    *redis.Store
	registry *registry.Registry
	router   *router.Router
	custody  custody.Executor
	roles    *acl.List
	log      *zap.SugaredLogger
	now      func() time.Time

	// admin limit changes take it exclusively, the write path shared
	cfgMu sync.RWMutex
	locks tokenLocks
}

func New(cfg Config, store *redis.Store, reg *registry.Registry, r *router.Router, exec custody.Executor, roles *acl.List, log *zap.SugaredLogger) *Ledger {
	if cfg.DispatchLease <= 0 {
		cfg.DispatchLease = defaultDispatchLease
	}
	return &Ledger{
		cfg:      cfg,
		store:    store,
		registry: reg,
		router:   r,
		custody:  exec,
		roles:    roles,
		log:      log.Named("ledger"),
		now:      time.Now,
		locks:    tokenLocks{m: make(map[common.Address]*sync.Mutex)},
	}
}

// tokenLocks serializes the write path per home token
type tokenLocks struct {
	mu sync.Mutex
	m  map[common.Address]*sync.Mutex
}

func (t *tokenLocks) lock(token common.Address) func() {
	t.mu.Lock()
	l, ok := t.m[token]
	if !ok {
		l = &sync.Mutex{}
		t.m[token] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (l *Ledger) day(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// operationID hashes the home token, both chain ids, both parties, the amount, the store nonce
// and the time
func operationID(op *types.BridgeOperation) common.Hash {
	return crypto.Keccak256Hash(
		op.HomeToken.Bytes(),
		math.U256Bytes(new(big.Int).SetUint64(op.SourceChainID)),
		math.U256Bytes(new(big.Int).SetUint64(op.TargetChainID)),
		op.User.Bytes(),
		op.Recipient.Bytes(),
		math.U256Bytes(new(big.Int).Set(op.Amount)),
		math.U256Bytes(new(big.Int).SetUint64(op.Nonce)),
		math.U256Bytes(big.NewInt(op.CreatedAt)),
	)
}

func (l *Ledger) GetOperation(ctx context.Context, id common.Hash) (*types.BridgeOperation, error) {
	op, err := l.store.GetOperation(ctx, id)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "reading operation")
	}
	return op, nil
}

func (l *Ledger) ListOperations(ctx context.Context, user common.Address, offset, limit int) ([]*types.BridgeOperation, error) {
	ops, err := l.store.ListOperations(ctx, user, offset, limit)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "listing operations")
	}
	return ops, nil
}

func (l *Ledger) GetMapping(ctx context.Context, home common.Address, chainID uint64) (*types.TokenMapping, error) {
	return l.registry.Lookup(ctx, home, chainID)
}

// GetDailyVolume reads the volume of a day, an empty day means today
func (l *Ledger) GetDailyVolume(ctx context.Context, home common.Address, day string) (*big.Int, error) {
	if day == "" {
		day = l.day(l.now())
	} else if _, err := time.Parse(dayLayout, day); err != nil {
		return nil, types.Errorf(types.ErrInvalidRequest, "day %q is not YYYY-MM-DD", day)
	}
	v, err := l.store.GetDailyVolume(ctx, home, day)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "reading volume")
	}
	return v, nil
}

// GetLimits falls back to the configured defaults
func (l *Ledger) GetLimits(ctx context.Context, home common.Address) (*types.BridgeLimits, error) {
	limits, err := l.store.GetLimits(ctx, home)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "reading limits")
	}
	if limits == nil {
		return l.cfg.DefaultLimits, nil
	}
	return limits, nil
}

func (l *Ledger) SetLimits(ctx context.Context, caller string, home common.Address, daily, single *big.Int) error {
	if err := l.roles.Require(caller, acl.RoleAdmin); err != nil {
		return err
	}
	if daily == nil || single == nil || daily.Cmp(single) < 0 || single.Cmp(l.cfg.MinAmount) < 0 {
		return types.Errorf(types.ErrInvalidLimits, "daily %v, single %v, minimum %s", daily, single, l.cfg.MinAmount)
	}

	l.cfgMu.Lock()
	defer l.cfgMu.Unlock()

	limits := &types.BridgeLimits{DailyLimit: new(big.Int).Set(daily), SingleOperationLimit: new(big.Int).Set(single)}
	rec := types.NewRecord(types.RecordLimitsUpdated, map[string]interface{}{
		"homeToken": home,
		"limits":    limits,
	})
	if err := l.store.SetLimits(ctx, home, limits, rec); err != nil {
		return types.Wrap(types.ErrInternal, err, "saving limits")
	}
	l.log.Infow("Limits updated", "token", home.Hex(), "daily", daily.String(), "single", single.String(), "by", caller)
	return nil
}

func (l *Ledger) Pause(ctx context.Context, caller string) error {
	return l.setPaused(ctx, caller, true)
}

func (l *Ledger) Unpause(ctx context.Context, caller string) error {
	return l.setPaused(ctx, caller, false)
}

func (l *Ledger) setPaused(ctx context.Context, caller string, paused bool) error {
	if err := l.roles.Require(caller, acl.RoleAdmin); err != nil {
		return err
	}
	kind := types.RecordUnpaused
	if paused {
		kind = types.RecordPaused
	}
	rec := types.NewRecord(kind, map[string]string{"by": caller})
	if err := l.store.SetPaused(ctx, paused, rec); err != nil {
		return types.Wrap(types.ErrInternal, err, "saving pause flag")
	}
	l.log.Infow("Pause flag changed", "paused", paused, "by", caller)
	return nil
}

func (l *Ledger) Paused(ctx context.Context) (bool, error) {
	paused, err := l.store.IsPaused(ctx)
	if err != nil {
		return false, types.Wrap(types.ErrInternal, err, "reading pause flag")
	}
	return paused, nil
}

// EstimateFee is the router's estimate for the backend that would carry an operation now
func (l *Ledger) EstimateFee(ctx context.Context, chainID uint64, gasBudget uint64, payload []byte) (*big.Int, string, error) {
	if err := l.registry.CheckChain(chainID); err != nil {
		return nil, "", err
	}
	if gasBudget == 0 {
		gasBudget = l.cfg.GasBudget
	}
	return l.router.EstimateFee(ctx, chainID, gasBudget, payload)
}
