package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gomodule/redigo/redis"

	"gobridgeledger/types"
)

// IDFunc derives the operation id once the store has assigned the nonce
type IDFunc func(op *types.BridgeOperation) common.Hash

var errIDCollision = errors.New("operation id collision")

// nextOpNonce hands out the global operation nonce. It only has to be unique, so it is taken
// outside the admission transaction and gaps are harmless.
func (s *Store) nextOpNonce(ctx context.Context) (uint64, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	return redis.Uint64(conn.Do("INCR", keyOpsNonce))
}

// OpenOperation commits a new Pending operation together with its daily volume increment.
// The mapping must still be active and the volume after adding the amount must stay within
// dailyLimit, both are re-checked against watched keys so a concurrent writer cannot slip past.
// An id that is already taken is retried with a fresh nonce.
func (s *Store) OpenOperation(ctx context.Context, op *types.BridgeOperation, dailyLimit *big.Int, idFn IDFunc, rec func(*types.BridgeOperation) *types.Record) error {
	mkey := mappingKey(op.HomeToken, op.RemoteChainID())
	vkey := volumeKey(op.HomeToken, op.DayBucket)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		nonce, err := s.nextOpNonce(ctx)
		if err != nil {
			return err
		}
		op.Nonce = nonce
		op.ID = idFn(op)
		key := opKey(op.ID)

		err = s.transact(ctx, []string{mkey, vkey, key}, func(conn redis.Conn) ([]command, error) {
			var m types.TokenMapping
			found, err := getJSON(conn, mkey, &m)
			if err != nil {
				return nil, err
			}
			if !found || !m.Active {
				return nil, types.Errorf(types.ErrMappingInactive, "%s on chain %d", op.HomeToken.Hex(), op.RemoteChainID())
			}

			volume, err := getBig(conn, vkey)
			if err != nil {
				return nil, err
			}
			newVolume := new(big.Int).Add(volume, op.Amount)
			if newVolume.Cmp(dailyLimit) > 0 {
				return nil, types.Errorf(types.ErrDailyLimitExceeded, "volume %s + %s > %s", volume, op.Amount, dailyLimit)
			}

			exists, err := redis.Bool(conn.Do("EXISTS", key))
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, errIDCollision
			}

			cmds := []command{
				cmd("SET", vkey, newVolume.String()),
				cmd("SET", key, mustJSON(op)),
				cmd("ZADD", userOpsKey(op.User), op.Nonce, op.ID.Hex()),
				cmd("SADD", keyUndispatched, op.ID.Hex()),
			}
			if rec != nil {
				cmds = append(cmds, recordCmds(rec(op))...)
			}
			return cmds, nil
		})
		if errors.Is(err, errIDCollision) {
			continue
		}
		return err
	}
	return types.Wrap(types.ErrInternal, errIDCollision, "no free id after %d nonces", maxTxRetries)
}

// ClaimResolution reserves a Pending operation for a single resolver before any funds move.
// While the claim is held every other complete or cancel fails with OperationNotPending;
// ResolveOperation drops it, ReleaseResolution gives it back when the resolution is abandoned.
func (s *Store) ClaimResolution(ctx context.Context, id common.Hash) (*types.BridgeOperation, error) {
	key := opKey(id)
	ckey := resolvingKey(id)
	var claimed *types.BridgeOperation

	err := s.transact(ctx, []string{key, ckey}, func(conn redis.Conn) ([]command, error) {
		var op types.BridgeOperation
		found, err := getJSON(conn, key, &op)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, types.Errorf(types.ErrOperationNotFound, "%s", id.Hex())
		}
		if op.Status != types.StatusPending {
			return nil, types.Errorf(types.ErrOperationNotPending, "%s is %s", id.Hex(), op.Status)
		}
		busy, err := redis.Bool(conn.Do("EXISTS", ckey))
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, types.Errorf(types.ErrOperationNotPending, "%s is being resolved", id.Hex())
		}
		claimed = &op
		return []command{cmd("SET", ckey, 1)}, nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) ReleaseResolution(ctx context.Context, id common.Hash) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("DEL", resolvingKey(id))
	return err
}

// ClaimDispatch leases an operation to one sender for ttl, false means someone else holds it.
// MarkDispatched ends the lease, a crashed sender's lease simply runs out.
func (s *Store) ClaimDispatch(ctx context.Context, id common.Hash, ttl time.Duration) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	_, err = redis.String(conn.Do("SET", dispatchingKey(id), 1, "NX", "PX", ttl.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ReleaseDispatch(ctx context.Context, id common.Hash) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("DEL", dispatchingKey(id))
	return err
}

// Resolver decides the terminal state of a Pending operation, it may return a typed error to abort
type Resolver func(op *types.BridgeOperation) error

// ResolveOperation moves a Pending operation to its terminal status and drops its resolution
// claim. Completion also grows TotalBridged of the mapping generation the operation was opened
// against, archived or current, in the same transaction. A concurrent resolution makes this one
// fail with OperationNotPending.
func (s *Store) ResolveOperation(ctx context.Context, id common.Hash, resolve Resolver, rec func(*types.BridgeOperation) *types.Record) (*types.BridgeOperation, error) {
	key := opKey(id)
	var resolved *types.BridgeOperation

	err := s.transact(ctx, []string{key}, func(conn redis.Conn) ([]command, error) {
		var op types.BridgeOperation
		found, err := getJSON(conn, key, &op)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, types.Errorf(types.ErrOperationNotFound, "%s", id.Hex())
		}
		if op.Status != types.StatusPending {
			return nil, types.Errorf(types.ErrOperationNotPending, "%s is %s", id.Hex(), op.Status)
		}
		if err := resolve(&op); err != nil {
			return nil, err
		}

		var cmds []command
		if op.Status == types.StatusCompleted {
			credit, err := creditBridged(conn, &op)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, credit...)
		}

		cmds = append(cmds,
			cmd("SET", key, mustJSON(op)),
			cmd("SREM", keyUndispatched, op.ID.Hex()),
			cmd("DEL", resolvingKey(id)),
		)
		if rec != nil {
			cmds = append(cmds, recordCmds(rec(&op))...)
		}
		resolved = &op
		return cmds, nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// creditBridged adds a completed amount to the mapping the operation was opened against. When
// the pair was re-created since, that record lives in the history list.
func creditBridged(conn redis.Conn, op *types.BridgeOperation) ([]command, error) {
	mkey := mappingKey(op.HomeToken, op.RemoteChainID())
	hkey := mappingHistoryKey(op.HomeToken, op.RemoteChainID())
	if _, err := conn.Do("WATCH", mkey, hkey); err != nil {
		return nil, err
	}

	var m types.TokenMapping
	found, err := getJSON(conn, mkey, &m)
	if err != nil {
		return nil, err
	}
	if found && (op.MappingGen == 0 || m.Generation == op.MappingGen) {
		addBridged(&m, op.Amount)
		return []command{cmd("SET", mkey, mustJSON(m))}, nil
	}

	items, err := redis.ByteSlices(conn.Do("LRANGE", hkey, 0, -1))
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		var old types.TokenMapping
		if err := json.Unmarshal(item, &old); err != nil {
			return nil, err
		}
		if old.Generation == op.MappingGen {
			addBridged(&old, op.Amount)
			return []command{cmd("LSET", hkey, i, mustJSON(old))}, nil
		}
	}
	return nil, nil
}

func addBridged(m *types.TokenMapping, amount *big.Int) {
	if m.TotalBridged == nil {
		m.TotalBridged = new(big.Int)
	}
	m.TotalBridged.Add(m.TotalBridged, amount)
}

// MarkDispatched records which backend carried the operation and drops it from the outbox
func (s *Store) MarkDispatched(ctx context.Context, id common.Hash, msg *types.Message, rec *types.Record) error {
	key := opKey(id)

	return s.transact(ctx, []string{key}, func(conn redis.Conn) ([]command, error) {
		var op types.BridgeOperation
		found, err := getJSON(conn, key, &op)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, types.Errorf(types.ErrOperationNotFound, "%s", id.Hex())
		}
		op.Dispatched = true
		op.BackendID = msg.BackendID
		op.MessageID = msg.ID
		op.Fee = msg.Fee

		cmds := []command{
			cmd("SET", key, mustJSON(op)),
			cmd("SREM", keyUndispatched, id.Hex()),
			cmd("DEL", dispatchingKey(id)),
		}
		return append(cmds, recordCmds(rec)...), nil
	})
}

// AssignBackend pins the backend an operation is routed through before dispatch is attempted
func (s *Store) AssignBackend(ctx context.Context, id common.Hash, backendID string) error {
	key := opKey(id)

	return s.transact(ctx, []string{key}, func(conn redis.Conn) ([]command, error) {
		var op types.BridgeOperation
		found, err := getJSON(conn, key, &op)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, types.Errorf(types.ErrOperationNotFound, "%s", id.Hex())
		}
		op.BackendID = backendID
		return []command{cmd("SET", key, mustJSON(op))}, nil
	})
}

func (s *Store) GetOperation(ctx context.Context, id common.Hash) (*types.BridgeOperation, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var op types.BridgeOperation
	found, err := getJSON(conn, opKey(id), &op)
	if err != nil || !found {
		return nil, err
	}
	return &op, nil
}

func (s *Store) getOperations(conn redis.Conn, ids []string) ([]*types.BridgeOperation, error) {
	ops := make([]*types.BridgeOperation, 0, len(ids))
	for _, id := range ids {
		var op types.BridgeOperation
		found, err := getJSON(conn, opKey(common.HexToHash(id)), &op)
		if err != nil {
			return nil, err
		}
		if found {
			ops = append(ops, &op)
		}
	}
	return ops, nil
}

// ListOperations pages a user's operations in creation order
func (s *Store) ListOperations(ctx context.Context, user common.Address, offset, limit int) ([]*types.BridgeOperation, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	ids, err := redis.Strings(conn.Do("ZRANGE", userOpsKey(user), offset, offset+limit-1))
	if err != nil {
		return nil, err
	}
	return s.getOperations(conn, ids)
}

// ListUndispatched returns Pending operations whose dispatch never succeeded
func (s *Store) ListUndispatched(ctx context.Context, limit int) ([]*types.BridgeOperation, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if limit <= 0 {
		limit = defaultListLimit
	}
	ids, err := redis.Strings(conn.Do("SRANDMEMBER", keyUndispatched, limit))
	if err != nil {
		return nil, err
	}
	return s.getOperations(conn, ids)
}

func (s *Store) GetDailyVolume(ctx context.Context, home common.Address, day string) (*big.Int, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return getBig(conn, volumeKey(home, day))
}
