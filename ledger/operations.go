package ledger

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc"
	"gobridgeledger/metrics"
	"gobridgeledger/router"
	"gobridgeledger/types"
)

// BridgeRequest opens an operation. User is the account the funds are reserved from; the
// caller must be that account or hold the gateway role.
type BridgeRequest struct {
	User          common.Address
	Token         common.Address
	Amount        *big.Int
	RemoteChainID uint64
	Recipient     common.Address
	GasBudget     uint64
}

// BridgeOut locks a home token on the home chain; the representation is minted on the remote
// chain when the operation completes.
func (l *Ledger) BridgeOut(ctx context.Context, caller string, req *BridgeRequest) (*types.BridgeOperation, error) {
	return l.open(ctx, caller, types.DirectionOut, req)
}

// BridgeIn burns a representation token on its remote chain; the home token is unlocked when
// the operation completes.
func (l *Ledger) BridgeIn(ctx context.Context, caller string, req *BridgeRequest) (*types.BridgeOperation, error) {
	return l.open(ctx, caller, types.DirectionIn, req)
}

// reject counts an admission failure by kind
func (l *Ledger) reject(err error) error {
	metrics.AdmissionRejected.WithLabelValues(string(types.AsError(err).Kind)).Inc()
	l.log.Infow("Admission rejected", "error", err)
	return err
}

func (l *Ledger) authorizeActor(caller string, user common.Address) error {
	if strings.EqualFold(strings.TrimSpace(caller), user.Hex()) {
		return nil
	}
	if l.roles.Has(caller, acl.RoleGateway) {
		return nil
	}
	return types.Errorf(types.ErrUnauthorized, "%q cannot act on behalf of %s", caller, user.Hex())
}

func (l *Ledger) open(ctx context.Context, caller string, dir types.Direction, req *BridgeRequest) (*types.BridgeOperation, error) {
	op, route, err := l.admit(ctx, caller, dir, req)
	if err != nil {
		return nil, err
	}

	// dispatch is I/O to another network and runs outside the token lock
	gas := req.GasBudget
	if gas == 0 {
		gas = l.cfg.GasBudget
	}
	claimed, err := l.store.ClaimDispatch(ctx, op.ID, l.cfg.DispatchLease)
	if err != nil {
		l.log.Warnw("Cannot lease operation for dispatch, left for redispatch", "id", op.ID.Hex(), "error", err)
		return op, nil
	}
	if !claimed {
		// the redispatch worker got to it first
		return op, nil
	}
	if err := l.dispatch(ctx, op, route.Backend, gas); err != nil {
		l.log.Warnw("Dispatch failed, operation left for redispatch", "id", op.ID.Hex(), "backend", route.Config.ID, "error", err)
		l.releaseDispatch(ctx, op.ID)
	}
	return op, nil
}

func (l *Ledger) releaseDispatch(ctx context.Context, id common.Hash) {
	if err := l.store.ReleaseDispatch(ctx, id); err != nil {
		l.log.Warnw("Cannot release dispatch lease", "id", id.Hex(), "error", err)
	}
}

// admit validates the request and commits the Pending operation with its reservation
func (l *Ledger) admit(ctx context.Context, caller string, dir types.Direction, req *BridgeRequest) (*types.BridgeOperation, *router.Entry, error) {
	if err := l.authorizeActor(caller, req.User); err != nil {
		return nil, nil, err
	}
	paused, err := l.Paused(ctx)
	if err != nil {
		return nil, nil, err
	}
	if paused {
		return nil, nil, l.reject(types.Errorf(types.ErrBridgePaused, ""))
	}
	if req.Amount == nil || req.Amount.Cmp(l.cfg.MinAmount) < 0 || req.Amount.Cmp(l.cfg.MaxAmount) > 0 {
		return nil, nil, l.reject(types.Errorf(types.ErrInvalidAmount, "%v not in [%s, %s]", req.Amount, l.cfg.MinAmount, l.cfg.MaxAmount))
	}
	if req.Recipient == (common.Address{}) {
		return nil, nil, l.reject(types.Errorf(types.ErrInvalidRequest, "zero recipient"))
	}
	if err := l.registry.CheckChain(req.RemoteChainID); err != nil {
		return nil, nil, l.reject(err)
	}

	mapping, err := l.resolveMapping(ctx, dir, req)
	if err != nil {
		return nil, nil, l.reject(err)
	}

	l.cfgMu.RLock()
	defer l.cfgMu.RUnlock()
	unlock := l.locks.lock(mapping.HomeToken)
	defer unlock()

	// the mapping may have been deactivated while waiting for the lock
	if mapping, err = l.resolveMapping(ctx, dir, req); err != nil {
		return nil, nil, l.reject(err)
	}

	limits, err := l.GetLimits(ctx, mapping.HomeToken)
	if err != nil {
		return nil, nil, err
	}
	if req.Amount.Cmp(limits.SingleOperationLimit) > 0 {
		return nil, nil, l.reject(types.Errorf(types.ErrSingleOpLimitExceeded, "%s > %s", req.Amount, limits.SingleOperationLimit))
	}
	now := l.now()
	day := l.day(now)
	volume, err := l.store.GetDailyVolume(ctx, mapping.HomeToken, day)
	if err != nil {
		return nil, nil, types.Wrap(types.ErrInternal, err, "reading volume")
	}
	if new(big.Int).Add(volume, req.Amount).Cmp(limits.DailyLimit) > 0 {
		return nil, nil, l.reject(types.Errorf(types.ErrDailyLimitExceeded, "volume %s + %s > %s", volume, req.Amount, limits.DailyLimit))
	}

	snap := l.router.Snapshot()
	route, err := snap.Select(req.RemoteChainID)
	if err != nil {
		return nil, nil, l.reject(err)
	}

	op := &types.BridgeOperation{
		Direction:  dir,
		Status:     types.StatusPending,
		User:       req.User,
		Recipient:  req.Recipient,
		HomeToken:  mapping.HomeToken,
		MappingGen: mapping.Generation,
		Amount:     new(big.Int).Set(req.Amount),
		CreatedAt:  now.Unix(),
		DayBucket:  day,
		BackendID:  route.Config.ID,
	}
	if dir == types.DirectionOut {
		op.SourceToken, op.TargetToken = mapping.HomeToken, mapping.RemoteToken
		op.SourceChainID, op.TargetChainID = l.cfg.HomeChainID, mapping.RemoteChainID
	} else {
		op.SourceToken, op.TargetToken = mapping.RemoteToken, mapping.HomeToken
		op.SourceChainID, op.TargetChainID = mapping.RemoteChainID, l.cfg.HomeChainID
	}

	if err := l.reserve(ctx, op); err != nil {
		return nil, nil, l.reject(err)
	}
	err = l.store.OpenOperation(ctx, op, limits.DailyLimit, operationID, func(op *types.BridgeOperation) *types.Record {
		return types.NewRecord(types.RecordOperationOpened, op)
	})
	if err != nil {
		if cerr := l.release(ctx, op); cerr != nil {
			l.log.Errorw("Compensation failed, reservation is stranded", "user", op.User.Hex(), "token", op.SourceToken.Hex(), "chain", op.SourceChainID, "amount", op.Amount.String(), "error", cerr)
		}
		return nil, nil, l.reject(err)
	}
	metrics.OperationsOpened.WithLabelValues(string(dir)).Inc()
	l.log.Infow("Operation opened", "id", op.ID.Hex(), "direction", dir, "user", op.User.Hex(), "amount", op.Amount.String(), "remoteChain", req.RemoteChainID, "backend", route.Config.ID)
	return op, route, nil
}

// resolveMapping finds the active mapping a request bridges through. Outbound requests name the
// home token, inbound ones the representation.
func (l *Ledger) resolveMapping(ctx context.Context, dir types.Direction, req *BridgeRequest) (*types.TokenMapping, error) {
	if dir == types.DirectionOut {
		return l.registry.Active(ctx, req.Token, req.RemoteChainID)
	}
	m, err := l.registry.LookupByRemote(ctx, req.Token, req.RemoteChainID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Active {
		return nil, types.Errorf(types.ErrMappingInactive, "%s on chain %d", req.Token.Hex(), req.RemoteChainID)
	}
	return m, nil
}

// reserve takes the user's funds on the source side: lock a home token, burn a representation
func (l *Ledger) reserve(ctx context.Context, op *types.BridgeOperation) error {
	if op.Direction == types.DirectionOut {
		return l.custody.Lock(ctx, op.SourceChainID, op.SourceToken, op.User, op.Amount)
	}
	return l.custody.Burn(ctx, op.SourceChainID, op.SourceToken, op.User, op.Amount)
}

// release is the inverse of reserve, it refunds the user
func (l *Ledger) release(ctx context.Context, op *types.BridgeOperation) error {
	if op.Direction == types.DirectionOut {
		return l.custody.Unlock(ctx, op.SourceChainID, op.SourceToken, op.User, op.Amount)
	}
	return l.custody.Mint(ctx, op.SourceChainID, op.SourceToken, op.User, op.Amount)
}

// payout delivers on the target side: mint the representation, or unlock the home token
func (l *Ledger) payout(ctx context.Context, op *types.BridgeOperation) error {
	if op.Direction == types.DirectionOut {
		return l.custody.Mint(ctx, op.TargetChainID, op.TargetToken, op.Recipient, op.Amount)
	}
	return l.custody.Unlock(ctx, op.TargetChainID, op.TargetToken, op.Recipient, op.Amount)
}

// revokePayout is the inverse of payout
func (l *Ledger) revokePayout(ctx context.Context, op *types.BridgeOperation) error {
	if op.Direction == types.DirectionOut {
		return l.custody.Burn(ctx, op.TargetChainID, op.TargetToken, op.Recipient, op.Amount)
	}
	return l.custody.Lock(ctx, op.TargetChainID, op.TargetToken, op.Recipient, op.Amount)
}

func (l *Ledger) dispatch(ctx context.Context, op *types.BridgeOperation, backend bridgesvc.Backend, gasBudget uint64) error {
	start := time.Now()
	msg, err := backend.Send(ctx, &bridgesvc.SendRequest{
		OperationID:   op.ID,
		SourceChainID: op.SourceChainID,
		TargetChainID: op.TargetChainID,
		RemoteChainID: op.RemoteChainID(),
		Sender:        op.User,
		Recipient:     op.Recipient,
		Token:         op.TargetToken,
		Amount:        op.Amount,
		GasBudget:     gasBudget,
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.DispatchDuration.WithLabelValues(backend.ID(), result).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	metrics.RouteSelections.WithLabelValues(backend.ID(), uintLabel(op.RemoteChainID())).Inc()
	if err := l.store.MarkDispatched(ctx, op.ID, msg, nil); err != nil {
		return types.Wrap(types.ErrInternal, err, "marking dispatched")
	}
	op.Dispatched = true
	op.BackendID = msg.BackendID
	op.MessageID = msg.ID
	op.Fee = msg.Fee
	l.log.Infow("Operation dispatched", "id", op.ID.Hex(), "backend", msg.BackendID, "messageId", msg.ID.Hex())
	return nil
}

// Complete finalizes a Pending operation after the external proof was verified, it pays the
// recipient on the target side. The operation is claimed in the store before the payout, so of
// any number of concurrent completes and cancels exactly one moves funds.
func (l *Ledger) Complete(ctx context.Context, caller string, id common.Hash, proofRef string) (*types.BridgeOperation, error) {
	if err := l.roles.Require(caller, acl.RoleResolver); err != nil {
		return nil, err
	}
	op, err := l.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.cfg.OperationTimeout > 0 && l.now().Sub(time.Unix(op.CreatedAt, 0)) > l.cfg.OperationTimeout {
		l.releaseClaim(ctx, id)
		return nil, types.Errorf(types.ErrOperationExpired, "%s opened at %d", id.Hex(), op.CreatedAt)
	}

	unlock := l.locks.lock(op.HomeToken)
	defer unlock()

	if err := l.payout(ctx, op); err != nil {
		l.releaseClaim(ctx, id)
		return nil, err
	}
	resolved, err := l.store.ResolveOperation(ctx, id, func(o *types.BridgeOperation) error {
		o.Status = types.StatusCompleted
		o.ResolvedAt = l.now().Unix()
		o.ResolutionTxRef = proofRef
		return nil
	}, func(o *types.BridgeOperation) *types.Record {
		return types.NewRecord(types.RecordOperationCompleted, o)
	})
	if err != nil {
		if cerr := l.revokePayout(ctx, op); cerr != nil {
			l.log.Errorw("Compensation failed, payout is stranded", "id", id.Hex(), "error", cerr)
		}
		l.releaseClaim(ctx, id)
		return nil, err
	}
	metrics.OperationsResolved.WithLabelValues(string(op.Direction), string(types.StatusCompleted)).Inc()
	l.log.Infow("Operation completed", "id", id.Hex(), "proof", proofRef, "by", caller)
	return resolved, nil
}

// Cancel fails a Pending operation and refunds what was reserved when it was opened
func (l *Ledger) Cancel(ctx context.Context, caller string, id common.Hash, reason string) (*types.BridgeOperation, error) {
	if err := l.roles.Require(caller, acl.RoleResolver); err != nil {
		return nil, err
	}
	op, err := l.claim(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(op.HomeToken)
	defer unlock()

	if err := l.release(ctx, op); err != nil {
		l.releaseClaim(ctx, id)
		return nil, err
	}
	resolved, err := l.store.ResolveOperation(ctx, id, func(o *types.BridgeOperation) error {
		o.Status = types.StatusFailed
		o.ResolvedAt = l.now().Unix()
		o.Reason = reason
		return nil
	}, func(o *types.BridgeOperation) *types.Record {
		return types.NewRecord(types.RecordOperationCancelled, o)
	})
	if err != nil {
		if cerr := l.reserve(ctx, op); cerr != nil {
			l.log.Errorw("Compensation failed, refund is stranded", "id", id.Hex(), "error", cerr)
		}
		l.releaseClaim(ctx, id)
		return nil, err
	}
	metrics.OperationsResolved.WithLabelValues(string(op.Direction), string(types.StatusFailed)).Inc()
	l.log.Infow("Operation cancelled", "id", id.Hex(), "reason", reason, "by", caller)
	return resolved, nil
}

// claim takes the resolution claim of a Pending operation
func (l *Ledger) claim(ctx context.Context, id common.Hash) (*types.BridgeOperation, error) {
	op, err := l.store.ClaimResolution(ctx, id)
	if err != nil {
		return nil, types.AsError(err)
	}
	return op, nil
}

func (l *Ledger) releaseClaim(ctx context.Context, id common.Hash) {
	if err := l.store.ReleaseResolution(ctx, id); err != nil {
		l.log.Errorw("Cannot release resolution claim", "id", id.Hex(), "error", err)
	}
}

// Redispatch retries operations whose message never left, through the backend they were routed
// to or, when that backend is gone, a fresh route
func (l *Ledger) Redispatch(ctx context.Context, limit int) (int, error) {
	ops, err := l.store.ListUndispatched(ctx, limit)
	if err != nil {
		return 0, types.Wrap(types.ErrInternal, err, "listing undispatched")
	}
	sent := 0
	for _, op := range ops {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if op.Status != types.StatusPending || op.Dispatched {
			continue
		}
		ok, err := l.redispatchOne(ctx, op.ID)
		if err != nil {
			l.log.Warnw("Redispatch failed", "id", op.ID.Hex(), "error", err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// redispatchOne leases the operation, re-reads it under the lease and sends it. false means
// another sender owns it or it no longer needs sending.
func (l *Ledger) redispatchOne(ctx context.Context, id common.Hash) (bool, error) {
	claimed, err := l.store.ClaimDispatch(ctx, id, l.cfg.DispatchLease)
	if err != nil || !claimed {
		return false, err
	}
	op, err := l.GetOperation(ctx, id)
	if err != nil || op == nil || op.Status != types.StatusPending || op.Dispatched {
		l.releaseDispatch(ctx, id)
		return false, err
	}
	backend, err := l.backendFor(ctx, op)
	if err != nil {
		l.releaseDispatch(ctx, id)
		return false, err
	}
	if err := l.dispatch(ctx, op, backend, l.cfg.GasBudget); err != nil {
		l.releaseDispatch(ctx, id)
		return false, err
	}
	return true, nil
}

func (l *Ledger) backendFor(ctx context.Context, op *types.BridgeOperation) (bridgesvc.Backend, error) {
	if e, ok := l.router.Snapshot().Entry(op.BackendID); ok && !e.Backend.Paused() {
		return e.Backend, nil
	}
	route, err := l.router.Select(op.RemoteChainID())
	if err != nil {
		return nil, err
	}
	if err := l.store.AssignBackend(ctx, op.ID, route.Config.ID); err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "assigning backend")
	}
	op.BackendID = route.Config.ID
	return route.Backend, nil
}

func uintLabel(v uint64) string {
	return strconv.FormatUint(v, 10)
}
