package redis

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobridgeledger/types"
)

var (
	homeToken   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	remoteToken = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	s := New(NewPool(mr.Addr()))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func testMapping() *types.TokenMapping {
	return &types.TokenMapping{
		HomeToken:     homeToken,
		RemoteToken:   remoteToken,
		RemoteChainID: 56,
		Active:        true,
		TotalBridged:  new(big.Int),
		CreatedAt:     1700000000,
	}
}

func testOperation(amount int64) *types.BridgeOperation {
	return &types.BridgeOperation{
		Direction:     types.DirectionOut,
		Status:        types.StatusPending,
		User:          alice,
		Recipient:     alice,
		HomeToken:     homeToken,
		SourceToken:   homeToken,
		TargetToken:   remoteToken,
		Amount:        big.NewInt(amount),
		SourceChainID: 1,
		TargetChainID: 56,
		CreatedAt:     1700000000,
		DayBucket:     "2023-11-14",
	}
}

func hashID(op *types.BridgeOperation) common.Hash {
	return crypto.Keccak256Hash(big.NewInt(int64(op.Nonce)).Bytes(), op.User.Bytes())
}

func TestStore_Ping(t *testing.T) {
	s, _ := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestStore_CreateMapping(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	defaults := &types.BridgeLimits{DailyLimit: big.NewInt(100), SingleOperationLimit: big.NewInt(50)}
	require.NoError(t, s.CreateMapping(ctx, testMapping(), defaults, types.NewRecord(types.RecordMappingCreated, nil)))

	m, err := s.GetMapping(ctx, homeToken, 56)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.Active)
	assert.Equal(t, remoteToken, m.RemoteToken)

	byRemote, err := s.GetMappingByRemote(ctx, remoteToken, 56)
	require.NoError(t, err)
	require.NotNil(t, byRemote)
	assert.Equal(t, homeToken, byRemote.HomeToken)

	limits, err := s.GetLimits(ctx, homeToken)
	require.NoError(t, err)
	assert.Equal(t, "100", limits.DailyLimit.String())

	err = s.CreateMapping(ctx, testMapping(), defaults, nil)
	assert.True(t, errors.Is(err, types.ErrMappingExists))

	missing, err := s.GetMapping(ctx, homeToken, 10)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_DeactivateAndRecreateKeepsHistory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMapping(ctx, testMapping(), nil, nil))

	changed, err := s.DeactivateMapping(ctx, homeToken, 56, 1700000100, nil)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.DeactivateMapping(ctx, homeToken, 56, 1700000200, nil)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, s.CreateMapping(ctx, testMapping(), nil, nil))
	history, err := s.MappingHistory(ctx, homeToken, 56)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Active)
	assert.Equal(t, int64(1700000100), history[0].DeactivatedAt)

	all, err := s.ListMappings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_OpenOperation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMapping(ctx, testMapping(), nil, nil))

	op := testOperation(60)
	require.NoError(t, s.OpenOperation(ctx, op, big.NewInt(100), hashID, func(op *types.BridgeOperation) *types.Record {
		return types.NewRecord(types.RecordOperationOpened, op.ID)
	}))
	assert.Equal(t, uint64(1), op.Nonce)

	stored, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, types.StatusPending, stored.Status)

	vol, err := s.GetDailyVolume(ctx, homeToken, "2023-11-14")
	require.NoError(t, err)
	assert.Equal(t, "60", vol.String())

	// second 60 breaks the daily limit and must leave everything as it was
	second := testOperation(60)
	err = s.OpenOperation(ctx, second, big.NewInt(100), hashID, nil)
	assert.True(t, errors.Is(err, types.ErrDailyLimitExceeded))

	vol, err = s.GetDailyVolume(ctx, homeToken, "2023-11-14")
	require.NoError(t, err)
	assert.Equal(t, "60", vol.String())

	ops, err := s.ListOperations(ctx, alice, 0, 10)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	undispatched, err := s.ListUndispatched(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, undispatched, 1)

	recs, err := s.Records(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.RecordOperationOpened, recs[0].Kind)
}

func TestStore_OpenOperationInactiveMapping(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.OpenOperation(ctx, testOperation(1), big.NewInt(100), hashID, nil)
	assert.True(t, errors.Is(err, types.ErrMappingInactive))
}

func TestStore_ResolveOperation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMapping(ctx, testMapping(), nil, nil))

	op := testOperation(10)
	require.NoError(t, s.OpenOperation(ctx, op, big.NewInt(100), hashID, nil))

	complete := func(op *types.BridgeOperation) error {
		op.Status = types.StatusCompleted
		op.ResolutionTxRef = "0xref"
		return nil
	}
	resolved, err := s.ResolveOperation(ctx, op.ID, complete, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, resolved.Status)

	m, err := s.GetMapping(ctx, homeToken, 56)
	require.NoError(t, err)
	assert.Equal(t, "10", m.TotalBridged.String())

	_, err = s.ResolveOperation(ctx, op.ID, complete, nil)
	assert.True(t, errors.Is(err, types.ErrOperationNotPending))

	m, err = s.GetMapping(ctx, homeToken, 56)
	require.NoError(t, err)
	assert.Equal(t, "10", m.TotalBridged.String())

	_, err = s.ResolveOperation(ctx, common.HexToHash("0xdead"), complete, nil)
	assert.True(t, errors.Is(err, types.ErrOperationNotFound))
}

func TestStore_MarkDispatched(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMapping(ctx, testMapping(), nil, nil))

	op := testOperation(10)
	require.NoError(t, s.OpenOperation(ctx, op, big.NewInt(100), hashID, nil))

	msg := &types.Message{ID: common.HexToHash("0x01"), BackendID: "hashport", Fee: big.NewInt(3)}
	require.NoError(t, s.MarkDispatched(ctx, op.ID, msg, nil))

	stored, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.True(t, stored.Dispatched)
	assert.Equal(t, "hashport", stored.BackendID)

	undispatched, err := s.ListUndispatched(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, undispatched)
}

func TestStore_Messages(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n1, err := s.NextSenderNonce(ctx, "hashport", alice, 56)
	require.NoError(t, err)
	n2, err := s.NextSenderNonce(ctx, "hashport", alice, 56)
	require.NoError(t, err)
	other, err := s.NextSenderNonce(ctx, "hashport", alice, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n1)
	assert.Equal(t, uint64(2), n2)
	assert.Equal(t, uint64(1), other)

	msg := &types.Message{ID: common.HexToHash("0x02"), BackendID: "hashport", Fee: big.NewInt(5), Status: types.MessageSent}
	require.NoError(t, s.SaveMessage(ctx, msg, nil))
	msg.Status = types.MessageDelivered
	require.NoError(t, s.SaveMessage(ctx, msg, nil))

	got, err := s.GetMessage(ctx, "hashport", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MessageDelivered, got.Status)

	fees, err := s.CollectedFees(ctx, "hashport")
	require.NoError(t, err)
	assert.Equal(t, "5", fees.String())

	first, err := s.MarkProcessed(ctx, "hashport", msg.ID)
	require.NoError(t, err)
	again, err := s.MarkProcessed(ctx, "hashport", msg.ID)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, again)

	processed, err := s.IsProcessed(ctx, "hashport", msg.ID)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestStore_Paused(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	paused, err := s.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, s.SetPaused(ctx, true, types.NewRecord(types.RecordPaused, nil)))
	paused, err = s.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, s.SetPaused(ctx, false, nil))
	paused, err = s.IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestStore_MappingGeneration(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := testMapping()
	require.NoError(t, s.CreateMapping(ctx, first, nil, nil))
	assert.Equal(t, uint64(1), first.Generation)

	_, err := s.DeactivateMapping(ctx, homeToken, 56, 1700000100, nil)
	require.NoError(t, err)
	second := testMapping()
	require.NoError(t, s.CreateMapping(ctx, second, nil, nil))
	assert.Equal(t, uint64(2), second.Generation)

	history, err := s.MappingHistory(ctx, homeToken, 56)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, uint64(1), history[0].Generation)
}

func TestStore_OpenOperationIDCollision(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMapping(ctx, testMapping(), nil, nil))

	taken := common.HexToHash("0x0bad")
	fixed := func(*types.BridgeOperation) common.Hash { return taken }
	require.NoError(t, s.OpenOperation(ctx, testOperation(10), big.NewInt(100), fixed, nil))

	// nonces 2 and 3 land on the same id and are skipped
	op := testOperation(10)
	idFn := func(op *types.BridgeOperation) common.Hash {
		if op.Nonce <= 3 {
			return taken
		}
		return hashID(op)
	}
	require.NoError(t, s.OpenOperation(ctx, op, big.NewInt(100), idFn, nil))
	assert.Equal(t, uint64(4), op.Nonce)
	assert.NotEqual(t, taken, op.ID)

	vol, err := s.GetDailyVolume(ctx, homeToken, "2023-11-14")
	require.NoError(t, err)
	assert.Equal(t, "20", vol.String())

	err = s.OpenOperation(ctx, testOperation(10), big.NewInt(100), fixed, nil)
	assert.True(t, errors.Is(err, types.ErrInternal))
	vol, err = s.GetDailyVolume(ctx, homeToken, "2023-11-14")
	require.NoError(t, err)
	assert.Equal(t, "20", vol.String())
}

func TestStore_ResolutionClaim(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMapping(ctx, testMapping(), nil, nil))

	op := testOperation(10)
	require.NoError(t, s.OpenOperation(ctx, op, big.NewInt(100), hashID, nil))

	claimed, err := s.ClaimResolution(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, claimed.ID)

	_, err = s.ClaimResolution(ctx, op.ID)
	assert.True(t, errors.Is(err, types.ErrOperationNotPending))

	require.NoError(t, s.ReleaseResolution(ctx, op.ID))
	_, err = s.ClaimResolution(ctx, op.ID)
	require.NoError(t, err)

	_, err = s.ResolveOperation(ctx, op.ID, func(o *types.BridgeOperation) error {
		o.Status = types.StatusFailed
		return nil
	}, nil)
	require.NoError(t, err)

	_, err = s.ClaimResolution(ctx, op.ID)
	assert.True(t, errors.Is(err, types.ErrOperationNotPending))
	_, err = s.ClaimResolution(ctx, common.HexToHash("0xdead"))
	assert.True(t, errors.Is(err, types.ErrOperationNotFound))
}

func TestStore_DispatchLease(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateMapping(ctx, testMapping(), nil, nil))

	op := testOperation(10)
	require.NoError(t, s.OpenOperation(ctx, op, big.NewInt(100), hashID, nil))

	ok, err := s.ClaimDispatch(ctx, op.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ClaimDispatch(ctx, op.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseDispatch(ctx, op.ID))
	ok, err = s.ClaimDispatch(ctx, op.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// a sender that never finishes loses the lease
	mr.FastForward(2 * time.Minute)
	ok, err = s.ClaimDispatch(ctx, op.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	msg := &types.Message{ID: common.HexToHash("0x01"), BackendID: "hashport", Fee: big.NewInt(3)}
	require.NoError(t, s.MarkDispatched(ctx, op.ID, msg, nil))
	assert.False(t, mr.Exists(dispatchingKey(op.ID)))
}

func TestStore_ConsumeSignature(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	digest := common.HexToHash("0x5151")

	first, err := s.ConsumeSignature(ctx, alice.Hex(), digest, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	again, err := s.ConsumeSignature(ctx, alice.Hex(), digest, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := s.ConsumeSignature(ctx, remoteToken.Hex(), digest, time.Minute)
	require.NoError(t, err)
	assert.True(t, other)

	mr.FastForward(2 * time.Minute)
	expired, err := s.ConsumeSignature(ctx, alice.Hex(), digest, time.Minute)
	require.NoError(t, err)
	assert.True(t, expired)
}
