// Package bridgesvc defines the capability every bridge messaging backend provides.
//
// Two variants exist: relayer.Service, where off-chain validators sign each message, and
// endpoint.Service, where a messaging endpoint delivers from a trusted remote address. The
// router holds them as (type, Backend) pairs and never depends on a concrete variant.
package bridgesvc

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"gobridgeledger/types"
)

// SendRequest is what the ledger hands a backend after the operation is committed.
// Backends connect the home chain with remote chains, so support, fees and nonces are keyed
// on RemoteChainID whichever way the funds move.
type SendRequest struct {
	OperationID   common.Hash
	SourceChainID uint64
	TargetChainID uint64
	RemoteChainID uint64
	Sender        common.Address
	Recipient     common.Address
	Token         common.Address // token credited on the target side
	Amount        *big.Int
	GasBudget     uint64
}

type Backend interface {
	ID() string
	Type() types.ServiceType
	IsChainSupported(chainID uint64) bool
	EstimateFee(ctx context.Context, chainID uint64, gasBudget uint64, payload []byte) (*big.Int, error)
	Send(ctx context.Context, req *SendRequest) (*types.Message, error)
	// Receive verifies and executes an inbound delivery on behalf of caller
	Receive(ctx context.Context, caller string, in Inbound) error
	GetMessageStatus(ctx context.Context, id common.Hash) (types.MessageStatus, error)
	Pause()
	Unpause()
	Paused() bool
}

// Inbound is the closed set of delivery shapes, one per backend variant
type Inbound interface {
	inbound()
}

// SignedDelivery is a message plus validator signatures over its id
type SignedDelivery struct {
	Message    *types.Message
	Signatures [][]byte
}

// EndpointDelivery is what a messaging endpoint passes to its receive callback
type EndpointDelivery struct {
	SrcChainID uint64
	SrcAddress []byte
	Nonce      uint64
	Payload    []byte
}

func (SignedDelivery) inbound()   {}
func (EndpointDelivery) inbound() {}

// Handler executes a verified inbound message, for the ledger this completes the operation
type Handler interface {
	HandleMessage(ctx context.Context, msg *types.Message) error
}

type HandlerFunc func(ctx context.Context, msg *types.Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *types.Message) error {
	return f(ctx, msg)
}

// MessageStore is the persistence a backend needs, implemented by redis.Store
type MessageStore interface {
	NextSenderNonce(ctx context.Context, backendID string, sender common.Address, chainID uint64) (uint64, error)
	SaveMessage(ctx context.Context, msg *types.Message, rec *types.Record) error
	GetMessage(ctx context.Context, backendID string, id common.Hash) (*types.Message, error)
	MarkProcessed(ctx context.Context, backendID string, id common.Hash) (bool, error)
	AppendRecord(ctx context.Context, rec *types.Record) error
}

// Pausable is embedded by both variants
type Pausable struct {
	paused atomic.Bool
}

func (p *Pausable) Pause()       { p.paused.Store(true) }
func (p *Pausable) Unpause()     { p.paused.Store(false) }
func (p *Pausable) Paused() bool { return p.paused.Load() }

// CheckNotPaused gates Send; deliveries still land while paused
func (p *Pausable) CheckNotPaused(id string) error {
	if p.Paused() {
		return types.Errorf(types.ErrBridgePaused, "service %s is paused", id)
	}
	return nil
}

// Status reads a message's status from the store, Unknown when never seen
func Status(ctx context.Context, store MessageStore, backendID string, id common.Hash) (types.MessageStatus, error) {
	msg, err := store.GetMessage(ctx, backendID, id)
	if err != nil {
		return types.MessageUnknown, err
	}
	if msg == nil {
		return types.MessageUnknown, nil
	}
	return msg.Status, nil
}
