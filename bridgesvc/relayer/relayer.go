// Package relayer is the validator-signature backend: messages are emitted for off-chain
// relayers, and come back with signatures from the validator set.
package relayer

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc"
	"gobridgeledger/metrics"
	"gobridgeledger/types"
)

type GasPricer interface {
	GasPrice(ctx context.Context, chainID uint64) (*big.Int, error)
}

// FeeModel is baseFee + gasBudget * gasPrice * gasMultiplier + len(payload) * perByteFee
type FeeModel struct {
	BaseFee       *big.Int
	PerByteFee    *big.Int
	GasMultiplier decimal.Decimal
	Gas           GasPricer
}

func (f *FeeModel) Fee(ctx context.Context, chainID uint64, gasBudget uint64, payload []byte) (*big.Int, error) {
	fee := new(big.Int)
	if f.BaseFee != nil {
		fee.Add(fee, f.BaseFee)
	}
	if f.PerByteFee != nil {
		fee.Add(fee, new(big.Int).Mul(f.PerByteFee, big.NewInt(int64(len(payload)))))
	}
	if gasBudget > 0 && f.Gas != nil {
		price, err := f.Gas.GasPrice(ctx, chainID)
		if err != nil {
			return nil, types.Wrap(types.ErrInternal, err, "gas price for chain %d", chainID)
		}
		mult := f.GasMultiplier
		if mult.IsZero() {
			mult = decimal.NewFromInt(1)
		}
		adjusted := decimal.NewFromBigInt(price, 0).Mul(mult).Ceil().BigInt()
		fee.Add(fee, new(big.Int).Mul(adjusted, new(big.Int).SetUint64(gasBudget)))
	}
	return fee, nil
}

type Config struct {
	ID         string
	Chains     []uint64
	Validators []common.Address
	Threshold  int
	Fees       *FeeModel
}

type Service struct {
	bridgesvc.Pausable

	id       string
	chains   map[uint64]struct{}
	verifier *Verifier
	fees     *FeeModel
	store    bridgesvc.MessageStore
	handler  bridgesvc.Handler
	roles    *acl.List
	log      *zap.SugaredLogger
	now      func() time.Time

	retryMu sync.Mutex
}

func New(cfg Config, store bridgesvc.MessageStore, handler bridgesvc.Handler, roles *acl.List, log *zap.SugaredLogger) (*Service, error) {
	verifier, err := NewVerifier(cfg.Validators, cfg.Threshold)
	if err != nil {
		return nil, err
	}
	chains := make(map[uint64]struct{}, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains[c] = struct{}{}
	}
	fees := cfg.Fees
	if fees == nil {
		fees = &FeeModel{}
	}
	// validators are the only callers allowed to deliver
	for _, v := range cfg.Validators {
		roles.Grant(acl.ValidatorRole(cfg.ID), v.Hex())
	}
	return &Service{
		id:       cfg.ID,
		chains:   chains,
		verifier: verifier,
		fees:     fees,
		store:    store,
		handler:  handler,
		roles:    roles,
		log:      log.Named("relayer").With("service", cfg.ID),
		now:      time.Now,
	}, nil
}

// SetHandler wires the executor of verified messages, the ledger sets itself here
func (s *Service) SetHandler(h bridgesvc.Handler) {
	s.handler = h
}

func (s *Service) ID() string              { return s.id }
func (s *Service) Type() types.ServiceType { return types.ServiceRelayerVerified }
func (s *Service) Verifier() *Verifier     { return s.verifier }

func (s *Service) IsChainSupported(chainID uint64) bool {
	_, ok := s.chains[chainID]
	return ok
}

func (s *Service) EstimateFee(ctx context.Context, chainID uint64, gasBudget uint64, payload []byte) (*big.Int, error) {
	if !s.IsChainSupported(chainID) {
		return nil, types.Errorf(types.ErrChainUnsupported, "service %s does not serve chain %d", s.id, chainID)
	}
	return s.fees.Fee(ctx, chainID, gasBudget, payload)
}

// MessageID hashes the fields a validator attests to
func MessageID(msg *types.Message) common.Hash {
	return crypto.Keccak256Hash(encodePacked(msg))
}

func encodePacked(msg *types.Message) []byte {
	amount := msg.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	var buf []byte
	buf = append(buf, math.U256Bytes(new(big.Int).SetUint64(msg.SourceChainID))...)
	buf = append(buf, math.U256Bytes(new(big.Int).SetUint64(msg.TargetChainID))...)
	buf = append(buf, msg.Sender.Bytes()...)
	buf = append(buf, msg.Recipient.Bytes()...)
	buf = append(buf, msg.Token.Bytes()...)
	buf = append(buf, math.U256Bytes(new(big.Int).Set(amount))...)
	buf = append(buf, math.U256Bytes(new(big.Int).SetUint64(msg.Nonce))...)
	buf = append(buf, math.U256Bytes(big.NewInt(msg.Timestamp))...)
	buf = append(buf, msg.OperationID.Bytes()...)
	return buf
}

// Send assigns the next sender nonce, derives the message id, charges the fee and emits
// MessageSent for the relayers
func (s *Service) Send(ctx context.Context, req *bridgesvc.SendRequest) (*types.Message, error) {
	if err := s.CheckNotPaused(s.id); err != nil {
		return nil, err
	}
	if !s.IsChainSupported(req.RemoteChainID) {
		return nil, types.Errorf(types.ErrChainUnsupported, "service %s does not serve chain %d", s.id, req.RemoteChainID)
	}

	nonce, err := s.store.NextSenderNonce(ctx, s.id, req.Sender, req.RemoteChainID)
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "sender nonce")
	}

	msg := &types.Message{
		BackendID:     s.id,
		OperationID:   req.OperationID,
		SourceChainID: req.SourceChainID,
		TargetChainID: req.TargetChainID,
		Sender:        req.Sender,
		Recipient:     req.Recipient,
		Token:         req.Token,
		Amount:        new(big.Int).Set(req.Amount),
		Nonce:         nonce,
		Timestamp:     s.now().Unix(),
		Status:        types.MessageSent,
	}
	msg.Payload = encodePacked(msg)
	msg.ID = crypto.Keccak256Hash(msg.Payload)

	fee, err := s.fees.Fee(ctx, req.RemoteChainID, req.GasBudget, msg.Payload)
	if err != nil {
		return nil, err
	}
	msg.Fee = fee

	if err := s.store.SaveMessage(ctx, msg, types.NewRecord(types.RecordMessageSent, msg)); err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "saving message")
	}
	s.log.Infow("Message sent", "messageId", msg.ID.Hex(), "operationId", msg.OperationID.Hex(), "targetChain", msg.TargetChainID, "nonce", nonce, "fee", fee.String())
	return msg, nil
}

// Receive accepts a SignedDelivery from a registered validator. The message id is recomputed
// from its fields, the signatures must reach the threshold and the id must not be in the
// processed set; only then is the handler run, exactly once per id.
func (s *Service) Receive(ctx context.Context, caller string, in bridgesvc.Inbound) error {
	if err := s.roles.Require(caller, acl.ValidatorRole(s.id)); err != nil {
		return err
	}
	delivery, ok := in.(bridgesvc.SignedDelivery)
	if !ok || delivery.Message == nil {
		return types.Errorf(types.ErrInvalidProof, "service %s expects a signed delivery", s.id)
	}
	msg := *delivery.Message
	msg.BackendID = s.id

	id := MessageID(&msg)
	if id != msg.ID {
		metrics.MessagesReceived.WithLabelValues(s.id, "invalid").Inc()
		return types.Errorf(types.ErrInvalidProof, "message hash mismatch, computed %s", id.Hex())
	}
	if err := s.verifier.Verify(id, delivery.Signatures); err != nil {
		metrics.MessagesReceived.WithLabelValues(s.id, "invalid").Inc()
		return err
	}

	fresh, err := s.store.MarkProcessed(ctx, s.id, id)
	if err != nil {
		return types.Wrap(types.ErrInternal, err, "processed set")
	}
	if !fresh {
		metrics.MessagesReceived.WithLabelValues(s.id, "replay").Inc()
		return types.Errorf(types.ErrAlreadyProcessed, "%s", id.Hex())
	}

	return s.execute(ctx, &msg)
}

// execute runs a verified message and stores it as Delivered or Failed. A Failed message keeps
// its verified fields so RetryMessage can run it again.
func (s *Service) execute(ctx context.Context, msg *types.Message) error {
	if err := s.handler.HandleMessage(ctx, msg); err != nil {
		msg.Status = types.MessageFailed
		msg.Error = err.Error()
		if serr := s.store.SaveMessage(ctx, msg, types.NewRecord(types.RecordMessageFailed, msg)); serr != nil {
			s.log.Errorf("Error saving failed message %s: %v", msg.ID.Hex(), serr)
		}
		metrics.MessagesReceived.WithLabelValues(s.id, "failed").Inc()
		s.log.Warnw("Message execution failed", "messageId", msg.ID.Hex(), "error", err)
		return err
	}

	msg.Status = types.MessageDelivered
	msg.Error = ""
	if err := s.store.SaveMessage(ctx, msg, types.NewRecord(types.RecordMessageReceived, msg)); err != nil {
		return types.Wrap(types.ErrInternal, err, "saving message")
	}
	metrics.MessagesReceived.WithLabelValues(s.id, "delivered").Inc()
	s.log.Infow("Message delivered", "messageId", msg.ID.Hex(), "operationId", msg.OperationID.Hex())
	return nil
}

// RetryMessage re-executes a delivery whose execution failed. The signatures were checked when it
// first arrived and its id stays in the processed set, so only an admin can trigger the rerun.
func (s *Service) RetryMessage(ctx context.Context, caller string, id common.Hash) error {
	if err := s.roles.Require(caller, acl.RoleAdmin); err != nil {
		return err
	}

	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	msg, err := s.store.GetMessage(ctx, s.id, id)
	if err != nil {
		return types.Wrap(types.ErrInternal, err, "reading message")
	}
	if msg == nil {
		return types.Errorf(types.ErrNotFound, "message %s", id.Hex())
	}
	if msg.Status != types.MessageFailed {
		return types.Errorf(types.ErrInvalidRequest, "message %s is %s", id.Hex(), msg.Status)
	}

	s.log.Infow("Retrying message", "messageId", id.Hex(), "by", caller)
	return s.execute(ctx, msg)
}

func (s *Service) GetMessageStatus(ctx context.Context, id common.Hash) (types.MessageStatus, error) {
	return bridgesvc.Status(ctx, s.store, s.id, id)
}

// AddValidator registers a signer and lets it deliver
func (s *Service) AddValidator(a common.Address) {
	s.verifier.AddValidator(a)
	s.roles.Grant(acl.ValidatorRole(s.id), a.Hex())
}

func (s *Service) RemoveValidator(a common.Address) error {
	if err := s.verifier.RemoveValidator(a); err != nil {
		return err
	}
	s.roles.Revoke(acl.ValidatorRole(s.id), a.Hex())
	return nil
}
