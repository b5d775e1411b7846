// Package endpoint is the trusted-remote backend: envelopes go through an external messaging
// endpoint, and are accepted back only from the endpoint itself and only when they originate
// from the trusted remote configured for the source chain.
package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc"
	"gobridgeledger/metrics"
	"gobridgeledger/types"
)

const defaultAdapterGas = 200000

type Config struct {
	ID           string
	Chains       []uint64
	LocalChainID uint64
	LocalAddress common.Address
	// principal the endpoint calls Receive as
	Principal      string
	TrustedRemotes map[uint64][]byte
	AdapterGas     uint64
}

type Service struct {
	bridgesvc.Pausable

	id           string
	chains       map[uint64]struct{}
	localChainID uint64
	localAddress common.Address
	adapterGas   uint64
	endpoint     Endpoint
	store        bridgesvc.MessageStore
	handler      bridgesvc.Handler
	roles        *acl.List
	log          *zap.SugaredLogger

	mu             sync.RWMutex
	trustedRemotes map[uint64][]byte

	// serializes manual retries
	retryMu sync.Mutex
}

func New(cfg Config, ep Endpoint, store bridgesvc.MessageStore, handler bridgesvc.Handler, roles *acl.List, log *zap.SugaredLogger) *Service {
	chains := make(map[uint64]struct{}, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains[c] = struct{}{}
	}
	remotes := make(map[uint64][]byte, len(cfg.TrustedRemotes))
	for chain, addr := range cfg.TrustedRemotes {
		remotes[chain] = common.CopyBytes(addr)
	}
	gas := cfg.AdapterGas
	if gas == 0 {
		gas = defaultAdapterGas
	}
	if cfg.Principal != "" {
		roles.Grant(acl.EndpointRole(cfg.ID), cfg.Principal)
	}
	return &Service{
		id:             cfg.ID,
		chains:         chains,
		localChainID:   cfg.LocalChainID,
		localAddress:   cfg.LocalAddress,
		adapterGas:     gas,
		endpoint:       ep,
		store:          store,
		handler:        handler,
		roles:          roles,
		log:            log.Named("endpoint").With("service", cfg.ID),
		trustedRemotes: remotes,
	}
}

func (s *Service) SetHandler(h bridgesvc.Handler) {
	s.handler = h
}

func (s *Service) ID() string              { return s.id }
func (s *Service) Type() types.ServiceType { return types.ServiceEndpointTrusted }

func (s *Service) IsChainSupported(chainID uint64) bool {
	_, ok := s.chains[chainID]
	return ok
}

func (s *Service) SetTrustedRemote(caller string, chainID uint64, remote []byte) error {
	if err := s.roles.Require(caller, acl.RoleAdmin); err != nil {
		return err
	}
	if len(remote) == 0 {
		return types.Errorf(types.ErrInvalidRequest, "empty trusted remote for chain %d", chainID)
	}
	s.mu.Lock()
	s.trustedRemotes[chainID] = common.CopyBytes(remote)
	s.mu.Unlock()

	s.log.Infow("Trusted remote set", "chain", chainID, "remote", hexutil.Encode(remote), "by", caller)
	return nil
}

func (s *Service) TrustedRemote(chainID uint64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.trustedRemotes[chainID]
	return common.CopyBytes(r), ok
}

// MessageID identifies a message by its origin: chain, sending address and endpoint nonce
func MessageID(chainID uint64, addr []byte, nonce uint64) common.Hash {
	return crypto.Keccak256Hash(
		math.U256Bytes(new(big.Int).SetUint64(chainID)),
		addr,
		math.U256Bytes(new(big.Int).SetUint64(nonce)),
	)
}

func (s *Service) adapterParams(gasBudget uint64) []byte {
	if gasBudget == 0 {
		gasBudget = s.adapterGas
	}
	return AdapterParams(gasBudget)
}

// EstimateFee asks the endpoint; without a payload an empty envelope stands in, which is the
// same size as every real one
func (s *Service) EstimateFee(ctx context.Context, chainID uint64, gasBudget uint64, payload []byte) (*big.Int, error) {
	if !s.IsChainSupported(chainID) {
		return nil, types.Errorf(types.ErrChainUnsupported, "service %s does not serve chain %d", s.id, chainID)
	}
	if len(payload) == 0 {
		var err error
		payload, err = (&Envelope{Amount: new(big.Int)}).Encode()
		if err != nil {
			return nil, types.Wrap(types.ErrInternal, err, "encoding envelope")
		}
	}
	return s.endpoint.EstimateFees(ctx, chainID, payload, s.adapterParams(gasBudget))
}

func (s *Service) Send(ctx context.Context, req *bridgesvc.SendRequest) (*types.Message, error) {
	if err := s.CheckNotPaused(s.id); err != nil {
		return nil, err
	}
	if !s.IsChainSupported(req.RemoteChainID) {
		return nil, types.Errorf(types.ErrChainUnsupported, "service %s does not serve chain %d", s.id, req.RemoteChainID)
	}
	remote, ok := s.TrustedRemote(req.RemoteChainID)
	if !ok {
		return nil, types.Errorf(types.ErrChainUnsupported, "service %s has no trusted remote on chain %d", s.id, req.RemoteChainID)
	}

	payload, err := (&Envelope{
		OperationID: req.OperationID,
		Sender:      req.Sender,
		Recipient:   req.Recipient,
		Token:       req.Token,
		Amount:      req.Amount,
	}).Encode()
	if err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "encoding envelope")
	}
	params := s.adapterParams(req.GasBudget)

	fee, err := s.endpoint.EstimateFees(ctx, req.RemoteChainID, payload, params)
	if err != nil {
		return nil, err
	}
	nonce, err := s.endpoint.Send(ctx, req.RemoteChainID, remote, payload, params, fee)
	if err != nil {
		return nil, err
	}

	msg := &types.Message{
		ID:            MessageID(s.localChainID, s.localAddress.Bytes(), nonce),
		BackendID:     s.id,
		OperationID:   req.OperationID,
		SourceChainID: req.SourceChainID,
		TargetChainID: req.TargetChainID,
		Sender:        req.Sender,
		Recipient:     req.Recipient,
		Token:         req.Token,
		Amount:        new(big.Int).Set(req.Amount),
		Nonce:         nonce,
		Fee:           fee,
		Payload:       payload,
		Status:        types.MessageSent,
	}
	if err := s.store.SaveMessage(ctx, msg, types.NewRecord(types.RecordMessageSent, msg)); err != nil {
		return nil, types.Wrap(types.ErrInternal, err, "saving message")
	}
	s.log.Infow("Message sent", "messageId", msg.ID.Hex(), "operationId", req.OperationID.Hex(), "remoteChain", req.RemoteChainID, "nonce", nonce, "fee", fee.String())
	return msg, nil
}

// Receive is the endpoint callback. Authentication failures and replays are returned as errors;
// once the message is accepted, execution failures are recorded on the message and never
// returned, so the endpoint does not block its channel on them.
func (s *Service) Receive(ctx context.Context, caller string, in bridgesvc.Inbound) error {
	if err := s.roles.Require(caller, acl.EndpointRole(s.id)); err != nil {
		return err
	}
	delivery, ok := in.(bridgesvc.EndpointDelivery)
	if !ok {
		return types.Errorf(types.ErrInvalidProof, "service %s expects an endpoint delivery", s.id)
	}
	remote, ok := s.TrustedRemote(delivery.SrcChainID)
	if !ok || !bytes.Equal(remote, delivery.SrcAddress) {
		metrics.MessagesReceived.WithLabelValues(s.id, "invalid").Inc()
		return types.Errorf(types.ErrInvalidProof, "source %s is not the trusted remote of chain %d", hexutil.Encode(delivery.SrcAddress), delivery.SrcChainID)
	}

	id := MessageID(delivery.SrcChainID, delivery.SrcAddress, delivery.Nonce)
	fresh, err := s.store.MarkProcessed(ctx, s.id, id)
	if err != nil {
		return types.Wrap(types.ErrInternal, err, "processed set")
	}
	if !fresh {
		metrics.MessagesReceived.WithLabelValues(s.id, "replay").Inc()
		return types.Errorf(types.ErrAlreadyProcessed, "%s", id.Hex())
	}

	msg := &types.Message{
		ID:            id,
		BackendID:     s.id,
		SourceChainID: delivery.SrcChainID,
		TargetChainID: s.localChainID,
		Nonce:         delivery.Nonce,
		Payload:       common.CopyBytes(delivery.Payload),
	}
	s.execute(ctx, msg)
	return nil
}

// execute decodes and runs msg, storing it as Delivered or Failed
func (s *Service) execute(ctx context.Context, msg *types.Message) {
	err := s.run(ctx, msg)
	if err != nil {
		msg.Status = types.MessageFailed
		msg.Error = err.Error()
		if serr := s.store.SaveMessage(ctx, msg, types.NewRecord(types.RecordMessageFailed, msg)); serr != nil {
			s.log.Errorf("Error saving failed message %s: %v", msg.ID.Hex(), serr)
		}
		metrics.MessagesReceived.WithLabelValues(s.id, "failed").Inc()
		s.log.Warnw("Message execution failed", "messageId", msg.ID.Hex(), "error", err)
		return
	}

	msg.Status = types.MessageDelivered
	msg.Error = ""
	if serr := s.store.SaveMessage(ctx, msg, types.NewRecord(types.RecordMessageReceived, msg)); serr != nil {
		s.log.Errorf("Error saving delivered message %s: %v", msg.ID.Hex(), serr)
	}
	metrics.MessagesReceived.WithLabelValues(s.id, "delivered").Inc()
	s.log.Infow("Message delivered", "messageId", msg.ID.Hex(), "operationId", msg.OperationID.Hex())
}

func (s *Service) run(ctx context.Context, msg *types.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic executing message: %v", r)
		}
	}()

	env, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		return err
	}
	msg.OperationID = env.OperationID
	msg.Sender = env.Sender
	msg.Recipient = env.Recipient
	msg.Token = env.Token
	msg.Amount = env.Amount

	return s.handler.HandleMessage(ctx, msg)
}

// RetryMessage re-executes a Failed message from its stored payload
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
	s.execute(ctx, msg)
	if msg.Status == types.MessageFailed {
		return types.Errorf(types.ErrInternal, "retry of %s failed: %s", id.Hex(), msg.Error)
	}
	return nil
}

func (s *Service) GetMessageStatus(ctx context.Context, id common.Hash) (types.MessageStatus, error) {
	return bridgesvc.Status(ctx, s.store, s.id, id)
}
