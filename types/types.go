package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// chain ids are EVM-style numeric ids, the home chain is configured
// (ledger.home_chain_id) and every other allowed chain is a remote

// OperationStatus of a bridge operation, Pending is the only non-terminal state
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusCompleted OperationStatus = "completed"
	StatusFailed    OperationStatus = "failed"
)

// Direction tells which side funds were reserved on
type Direction string

const (
	// home token locked on home chain, representation minted on remote at completion
	DirectionOut Direction = "out"
	// representation burned on remote chain, home token unlocked at completion
	DirectionIn Direction = "in"
)

// TokenMapping pairs a home token with its representation on a remote chain.
// A mapping is never deleted, only deactivated.
type TokenMapping struct {
	HomeToken     common.Address
	RemoteToken   common.Address
	RemoteChainID uint64
	Active        bool
	TotalBridged  *big.Int // cumulative, only grows on completion
	CreatedAt     int64
	DeactivatedAt int64 `json:",omitempty"`
	// bumped each time the pair is re-created after a deactivation
	Generation uint64
}

// BridgeLimits are per home token
type BridgeLimits struct {
	DailyLimit           *big.Int
	SingleOperationLimit *big.Int
}

// Bridge operation is a single request to move funds across chains,
// mutated exactly once by complete or cancel
type BridgeOperation struct {
	ID            common.Hash
	Direction     Direction
	Status        OperationStatus
	User          common.Address // account funds were reserved from
	Recipient     common.Address
	HomeToken     common.Address // limits and volume are always accounted on the home token
	MappingGen    uint64         // generation of the mapping the operation was opened against
	SourceToken   common.Address
	TargetToken   common.Address
	Amount        *big.Int
	SourceChainID uint64
	TargetChainID uint64
	Nonce         uint64
	CreatedAt     int64
	DayBucket     string

	// dispatch info, filled after commit
	BackendID  string
	MessageID  common.Hash
	Fee        *big.Int `json:",omitempty"`
	Dispatched bool

	ResolvedAt      int64  `json:",omitempty"`
	ResolutionTxRef string `json:",omitempty"`
	Reason          string `json:",omitempty"` // cancellation reason
}

// RemoteChainID is the non-home side of the operation
func (op *BridgeOperation) RemoteChainID() uint64 {
	if op.Direction == DirectionOut {
		return op.TargetChainID
	}
	return op.SourceChainID
}

// ServiceType is the closed set of backend variants
type ServiceType string

const (
	ServiceRelayerVerified ServiceType = "relayer"
	ServiceEndpointTrusted ServiceType = "endpoint"
)

func (t ServiceType) Valid() bool {
	return t == ServiceRelayerVerified || t == ServiceEndpointTrusted
}

// ServiceConfig is the routing view of one backend instance
type ServiceConfig struct {
	ID              string
	ServiceType     ServiceType
	Active          bool
	Priority        int
	SupportedChains []uint64
	RegisteredAt    int64
}

func (c *ServiceConfig) Supports(chainID uint64) bool {
	for _, id := range c.SupportedChains {
		if id == chainID {
			return true
		}
	}
	return false
}

type MessageStatus string

const (
	MessageUnknown   MessageStatus = "unknown"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

// Message is the cross-chain envelope a backend carries for one operation
type Message struct {
	ID            common.Hash
	BackendID     string
	OperationID   common.Hash
	SourceChainID uint64
	TargetChainID uint64
	Sender        common.Address
	Recipient     common.Address
	Token         common.Address // token credited on the target side
	Amount        *big.Int
	Nonce         uint64
	Timestamp     int64
	Fee           *big.Int `json:",omitempty"`
	Payload       []byte   `json:",omitempty"`
	Status        MessageStatus
	Error         string `json:",omitempty"`
}
