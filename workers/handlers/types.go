package handlers

import (
	"gobridgeledger/types"
)

type APIResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type APIStateResponse struct {
	Status         string            `json:"status"`
	Paused         bool              `json:"paused"`
	HomeChainID    uint64            `json:"homeChainId"`
	Chains         []uint64          `json:"chains"`
	RoutingVersion uint64            `json:"routingVersion"`
	Default        string            `json:"default"`
	Preferred      map[uint64]string `json:"preferred"`
}

// BridgeRequest is the body of /bridge/out and /bridge/in, amounts are decimal strings
type BridgeRequest struct {
	User          string `json:"user"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	RemoteChainID uint64 `json:"remoteChainId"`
	Recipient     string `json:"recipient"`
	GasBudget     uint64 `json:"gasBudget"`
}

type MappingRequest struct {
	HomeToken     string `json:"homeToken"`
	RemoteToken   string `json:"remoteToken"`
	RemoteChainID uint64 `json:"remoteChainId"`
}

type LimitsRequest struct {
	DailyLimit           string `json:"dailyLimit"`
	SingleOperationLimit string `json:"singleOperationLimit"`
}

type LimitsResponse struct {
	Status               string `json:"status"`
	Token                string `json:"token"`
	DailyLimit           string `json:"dailyLimit"`
	SingleOperationLimit string `json:"singleOperationLimit"`
}

type VolumeResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Day    string `json:"day"`
	Volume string `json:"volume"`
}

type ResolveRequest struct {
	ProofRef string `json:"proofRef"`
	Reason   string `json:"reason"`
}

type OperationResponse struct {
	Status    string                 `json:"status"`
	Operation *types.BridgeOperation `json:"operation"`
}

type FeeResponse struct {
	Status  string `json:"status"`
	Fee     string `json:"fee"`
	Service string `json:"service"`
}

type ServiceUpdateRequest struct {
	Active          *bool    `json:"active"`
	Priority        *int     `json:"priority"`
	SupportedChains []uint64 `json:"supportedChains"`
}

type ServiceRequest struct {
	Service string `json:"service"`
}

type ServiceResponse struct {
	Status        string              `json:"status"`
	Service       types.ServiceConfig `json:"service"`
	Paused        bool                `json:"paused"`
	CollectedFees string              `json:"collectedFees"`
}

// SignedDeliveryRequest is posted by relayer validators, signatures are 0x hex
type SignedDeliveryRequest struct {
	Message    *types.Message `json:"message"`
	Signatures []string       `json:"signatures"`
}

// EndpointDeliveryRequest is the messaging endpoint's receive callback, bytes are 0x hex
type EndpointDeliveryRequest struct {
	SrcChainID uint64 `json:"srcChainId"`
	SrcAddress string `json:"srcAddress"`
	Nonce      uint64 `json:"nonce"`
	Payload    string `json:"payload"`
}

type TrustedRemoteRequest struct {
	Remote string `json:"remote"`
}

type ValidatorRequest struct {
	Validator string `json:"validator"`
}

type MessageStatusResponse struct {
	Status        string `json:"status"`
	MessageID     string `json:"messageId"`
	MessageStatus string `json:"messageStatus"`
}
