package types

import (
	"time"

	"github.com/google/uuid"
)

type RecordKind string

// lifecycle records, observed by relayers and the audit sink
const (
	RecordMappingCreated     RecordKind = "MappingCreated"
	RecordMappingDeactivated RecordKind = "MappingDeactivated"
	RecordLimitsUpdated      RecordKind = "LimitsUpdated"
	RecordOperationOpened    RecordKind = "OperationOpened"
	RecordOperationCompleted RecordKind = "OperationCompleted"
	RecordOperationCancelled RecordKind = "OperationCancelled"
	RecordMessageSent        RecordKind = "MessageSent"
	RecordMessageReceived    RecordKind = "MessageReceived"
	RecordMessageFailed      RecordKind = "MessageFailed"
	RecordPaused             RecordKind = "Paused"
	RecordUnpaused           RecordKind = "Unpaused"
)

type Record struct {
	ID   string
	Kind RecordKind
	Ts   int64
	Data interface{}
}

func NewRecord(kind RecordKind, data interface{}) *Record {
	return &Record{
		ID:   uuid.New().String(),
		Kind: kind,
		Ts:   time.Now().Unix(),
		Data: data,
	}
}
