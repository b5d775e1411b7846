package endpoint

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var envelopeArgs = mustArguments("bytes32", "address", "address", "address", "uint256")

func mustArguments(kinds ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(kinds))
	for _, k := range kinds {
		t, err := abi.NewType(k, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args
}

// Envelope is the payload carried through the endpoint for one operation
type Envelope struct {
	OperationID common.Hash
	Sender      common.Address
	Recipient   common.Address
	Token       common.Address
	Amount      *big.Int
}

func (e *Envelope) Encode() ([]byte, error) {
	return envelopeArgs.Pack(e.OperationID, e.Sender, e.Recipient, e.Token, e.Amount)
}

func DecodeEnvelope(payload []byte) (*Envelope, error) {
	values, err := envelopeArgs.Unpack(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if len(values) != len(envelopeArgs) {
		return nil, fmt.Errorf("malformed envelope: %d fields", len(values))
	}
	id, ok0 := values[0].([32]byte)
	sender, ok1 := values[1].(common.Address)
	recipient, ok2 := values[2].(common.Address)
	token, ok3 := values[3].(common.Address)
	amount, ok4 := values[4].(*big.Int)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("malformed envelope: unexpected field types")
	}
	return &Envelope{
		OperationID: common.Hash(id),
		Sender:      sender,
		Recipient:   recipient,
		Token:       token,
		Amount:      amount,
	}, nil
}

const adapterParamsVersion = 1

// AdapterParams is version 1: uint16 version followed by the destination gas as uint256
func AdapterParams(gas uint64) []byte {
	out := make([]byte, 2, 34)
	binary.BigEndian.PutUint16(out, adapterParamsVersion)
	return append(out, math.U256Bytes(new(big.Int).SetUint64(gas))...)
}

func ParseAdapterParams(params []byte) (uint64, error) {
	if len(params) != 34 || binary.BigEndian.Uint16(params[:2]) != adapterParamsVersion {
		return 0, fmt.Errorf("unsupported adapter params")
	}
	gas := new(big.Int).SetBytes(params[2:])
	if !gas.IsUint64() {
		return 0, fmt.Errorf("adapter gas overflows")
	}
	return gas.Uint64(), nil
}
