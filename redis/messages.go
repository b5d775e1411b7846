package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gomodule/redigo/redis"

	"gobridgeledger/types"
)

func messageKey(backendID string, id common.Hash) string {
	return fmt.Sprintf("msg:%s:%s", backendID, id.Hex())
}

func processedKey(backendID string) string {
	return "processed:" + backendID
}

func senderNonceKey(backendID string, sender common.Address, chainID uint64) string {
	return fmt.Sprintf("msgnonce:%s:%s:%d", backendID, addrKey(sender), chainID)
}

func feesKey(backendID string) string {
	return "fees:" + backendID
}

// NextSenderNonce hands out the per-sender-per-chain message nonce of a backend
func (s *Store) NextSenderNonce(ctx context.Context, backendID string, sender common.Address, chainID uint64) (uint64, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	return redis.Uint64(conn.Do("INCR", senderNonceKey(backendID, sender, chainID)))
}

// SaveMessage upserts a message and, when fee is set and the message is new, adds it to the
// backend's collected fees
func (s *Store) SaveMessage(ctx context.Context, msg *types.Message, rec *types.Record) error {
	key := messageKey(msg.BackendID, msg.ID)
	fkey := feesKey(msg.BackendID)

	return s.transact(ctx, []string{key, fkey}, func(conn redis.Conn) ([]command, error) {
		exists, err := redis.Bool(conn.Do("EXISTS", key))
		if err != nil {
			return nil, err
		}
		cmds := []command{cmd("SET", key, mustJSON(msg))}
		if !exists && msg.Fee != nil && msg.Fee.Sign() > 0 {
			fees, err := getBig(conn, fkey)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd("SET", fkey, new(big.Int).Add(fees, msg.Fee).String()))
		}
		return append(cmds, recordCmds(rec)...), nil
	})
}

func (s *Store) GetMessage(ctx context.Context, backendID string, id common.Hash) (*types.Message, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var msg types.Message
	found, err := getJSON(conn, messageKey(backendID, id), &msg)
	if err != nil || !found {
		return nil, err
	}
	return &msg, nil
}

// MarkProcessed inserts id into the backend's processed set, false means it was already there.
// SADD is atomic so concurrent deliveries of one id can only win once.
func (s *Store) MarkProcessed(ctx context.Context, backendID string, id common.Hash) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	added, err := redis.Int(conn.Do("SADD", processedKey(backendID), id.Hex()))
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

func (s *Store) IsProcessed(ctx context.Context, backendID string, id common.Hash) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	return redis.Bool(conn.Do("SISMEMBER", processedKey(backendID), id.Hex()))
}

func (s *Store) CollectedFees(ctx context.Context, backendID string) (*big.Int, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return getBig(conn, feesKey(backendID))
}

func signatureKey(signer string, digest common.Hash) string {
	return fmt.Sprintf("sigused:%s:%s", strings.ToLower(signer), digest.Hex())
}

// ConsumeSignature records that signer used digest, false means it was seen within ttl.
// SET NX makes concurrent replays lose.
func (s *Store) ConsumeSignature(ctx context.Context, signer string, digest common.Hash, ttl time.Duration) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	_, err = redis.String(conn.Do("SET", signatureKey(signer, digest), 1, "NX", "PX", ttl.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
