package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gomodule/redigo/redis"
	logger "github.com/sirupsen/logrus"

	"gorelaybridge/journal"
	"gorelaybridge/types"
)

// StatusSet is the Redis set indexing operations in status.
func StatusSet(status types.OperationStatus) string {
	return fmt.Sprintf("bridgeops:%s", status)
}

func recordKey(status types.OperationStatus, id string) string {
	return fmt.Sprintf("bridgeop:%s:%s", status, id)
}

// Record stores op under its status. Note that one operation must be in one set only,
// use Transition to change status.
func (s *Store) Record(ctx context.Context, op *types.BridgeOperation) error {
	if err := journal.Validate(op); err != nil {
		return err
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return store(conn, op)
}

func store(conn redis.Conn, op *types.BridgeOperation) error {
	opJSON, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("cannot marshal bridge operation to JSON: %w", err)
	}

	key := recordKey(op.Status, op.ID)
	if _, err := conn.Do("SET", key, opJSON); err != nil {
		logger.Errorf("error Redis SET: %v", err)
		return err
	}

	// also add the key to the corresponding SET
	if _, err := conn.Do("SADD", StatusSet(op.Status), key); err != nil {
		logger.Errorf("error Redis SADD: %v", err)
		return err
	}
	return nil
}

// Transition moves op from prev to its current status.
func (s *Store) Transition(ctx context.Context, op *types.BridgeOperation, prev types.OperationStatus) error {
	if err := journal.Validate(op); err != nil {
		return err
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if prev != "" && prev != op.Status {
		prevKey := recordKey(prev, op.ID)
		if _, err := conn.Do("SREM", StatusSet(prev), prevKey); err != nil {
			logger.Errorf("error Redis SREM: %v", err)
			return err
		}
		if _, err := conn.Do("DEL", prevKey); err != nil {
			logger.Errorf("error Redis DEL: %v", err)
			return err
		}
	}
	return store(conn, op)
}

// Find looks the operation up under every status.
func (s *Store) Find(ctx context.Context, id string) (*types.BridgeOperation, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	for _, status := range types.OperationStatuses {
		op, err := load(conn, recordKey(status, id))
		if err != nil {
			return nil, err
		}
		if op != nil {
			return op, nil
		}
	}
	return nil, journal.ErrNotFound
}

func load(conn redis.Conn, key string) (*types.BridgeOperation, error) {
	raw, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		logger.Errorf("error Redis GET: %v", err)
		return nil, err
	}

	var op types.BridgeOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, fmt.Errorf("bad bridge operation record %s: %w", key, err)
	}
	return &op, nil
}

// ListByStatus scans the status set; an empty direction lists every direction.
// Attention, this reads every member of the set.
func (s *Store) ListByStatus(ctx context.Context, direction string, status types.OperationStatus) ([]*types.BridgeOperation, error) {
	if !types.ValidOperationStatus(string(status)) {
		return nil, journal.ErrUnknownStatus
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ops := make([]*types.BridgeOperation, 0)
	var cursor int64
	for {
		values, err := redis.Values(conn.Do("SSCAN", StatusSet(status), cursor))
		if err != nil {
			return nil, err
		}

		var keys []string
		if _, err := redis.Scan(values, &cursor, &keys); err != nil {
			return nil, err
		}

		for _, key := range keys {
			op, err := load(conn, key)
			if err != nil {
				return nil, err
			}
			// a record can be missing if a transition was interrupted
			if op == nil {
				continue
			}
			if op.Status != status || (direction != "" && op.Direction != direction) {
				continue
			}
			ops = append(ops, op)
		}

		if cursor == 0 {
			break
		}
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].TsFound == ops[j].TsFound {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].TsFound < ops[j].TsFound
	})
	return ops, nil
}
