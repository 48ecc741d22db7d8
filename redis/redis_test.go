package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorelaybridge/checkpoint"
	"gorelaybridge/journal"
	"gorelaybridge/types"
)

// fakeServer answers the handful of commands the store sends.
type fakeServer struct {
	mu      sync.Mutex
	strings map[string][]byte
	sets    map[string]map[string]struct{}
	calls   []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		strings: make(map[string][]byte),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (f *fakeServer) store() *Store {
	return NewWithPool(&redis.Pool{
		MaxIdle: 1,
		Dial:    func() (redis.Conn, error) { return &fakeConn{srv: f}, nil },
	})
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

type fakeConn struct {
	srv *fakeServer
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Err() error   { return nil }
func (c *fakeConn) Send(string, ...interface{}) error {
	return errors.New("pipelining not supported")
}
func (c *fakeConn) Flush() error                  { return nil }
func (c *fakeConn) Receive() (interface{}, error) { return nil, errors.New("pipelining not supported") }

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	f := c.srv
	f.mu.Lock()
	defer f.mu.Unlock()

	if cmd == "" {
		return nil, nil
	}
	f.calls = append(f.calls, cmd)

	switch strings.ToUpper(cmd) {
	case "PING":
		return "PONG", nil
	case "GET":
		v, ok := f.strings[asString(args[0])]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "SET":
		f.strings[asString(args[0])] = []byte(asString(args[1]))
		return "OK", nil
	case "MSET":
		for i := 0; i+1 < len(args); i += 2 {
			f.strings[asString(args[i])] = []byte(asString(args[i+1]))
		}
		return "OK", nil
	case "DEL":
		delete(f.strings, asString(args[0]))
		return int64(1), nil
	case "SADD":
		set, ok := f.sets[asString(args[0])]
		if !ok {
			set = make(map[string]struct{})
			f.sets[asString(args[0])] = set
		}
		set[asString(args[1])] = struct{}{}
		return int64(1), nil
	case "SREM":
		delete(f.sets[asString(args[0])], asString(args[1]))
		return int64(1), nil
	case "SSCAN":
		members := make([]interface{}, 0)
		keys := make([]string, 0)
		for k := range f.sets[asString(args[0])] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			members = append(members, []byte(k))
		}
		return []interface{}{[]byte("0"), members}, nil
	}
	return nil, fmt.Errorf("unsupported command %s", cmd)
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	s := srv.store()

	require.NoError(t, s.Ping(ctx))

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "a", "1"))
	v, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", v)

	require.NoError(t, s.SetMany(ctx, map[string]string{"b": "2", "c": "3"}))
	v, _, err = s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
	assert.Contains(t, srv.calls, "MSET")
}

func TestCheckpointOnStore(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	cp := checkpoint.New(srv.store(), "polygon-zksync", types.OrderingLog)

	_, err := cp.Advance(ctx, types.Position{Block: 120, LogIndex: 4})
	require.NoError(t, err)

	wm, found, err := cp.Watermark(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, types.Position{Block: 120, LogIndex: 4}, wm)
	assert.Equal(t, "120", string(srv.strings["polygon-zksync:lastProcessedBlockNum"]))
	assert.Equal(t, "4", string(srv.strings["polygon-zksync:lastProcessedLogIndex"]))
}

func TestOperationJournal(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	s := srv.store()

	op := &types.BridgeOperation{
		Direction:    "zksync-polygon",
		Status:       types.OpPending,
		TsFound:      time.Now().Unix(),
		Amount:       "1000000",
		SourceTxHash: "sync-tx:01",
	}
	require.NoError(t, s.Record(ctx, op))
	require.NotEmpty(t, op.ID)
	require.NoError(t, s.Record(ctx, &types.BridgeOperation{Direction: "polygon-zksync", Status: types.OpPending}))

	pending, err := s.ListByStatus(ctx, "zksync-polygon", types.OpPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op.ID, pending[0].ID)

	all, err := s.ListByStatus(ctx, "", types.OpPending)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	op.Status = types.OpExecuting
	op.DestTxHash = "0xdead"
	require.NoError(t, s.Transition(ctx, op, types.OpPending))

	pending, err = s.ListByStatus(ctx, "zksync-polygon", types.OpPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, stale := srv.strings[recordKey(types.OpPending, op.ID)]
	assert.False(t, stale)

	got, err := s.Find(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OpExecuting, got.Status)
	assert.Equal(t, "0xdead", got.DestTxHash)

	_, err = s.Find(ctx, "nope")
	assert.ErrorIs(t, err, journal.ErrNotFound)

	_, err = s.ListByStatus(ctx, "", "bogus")
	assert.ErrorIs(t, err, journal.ErrUnknownStatus)
}
