package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	logger "github.com/sirupsen/logrus"

	"gorelaybridge/checkpoint"
	"gorelaybridge/journal"
)

type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	UseTLS   bool
	MaxIdle  int
}

// Store is the durable home of checkpoints and the operation journal.
type Store struct {
	pool *redis.Pool
}

func timeoutDialOptions(o Options) []redis.DialOption {
	opts := []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
		redis.DialDatabase(o.DB),
		redis.DialUseTLS(o.UseTLS),
	}
	if o.Password != "" {
		opts = append(opts, redis.DialPassword(o.Password))
	}
	return opts
}

func New(o Options) *Store {
	if o.MaxIdle <= 0 {
		o.MaxIdle = 5
	}
	addr := fmt.Sprintf("%s:%d", o.Host, o.Port)
	return NewWithPool(&redis.Pool{
		MaxIdle:     o.MaxIdle,
		IdleTimeout: 4 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", addr, timeoutDialOptions(o)...) },
	})
}

func NewWithPool(pool *redis.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping checks the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("PING")
	return err
}

// Get implements checkpoint.KV. A missing key is reported as found=false.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return "", false, err
	}
	defer conn.Close()

	value, err := redis.String(conn.Do("GET", key))
	if err == nil {
		return value, true, nil
	}
	if errors.Is(err, redis.ErrNil) {
		return "", false, nil
	}

	logger.Errorf("error Redis GET %s: %v", key, err)
	return "", false, err
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Do("SET", key, value); err != nil {
		logger.Errorf("error Redis SET %s: %v", key, err)
		return err
	}
	return nil
}

// SetMany writes all pairs in one MSET.
func (s *Store) SetMany(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	args := make(redis.Args, 0, 2*len(pairs))
	for k, v := range pairs {
		args = args.Add(k, v)
	}
	if _, err := conn.Do("MSET", args...); err != nil {
		logger.Errorf("error Redis MSET: %v", err)
		return err
	}
	return nil
}

var _ checkpoint.KV = (*Store)(nil)
var _ checkpoint.MultiSetter = (*Store)(nil)
var _ journal.Journal = (*Store)(nil)
