package state

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	defaultEtcdPrefix  = "/lifelog/checkpoints"
	defaultEtcdTimeout = 5 * time.Second
)

// EtcdBackend keeps checkpoints under a key prefix in etcd. A single Put
// replaces the value atomically.
type EtcdBackend struct {
	client  *clientv3.Client
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
}

func NewEtcdBackend(c Config, logger zerolog.Logger) (*EtcdBackend, error) {
	if len(c.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd backend: no endpoints configured")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultEtcdTimeout
	}
	prefix := c.Prefix
	if prefix == "" {
		prefix = defaultEtcdPrefix
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   c.Endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd backend: %w", err)
	}
	logger.Debug().Strs("endpoints", c.Endpoints).Str("prefix", prefix).Msg("connected etcd checkpoint backend")
	return &EtcdBackend{client: client, prefix: prefix, timeout: timeout, logger: logger}, nil
}

func (e *EtcdBackend) key(sourceID string) string {
	return path.Join(e.prefix, sourceID)
}

func (e *EtcdBackend) Load(ctx context.Context, sourceID string) ([]byte, bool, error) {
	if err := validateSourceID(sourceID); err != nil {
		return nil, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Get(ctx, e.key(sourceID))
	if err != nil {
		return nil, false, fmt.Errorf("etcd get %s: %w", sourceID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

func (e *EtcdBackend) Save(ctx context.Context, sourceID string, data []byte) error {
	if err := validateSourceID(sourceID); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if _, err := e.client.Put(ctx, e.key(sourceID), string(data)); err != nil {
		return fmt.Errorf("etcd put %s: %w", sourceID, err)
	}
	return nil
}

func (e *EtcdBackend) Close() error {
	return e.client.Close()
}
