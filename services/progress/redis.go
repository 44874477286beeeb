// Package progress publishes upload progress: Redis hashes for polling and WebSockets for push.
package progress

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/upload"
)

const (
	keyPrefix    = "upload:"
	sessionTTL   = 24 * time.Hour
	writeTimeout = 2 * time.Second
	maxDialDelay = 15 * time.Second
)

var ErrNotFound = errors.New("upload session not found")

// NewRedisClient connects to redis, retrying with an exponential backoff until ctx is done.
func NewRedisClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = maxDialDelay
	err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", conf.Redis.Addr)
	}
	return client, nil
}

// RedisStore keeps the latest snapshot of every upload in a hash named upload:<id>, expiring after a day.
// In-progress snapshots are written when progress moved by at least one point.
type RedisStore struct {
	client *redis.Client
	logger core.Logger

	mu      sync.Mutex
	written map[string]float64 // last progress written per in-progress upload
}

var _ upload.Observer = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, logger core.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger, written: make(map[string]float64)}
}

func key(id string) string { return keyPrefix + id }

func (s *RedisStore) Observe(sess upload.Session) {
	if !s.shouldWrite(sess) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.Save(ctx, sess); err != nil {
		s.logger.Warn(fmt.Sprintf("saving upload %s progress: %v", sess.ID, err), err)
	}
}

func (s *RedisStore) shouldWrite(sess upload.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.State != upload.StateInProgress {
		delete(s.written, sess.ID)
		return true
	}
	last, seen := s.written[sess.ID]
	if seen && sess.Progress > 0 && sess.Progress-last < 1 {
		return false
	}
	s.written[sess.ID] = sess.Progress
	return true
}

func (s *RedisStore) Save(ctx context.Context, sess upload.Session) error {
	k := key(sess.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, encodeSession(sess))
		pipe.Expire(ctx, k, sessionTTL)
		return nil
	})
	return errors.Wrapf(err, "writing %s", k)
}

func (s *RedisStore) Get(ctx context.Context, id string) (upload.Session, error) {
	fields, err := s.client.HGetAll(ctx, key(id)).Result()
	if err != nil {
		return upload.Session{}, errors.Wrapf(err, "reading %s", key(id))
	}
	if len(fields) == 0 {
		return upload.Session{}, ErrNotFound
	}
	return decodeSession(fields)
}

func encodeSession(sess upload.Session) map[string]interface{} {
	return map[string]interface{}{
		"id":                sess.ID,
		"owner_id":          sess.OwnerID,
		"path":              sess.Path,
		"file_name":         sess.FileName,
		"content_type":      sess.ContentType,
		"bytes_transferred": sess.BytesTransferred,
		"total_bytes":       sess.TotalBytes,
		"progress":          strconv.FormatFloat(sess.Progress, 'f', 2, 64),
		"url":               sess.URL,
		"state":             sess.State.String(),
		"started_at":        sess.StartedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":        sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeSession(fields map[string]string) (upload.Session, error) {
	sess := upload.Session{
		ID:          fields["id"],
		OwnerID:     fields["owner_id"],
		Path:        fields["path"],
		FileName:    fields["file_name"],
		ContentType: fields["content_type"],
		URL:         fields["url"],
	}

	var err error
	if sess.BytesTransferred, err = strconv.ParseInt(fields["bytes_transferred"], 10, 64); err != nil {
		return upload.Session{}, errors.Wrap(err, "parsing bytes_transferred")
	}
	if sess.TotalBytes, err = strconv.ParseInt(fields["total_bytes"], 10, 64); err != nil {
		return upload.Session{}, errors.Wrap(err, "parsing total_bytes")
	}
	if sess.Progress, err = strconv.ParseFloat(fields["progress"], 64); err != nil {
		return upload.Session{}, errors.Wrap(err, "parsing progress")
	}
	if sess.State, err = upload.ParseState(fields["state"]); err != nil {
		return upload.Session{}, err
	}
	if sess.StartedAt, err = time.Parse(time.RFC3339Nano, fields["started_at"]); err != nil {
		return upload.Session{}, errors.Wrap(err, "parsing started_at")
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return upload.Session{}, errors.Wrap(err, "parsing updated_at")
	}
	return sess, nil
}
