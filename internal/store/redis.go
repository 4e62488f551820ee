package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/midlaj1055/live-chat/internal/metrics"
	"github.com/midlaj1055/live-chat/internal/models"
)

const usersKey = "users"

// RedisStore is the live document store. Documents live in hashes and
// sorted sets; every write publishes on a change channel and watchers
// reload the full result set when notified.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// userKey returns the key for a participant's directory hash.
func userKey(id string) string {
	return fmt.Sprintf("user:%s", id)
}

// chatMessagesKey returns the key for a conversation's ordered message ids.
func chatMessagesKey(key string) string {
	return fmt.Sprintf("chat:%s:messages", key)
}

// chatBodiesKey returns the key for a conversation's message documents.
func chatBodiesKey(key string) string {
	return fmt.Sprintf("chat:%s:bodies", key)
}

// Change channels. Every write publishes on the channels of the documents it touched.
func usersChannel() string          { return "changes:users" }
func userChannel(id string) string  { return "changes:user:" + id }
func chatChannel(key string) string { return "changes:chat:" + key }
func authChannel(id string) string  { return "auth:" + id }

func otpKey(phone string) string {
	return fmt.Sprintf("otp:%s", phone)
}

func otpAttemptsKey(phone string) string {
	return fmt.Sprintf("otp:%s:attempts", phone)
}

func revokedTokenKey(jti string) string {
	return fmt.Sprintf("revoked:%s", jti)
}

// ServerTime returns the Redis server clock.
func (s *RedisStore) ServerTime(ctx context.Context) (time.Time, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()
	return s.client.Time(ctx).Result()
}

// WritePresence updates online/lastSeen, creating the record when absent.
func (s *RedisStore) WritePresence(ctx context.Context, profile models.Profile, online bool) error {
	now, err := s.ServerTime(ctx)
	if err != nil {
		return err
	}

	key := userKey(profile.ID)
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, "displayName", profile.DisplayName)
	pipe.HSetNX(ctx, key, "photoURL", profile.PhotoURL)
	pipe.HSet(ctx, key, "online", strconv.FormatBool(online), "lastSeen", now.UnixMilli())
	pipe.SAdd(ctx, usersKey, profile.ID)
	pipe.Publish(ctx, usersChannel(), profile.ID)
	pipe.Publish(ctx, userChannel(profile.ID), profile.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetParticipant returns the participant record, or nil if there is none.
func (s *RedisStore) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	fields, err := s.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	p := parseParticipant(id, fields)
	return &p, nil
}

// ListParticipants returns every participant ordered by id.
func (s *RedisStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	ids, err := s.client.SMembers(ctx, usersKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, userKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	participants := make([]models.Participant, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		participants = append(participants, parseParticipant(ids[i], fields))
	}
	return participants, nil
}

func parseParticipant(id string, fields map[string]string) models.Participant {
	p := models.Participant{
		ID:          id,
		DisplayName: fields["displayName"],
		PhotoURL:    fields["photoURL"],
	}
	p.Online, _ = strconv.ParseBool(fields["online"])
	if ms, err := strconv.ParseInt(fields["lastSeen"], 10, 64); err == nil && ms > 0 {
		t := time.UnixMilli(ms)
		p.LastSeen = &t
	}
	return p
}

// WatchParticipants delivers the full directory on every change.
func (s *RedisStore) WatchParticipants(ctx context.Context, onSnapshot SnapshotFunc[[]models.Participant], onError ErrorFunc) (Subscription, error) {
	return s.watch(ctx, usersChannel(), func(ctx context.Context) error {
		participants, err := s.ListParticipants(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() == nil {
			onSnapshot(participants)
		}
		return nil
	}, onError)
}

// WatchParticipant delivers one participant record on every change.
// Nothing is delivered while the record does not exist.
func (s *RedisStore) WatchParticipant(ctx context.Context, id string, onSnapshot SnapshotFunc[*models.Participant], onError ErrorFunc) (Subscription, error) {
	return s.watch(ctx, userChannel(id), func(ctx context.Context) error {
		p, err := s.GetParticipant(ctx, id)
		if err != nil {
			return err
		}
		if p != nil && ctx.Err() == nil {
			onSnapshot(p)
		}
		return nil
	}, onError)
}

// AddMessage stores a message stamped with the server clock.
func (s *RedisStore) AddMessage(ctx context.Context, key string, in models.NewMessage) (*models.Message, error) {
	now, err := s.ServerTime(ctx)
	if err != nil {
		return nil, err
	}

	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:        id.String(),
		Text:      in.Text,
		SenderID:  in.SenderID,
		CreatedAt: now,
		ReplyTo:   in.ReplyTo,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, chatBodiesKey(key), msg.ID, string(data))
	pipe.ZAdd(ctx, chatMessagesKey(key), redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: msg.ID,
	})
	pipe.Publish(ctx, chatChannel(key), msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	return msg, nil
}

// DeleteMessage hard-removes a message. Deleting a missing id is not an error.
func (s *RedisStore) DeleteMessage(ctx context.Context, key, id string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, chatMessagesKey(key), id)
	pipe.HDel(ctx, chatBodiesKey(key), id)
	pipe.Publish(ctx, chatChannel(key), id)
	_, err := pipe.Exec(ctx)
	return err
}

// ListMessages returns the conversation ordered by creation instant.
// Equal instants are ordered by id.
func (s *RedisStore) ListMessages(ctx context.Context, key string) ([]models.Message, error) {
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	ids, err := s.client.ZRange(ctx, chatMessagesKey(key), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Message{}, nil
	}

	values, err := s.client.HMGet(ctx, chatBodiesKey(key), ids...).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue // deleted between the two reads
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// WatchMessages delivers the whole conversation on every change.
func (s *RedisStore) WatchMessages(ctx context.Context, key string, onSnapshot SnapshotFunc[[]models.Message], onError ErrorFunc) (Subscription, error) {
	return s.watch(ctx, chatChannel(key), func(ctx context.Context) error {
		messages, err := s.ListMessages(ctx, key)
		if err != nil {
			return err
		}
		if ctx.Err() == nil {
			onSnapshot(messages)
		}
		return nil
	}, onError)
}

// redisWatch is a live query driven by a pub/sub channel.
type redisWatch struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the watch and waits for an in-flight delivery to finish.
// It must not be called from the watch's own callbacks.
func (w *redisWatch) Close() error {
	w.cancel()
	err := w.pubsub.Close()
	<-w.done
	return err
}

// watch subscribes to channel, then runs load once and again after every
// notification. Notifications that pile up during a load collapse into one reload.
func (s *RedisStore) watch(ctx context.Context, channel string, load func(context.Context) error, onError ErrorFunc) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	w := &redisWatch{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	notifications := pubsub.Channel()

	fail := func(err error) {
		if ctx.Err() == nil && onError != nil {
			onError(err)
		}
	}

	go func() {
		defer close(w.done)

		if err := load(ctx); err != nil {
			fail(err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notifications:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case _, ok := <-notifications:
						if !ok {
							return
						}
					default:
						break drain
					}
				}
				if err := load(ctx); err != nil {
					fail(err)
					return
				}
			}
		}
	}()

	return w, nil
}

// SaveCode stores the hash of a one-time code and resets its attempt counter.
func (s *RedisStore) SaveCode(ctx context.Context, phone, hash string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, otpKey(phone), hash, ttl)
	pipe.Del(ctx, otpAttemptsKey(phone))
	_, err := pipe.Exec(ctx)
	return err
}

// GetCode returns the stored code hash or ErrNotFound.
func (s *RedisStore) GetCode(ctx context.Context, phone string) (string, error) {
	hash, err := s.client.Get(ctx, otpKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return hash, err
}

// DeleteCode removes a one-time code.
func (s *RedisStore) DeleteCode(ctx context.Context, phone string) error {
	return s.client.Del(ctx, otpKey(phone), otpAttemptsKey(phone)).Err()
}

// IncrementCodeAttempts counts a verification attempt.
func (s *RedisStore) IncrementCodeAttempts(ctx context.Context, phone string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, otpAttemptsKey(phone))
	pipe.Expire(ctx, otpAttemptsKey(phone), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RevokeToken marks a token id as revoked until it would have expired.
func (s *RedisStore) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	return s.client.Set(ctx, revokedTokenKey(jti), "1", ttl).Err()
}

// IsTokenRevoked checks the revocation list.
func (s *RedisStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedTokenKey(jti)).Result()
	return n > 0, err
}

// PublishAuthEvent notifies sessions of an account about a login state change.
func (s *RedisStore) PublishAuthEvent(ctx context.Context, accountID, event string) error {
	return s.client.Publish(ctx, authChannel(accountID), event).Err()
}

// WatchAuthEvents calls onEvent for each login state change of the account.
func (s *RedisStore) WatchAuthEvents(ctx context.Context, accountID string, onEvent func(string)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	pubsub := s.client.Subscribe(ctx, authChannel(accountID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	w := &redisWatch{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	events := pubsub.Channel()

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-events:
				if !ok {
					return
				}
				onEvent(msg.Payload)
			}
		}
	}()

	return w, nil
}
