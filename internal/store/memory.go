package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/midlaj1055/live-chat/internal/models"
)

// MemoryStore is an in-process LiveStore and CodeStore. It backs
// STORE_BACKEND=memory and the tests; it has the same delivery semantics
// as RedisStore: full snapshots, sequential per subscription, bursts of
// changes coalesced into one reload.
type MemoryStore struct {
	mu           sync.Mutex
	now          func() time.Time
	last         time.Time
	participants map[string]models.Participant
	chats        map[string]map[string]models.Message
	codes        map[string]memoryEntry
	attempts     map[string]int64
	revoked      map[string]time.Time
	watchers     map[string]map[*memoryWatch]struct{}
	authWatchers map[string]map[*memoryWatch]func(string)
	writeErr     error
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:          now,
		participants: make(map[string]models.Participant),
		chats:        make(map[string]map[string]models.Message),
		codes:        make(map[string]memoryEntry),
		attempts:     make(map[string]int64),
		revoked:      make(map[string]time.Time),
		watchers:     make(map[string]map[*memoryWatch]struct{}),
		authWatchers: make(map[string]map[*memoryWatch]func(string)),
	}
}

// FailWrites makes every following write return err. Pass nil to recover.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// FailWatchers delivers err to every live query on the conversation key
// (or the directory, for key ""), ending them.
func (s *MemoryStore) FailWatchers(key string, err error) {
	channel := usersChannel()
	if key != "" {
		channel = chatChannel(key)
	}
	s.mu.Lock()
	watchers := make([]*memoryWatch, 0, len(s.watchers[channel]))
	for w := range s.watchers[channel] {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()
	for _, w := range watchers {
		select {
		case w.fail <- err:
		default:
		}
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases nothing; it exists for symmetry with RedisStore.
func (s *MemoryStore) Close() error {
	return nil
}

// ServerTime returns the store clock, never running backwards.
func (s *MemoryStore) ServerTime(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick(), nil
}

func (s *MemoryStore) tick() time.Time {
	now := s.now()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	return now
}

// WritePresence updates online/lastSeen, creating the record when absent.
func (s *MemoryStore) WritePresence(ctx context.Context, profile models.Profile, online bool) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	now := s.tick()
	p, ok := s.participants[profile.ID]
	if !ok {
		p = models.Participant{
			ID:          profile.ID,
			DisplayName: profile.DisplayName,
			PhotoURL:    profile.PhotoURL,
		}
	}
	p.Online = online
	p.LastSeen = &now
	s.participants[profile.ID] = p
	s.mu.Unlock()

	s.notify(usersChannel(), userChannel(profile.ID))
	return nil
}

// GetParticipant returns the participant record, or nil if there is none.
func (s *MemoryStore) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, nil
	}
	return copyParticipant(p), nil
}

// ListParticipants returns every participant ordered by id.
func (s *MemoryStore) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *copyParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyParticipant(p models.Participant) *models.Participant {
	if p.LastSeen != nil {
		t := *p.LastSeen
		p.LastSeen = &t
	}
	return &p
}

// WatchParticipants delivers the full directory on every change.
func (s *MemoryStore) WatchParticipants(ctx context.Context, onSnapshot SnapshotFunc[[]models.Participant], onError ErrorFunc) (Subscription, error) {
	return s.watch(ctx, usersChannel(), func(ctx context.Context) error {
		participants, _ := s.ListParticipants(ctx)
		onSnapshot(participants)
		return nil
	}, onError), nil
}

// WatchParticipant delivers one participant record on every change.
func (s *MemoryStore) WatchParticipant(ctx context.Context, id string, onSnapshot SnapshotFunc[*models.Participant], onError ErrorFunc) (Subscription, error) {
	return s.watch(ctx, userChannel(id), func(ctx context.Context) error {
		p, _ := s.GetParticipant(ctx, id)
		if p != nil {
			onSnapshot(p)
		}
		return nil
	}, onError), nil
}

// AddMessage stores a message stamped with the store clock.
func (s *MemoryStore) AddMessage(ctx context.Context, key string, in models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return nil, err
	}
	now := s.tick()
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	msg := models.Message{
		ID:        id.String(),
		Text:      in.Text,
		SenderID:  in.SenderID,
		CreatedAt: now,
		ReplyTo:   copyReply(in.ReplyTo),
	}
	if s.chats[key] == nil {
		s.chats[key] = make(map[string]models.Message)
	}
	s.chats[key][msg.ID] = msg
	s.mu.Unlock()

	s.notify(chatChannel(key))
	out := msg
	out.ReplyTo = copyReply(msg.ReplyTo)
	return &out, nil
}

func copyReply(r *models.ReplyRef) *models.ReplyRef {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// DeleteMessage hard-removes a message. Deleting a missing id is not an error.
func (s *MemoryStore) DeleteMessage(ctx context.Context, key, id string) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	delete(s.chats[key], id)
	s.mu.Unlock()

	s.notify(chatChannel(key))
	return nil
}

// ListMessages returns the conversation ordered by creation instant, then id.
func (s *MemoryStore) ListMessages(ctx context.Context, key string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0, len(s.chats[key]))
	for _, m := range s.chats[key] {
		m.ReplyTo = copyReply(m.ReplyTo)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// WatchMessages delivers the whole conversation on every change.
func (s *MemoryStore) WatchMessages(ctx context.Context, key string, onSnapshot SnapshotFunc[[]models.Message], onError ErrorFunc) (Subscription, error) {
	return s.watch(ctx, chatChannel(key), func(ctx context.Context) error {
		messages, _ := s.ListMessages(ctx, key)
		onSnapshot(messages)
		return nil
	}, onError), nil
}

// SaveCode stores the hash of a one-time code and resets its attempt counter.
func (s *MemoryStore) SaveCode(ctx context.Context, phone, hash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[phone] = memoryEntry{value: hash, expires: s.now().Add(ttl)}
	delete(s.attempts, phone)
	return nil
}

// GetCode returns the stored code hash or ErrNotFound.
func (s *MemoryStore) GetCode(ctx context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.codes[phone]
	if !ok || !s.now().Before(e.expires) {
		return "", ErrNotFound
	}
	return e.value, nil
}

// DeleteCode removes a one-time code.
func (s *MemoryStore) DeleteCode(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, phone)
	delete(s.attempts, phone)
	return nil
}

// IncrementCodeAttempts counts a verification attempt.
func (s *MemoryStore) IncrementCodeAttempts(ctx context.Context, phone string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[phone]++
	return s.attempts[phone], nil
}

// RevokeToken marks a token id as revoked until it would have expired.
func (s *MemoryStore) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = s.now().Add(ttl)
	return nil
}

// IsTokenRevoked checks the revocation list.
func (s *MemoryStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.revoked[jti]
	return ok && s.now().Before(until), nil
}

// PublishAuthEvent notifies sessions of an account about a login state change.
func (s *MemoryStore) PublishAuthEvent(ctx context.Context, accountID, event string) error {
	s.mu.Lock()
	handlers := make([]func(string), 0, len(s.authWatchers[accountID]))
	for _, fn := range s.authWatchers[accountID] {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(event)
	}
	return nil
}

// WatchAuthEvents calls onEvent for each login state change of the account.
func (s *MemoryStore) WatchAuthEvents(ctx context.Context, accountID string, onEvent func(string)) (Subscription, error) {
	w := &memoryWatch{store: s, done: make(chan struct{}), auth: accountID}
	close(w.done)
	s.mu.Lock()
	if s.authWatchers[accountID] == nil {
		s.authWatchers[accountID] = make(map[*memoryWatch]func(string))
	}
	s.authWatchers[accountID][w] = onEvent
	s.mu.Unlock()
	return w, nil
}

// memoryWatch is a live query fed by in-process notifications.
type memoryWatch struct {
	store   *MemoryStore
	channel string
	auth    string
	notify  chan struct{}
	fail    chan error
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Close stops the watch and waits for an in-flight delivery to finish.
func (w *memoryWatch) Close() error {
	w.once.Do(func() {
		w.store.mu.Lock()
		if w.auth != "" {
			delete(w.store.authWatchers[w.auth], w)
		} else {
			delete(w.store.watchers[w.channel], w)
		}
		w.store.mu.Unlock()
		if w.cancel != nil {
			w.cancel()
		}
	})
	<-w.done
	return nil
}

func (s *MemoryStore) watch(ctx context.Context, channel string, load func(context.Context) error, onError ErrorFunc) *memoryWatch {
	ctx, cancel := context.WithCancel(ctx)
	w := &memoryWatch{
		store:   s,
		channel: channel,
		notify:  make(chan struct{}, 1),
		fail:    make(chan error, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.watchers[channel] == nil {
		s.watchers[channel] = make(map[*memoryWatch]struct{})
	}
	s.watchers[channel][w] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer close(w.done)
		if ctx.Err() == nil {
			_ = load(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-w.fail:
				if ctx.Err() == nil && onError != nil {
					onError(err)
				}
				return
			case <-w.notify:
				if ctx.Err() != nil {
					return
				}
				_ = load(ctx)
			}
		}
	}()

	return w
}

// notify wakes every watcher of the channels. A watcher that already has a
// pending wake-up absorbs the new one.
func (s *MemoryStore) notify(channels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		for w := range s.watchers[ch] {
			select {
			case w.notify <- struct{}{}:
			default:
			}
		}
	}
}
