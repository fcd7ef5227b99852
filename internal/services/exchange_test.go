package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slotter-org/roomchat-backend/internal/cache"
	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/repos"
	"github.com/slotter-org/roomchat-backend/internal/tasks"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

type fakeIdentity struct {
	id  types.Identity
	err error
}

func (f fakeIdentity) VerifyIdentity(ctx context.Context) (types.Identity, error) {
	return f.id, f.err
}

type exchangeFixture struct {
	*testEnv
	svc      ExchangeService
	provider *fakeProvider
	queue    *tasks.MemoryQueue
}

func newExchangeFixture(t *testing.T, provider *fakeProvider, messages repos.MessageRepo) *exchangeFixture {
	t.Helper()
	return newCachedExchangeFixture(t, provider, messages, nil)
}

func newCachedExchangeFixture(t *testing.T, provider *fakeProvider, messages repos.MessageRepo, roomCache cache.Cache) *exchangeFixture {
	t.Helper()
	env := newTestEnv(t)
	if provider == nil {
		provider = &fakeProvider{}
	}
	if messages == nil {
		messages = env.messages
	}
	log := logger.NewNop()
	identity := fakeIdentity{id: env.identity()}
	queue := tasks.NewMemoryQueue(16)
	t.Cleanup(func() { queue.Close() })

	svc := NewExchangeService(
		log,
		messages,
		NewContextAssembler(messages, 10, "be brief", log),
		NewAIResponder(provider, nil, testAIConfig(), log),
		identity,
		NewRoomService(env.db, log, env.rooms, env.messages, identity, nil, nil, nil),
		nil,
		queue,
		roomCache,
		"be brief",
	)
	return &exchangeFixture{testEnv: env, svc: svc, provider: provider, queue: queue}
}

func metadataOf(t *testing.T, m *types.Message) types.AIMetadata {
	t.Helper()
	var meta types.AIMetadata
	if err := json.Unmarshal(m.Metadata, &meta); err != nil {
		t.Fatalf("metadata of %s: %v", m.CorrelationID, err)
	}
	return meta
}

func TestExchangeStoresPair(t *testing.T) {
	f := newExchangeFixture(t, nil, nil)
	ctx := context.Background()

	res, err := f.svc.Exchange(ctx, f.room.ID, "Hello AI, how are you?")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if res.State != types.ExchangeCompleted {
		t.Errorf("state = %v, want completed", res.State)
	}
	if got := f.countMessages(t); got != 2 {
		t.Fatalf("rows = %d, want 2", got)
	}

	all, err := f.messages.ListByRoomID(ctx, nil, f.room.ID)
	if err != nil {
		t.Fatal(err)
	}
	user, ai := all[0], all[1]
	if user.MessageType != types.MessageTypeUser || user.Content != "Hello AI, how are you?" || user.UserID == nil || *user.UserID != f.user.ID {
		t.Errorf("user row = %+v", user)
	}
	if ai.MessageType != types.MessageTypeAI || ai.UserID != nil || ai.Content == "" {
		t.Errorf("ai row = %+v", ai)
	}
	if ai.DisplayName != types.AIDisplayName {
		t.Errorf("ai display name = %q", ai.DisplayName)
	}
	if ai.Seq <= user.Seq || ai.CreatedAt.Before(user.CreatedAt) {
		t.Errorf("ai (seq %d, %v) not after user (seq %d, %v)", ai.Seq, ai.CreatedAt, user.Seq, user.CreatedAt)
	}
	if meta := metadataOf(t, ai); meta.InReplyTo != user.CorrelationID || meta.Fallback {
		t.Errorf("ai metadata = %+v", meta)
	}
	if res.UserMessage.CorrelationID != user.CorrelationID || res.AiMessage.CorrelationID != ai.CorrelationID {
		t.Error("result does not match stored rows")
	}

	// the provider saw the new message as the last turn
	turns := f.provider.lastCall().Turns
	if len(turns) != 1 || turns[0].Content != "alice: Hello AI, how are you?" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestExchangeRejects(t *testing.T) {
	f := newExchangeFixture(t, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		roomID  uuid.UUID
		content string
		check   func(error) bool
	}{
		{"unknown room", uuid.New(), "hi", errordata.IsNotFound},
		{"blank content", f.room.ID, "   ", errordata.IsInvalid},
		{"too long", f.room.ID, string(make([]byte, MaxMessageLength+1)), errordata.IsInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Exchange(ctx, tc.roomID, tc.content)
			if !tc.check(err) {
				t.Errorf("err = %v", err)
			}
		})
	}
	if got := f.countMessages(t); got != 0 {
		t.Errorf("rows = %d, want 0", got)
	}
	if f.provider.callCount() != 0 {
		t.Error("provider called for rejected exchange")
	}
}

func TestExchangeUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	log := logger.NewNop()
	identity := fakeIdentity{err: errordata.Auth("test", "not authenticated", nil)}
	svc := NewExchangeService(
		log,
		env.messages,
		NewContextAssembler(env.messages, 10, "", log),
		NewAIResponder(&fakeProvider{}, nil, testAIConfig(), log),
		identity,
		NewRoomService(env.db, log, env.rooms, env.messages, identity, nil, nil, nil),
		nil, nil, nil, "",
	)
	if _, err := svc.Exchange(context.Background(), env.room.ID, "hi"); !errordata.IsAuth(err) {
		t.Errorf("Exchange err = %v, want auth", err)
	}
	if _, err := svc.History(context.Background(), env.room.ID, 10, 0); !errordata.IsAuth(err) {
		t.Errorf("History err = %v, want auth", err)
	}
	if got := env.countMessages(t); got != 0 {
		t.Errorf("rows = %d, want 0", got)
	}
}

func TestExchangeProviderFailureFallsBack(t *testing.T) {
	provider := &fakeProvider{reply: func(ctx context.Context, convo types.ConversationContext) (string, error) {
		return "", errordata.Provider("test", "boom", &ProviderStatusError{StatusCode: 503})
	}}
	f := newExchangeFixture(t, provider, nil)

	res, err := f.svc.Exchange(context.Background(), f.room.ID, "anyone there?")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if res.State != types.ExchangeCompleted {
		t.Errorf("state = %v", res.State)
	}
	if res.AiMessage.Content != testFallback {
		t.Errorf("content = %q, want fallback", res.AiMessage.Content)
	}
	var meta types.AIMetadata
	if err := json.Unmarshal(res.AiMessage.Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	if !meta.Fallback || meta.Reason != ReasonHTTPStatus {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestExchangeContextReadFailureStillAnswers(t *testing.T) {
	failing := &failingMessageRepo{failReads: true}
	f := newExchangeFixture(t, nil, failing)
	failing.MessageRepo = f.messages

	f.appendUser(t, "earlier")
	if _, err := f.svc.Exchange(context.Background(), f.room.ID, "now"); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	turns := f.provider.lastCall().Turns
	if len(turns) != 1 || turns[0].Content != "alice: now" {
		t.Errorf("turns = %+v, want only the new message", turns)
	}
}

func TestExchangeAIWriteFailureIsPartial(t *testing.T) {
	failing := &failingMessageRepo{failAppendType: types.MessageTypeAI}
	f := newExchangeFixture(t, nil, failing)
	failing.MessageRepo = f.messages

	_, err := f.svc.Exchange(context.Background(), f.room.ID, "will you answer?")
	var partial *PartialExchangeError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want PartialExchangeError", err)
	}
	if !errordata.IsStore(err) {
		t.Errorf("partial error kind = %v, want store", errordata.KindOf(err))
	}

	history, err := f.svc.History(context.Background(), f.room.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].CorrelationID != partial.UserMessage.CorrelationID {
		t.Errorf("history = %d messages, want the stored user message", len(history))
	}
}

func TestConcurrentExchangesStayPaired(t *testing.T) {
	f := newExchangeFixture(t, &fakeProvider{delay: 5 * time.Millisecond}, nil)
	ctx := context.Background()

	const n = 6
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.svc.Exchange(ctx, f.room.ID, fmt.Sprintf("q%d", i)); err != nil {
				t.Errorf("Exchange %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	all, err := f.messages.ListByRoomID(ctx, nil, f.room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2*n {
		t.Fatalf("rows = %d, want %d", len(all), 2*n)
	}
	for i := 0; i < len(all); i += 2 {
		user, ai := all[i], all[i+1]
		if user.MessageType != types.MessageTypeUser || ai.MessageType != types.MessageTypeAI {
			t.Fatalf("rows %d,%d are %s,%s", i, i+1, user.MessageType, ai.MessageType)
		}
		if meta := metadataOf(t, ai); meta.InReplyTo != user.CorrelationID {
			t.Errorf("ai at seq %d answers %s, want %s", ai.Seq, meta.InReplyTo, user.CorrelationID)
		}
	}
}

func TestHistory(t *testing.T) {
	f := newExchangeFixture(t, nil, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Exchange(ctx, f.room.ID, fmt.Sprintf("q%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	first, err := f.svc.History(ctx, f.room.ID, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.History(ctx, f.room.ID, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("lengths = %d, %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("history differs at %d", i)
		}
		if i > 0 && first[i].Seq <= first[i-1].Seq {
			t.Fatalf("history not ascending at %d", i)
		}
	}

	rest, err := f.svc.History(ctx, f.room.ID, 4, 4)
	if err != nil || len(rest) != 2 {
		t.Errorf("second page = %d, %v", len(rest), err)
	}
	if _, err := f.svc.History(ctx, f.room.ID, 10, -1); !errordata.IsInvalid(err) {
		t.Errorf("negative offset err = %v", err)
	}
	if _, err := f.svc.History(ctx, uuid.New(), 10, 0); !errordata.IsNotFound(err) {
		t.Errorf("unknown room err = %v", err)
	}

	got, err := f.svc.GetMessage(ctx, first[0].CorrelationID)
	if err != nil || got.ID != first[0].ID {
		t.Errorf("GetMessage = %v, %v", got, err)
	}
}

func TestSubmitAndComplete(t *testing.T) {
	f := newExchangeFixture(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	userMsg, err := f.svc.Submit(ctx, f.room.ID, "async hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := f.countMessages(t); got != 1 {
		t.Fatalf("rows after submit = %d, want 1", got)
	}

	job, err := f.queue.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job.CorrelationID != userMsg.CorrelationID || job.RoomID != f.room.ID {
		t.Fatalf("job = %+v", job)
	}

	// running the job twice stores one reply
	for i := 0; i < 2; i++ {
		if err := f.svc.CompleteExchange(ctx, job); err != nil {
			t.Fatalf("CompleteExchange #%d: %v", i, err)
		}
	}
	history, err := f.svc.History(ctx, f.room.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want 2", len(history))
	}
	if meta := metadataOf(t, history[1]); meta.InReplyTo != userMsg.CorrelationID {
		t.Errorf("reply metadata = %+v", meta)
	}

	missing := tasks.Job{CorrelationID: "nope", RoomID: f.room.ID, EnqueuedAt: time.Now()}
	if err := f.svc.CompleteExchange(ctx, missing); !tasks.IsPermanent(err) {
		t.Errorf("missing message err = %v, want permanent", err)
	}
}

func TestSubmitThroughWorker(t *testing.T) {
	f := newExchangeFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := tasks.NewWorker(f.queue, f.svc.CompleteExchange, 1, logger.NewNop())
	go worker.Run(ctx)

	if _, err := f.svc.Submit(ctx, f.room.ID, "ping"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for f.countMessages(t) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("worker did not store the reply")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCompleteExchangeKeepsReplyOrder(t *testing.T) {
	f := newExchangeFixture(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := f.svc.Submit(ctx, f.room.ID, "first")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Submit(ctx, f.room.ID, "second")
	if err != nil {
		t.Fatal(err)
	}
	j1, err := f.queue.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	j2, err := f.queue.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// the later job runs first
	if err := f.svc.CompleteExchange(ctx, j2); err != nil {
		t.Fatalf("CompleteExchange(second): %v", err)
	}
	if err := f.svc.CompleteExchange(ctx, j1); err != nil {
		t.Fatalf("CompleteExchange(first): %v", err)
	}

	all, err := f.messages.ListByRoomID(ctx, nil, f.room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("rows = %d, want 4", len(all))
	}
	want := []string{first.CorrelationID, second.CorrelationID}
	for i, ai := range all[2:] {
		if ai.MessageType != types.MessageTypeAI {
			t.Fatalf("row seq %d is %s, want ai", ai.Seq, ai.MessageType)
		}
		if meta := metadataOf(t, ai); meta.InReplyTo != want[i] {
			t.Errorf("ai at seq %d answers %s, want %s", ai.Seq, meta.InReplyTo, want[i])
		}
	}

	// the reply to "first" was built without the later message
	if f.provider.callCount() != 2 {
		t.Fatalf("provider called %d times, want 2", f.provider.callCount())
	}
	turns := f.provider.calls[0].Turns
	if last := turns[len(turns)-1].Content; last != "alice: first" {
		t.Errorf("first reply context ends with %q", last)
	}
}

func TestSubmitThroughManyWorkersKeepsOrder(t *testing.T) {
	f := newExchangeFixture(t, &fakeProvider{delay: 2 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 8
	var submitted []string
	for i := 0; i < n; i++ {
		m, err := f.svc.Submit(ctx, f.room.ID, fmt.Sprintf("q%d", i))
		if err != nil {
			t.Fatal(err)
		}
		submitted = append(submitted, m.CorrelationID)
	}

	worker := tasks.NewWorker(f.queue, f.svc.CompleteExchange, 4, logger.NewNop())
	go worker.Run(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for f.countMessages(t) < 2*n {
		if time.Now().After(deadline) {
			t.Fatalf("workers stored %d rows, want %d", f.countMessages(t), 2*n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	all, err := f.messages.ListByRoomID(ctx, nil, f.room.ID)
	if err != nil {
		t.Fatal(err)
	}
	var answered []string
	for _, m := range all {
		if m.MessageType == types.MessageTypeAI {
			answered = append(answered, metadataOf(t, m).InReplyTo)
		}
	}
	if len(answered) != n {
		t.Fatalf("replies = %d, want %d", len(answered), n)
	}
	for i := range submitted {
		if answered[i] != submitted[i] {
			t.Fatalf("reply %d answers %s, want %s", i, answered[i], submitted[i])
		}
	}
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string][]byte{}}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.items[key] = raw
	c.mu.Unlock()
}

func (c *memoryCache) Delete(ctx context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.items, k)
	}
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

func TestHistoryCachesOnlyFullPages(t *testing.T) {
	rc := newMemoryCache()
	f := newCachedExchangeFixture(t, nil, nil, rc)
	ctx := context.Background()
	key := cache.RoomMessagesKey(f.room.ID)

	if _, err := f.svc.Submit(ctx, f.room.ID, "waiting"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.History(ctx, f.room.ID, 0, 0); err != nil {
		t.Fatal(err)
	}
	if rc.has(key) {
		t.Fatal("short page cached while its reply is pending")
	}

	job, err := f.queue.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.CompleteExchange(ctx, job); err != nil {
		t.Fatal(err)
	}
	history, err := f.svc.History(ctx, f.room.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[1].MessageType != types.MessageTypeAI {
		t.Fatalf("history = %d messages, want the pair", len(history))
	}

	for f.countMessages(t) < DefaultHistoryLimit {
		f.appendUser(t, "filler")
	}
	full, err := f.svc.History(ctx, f.room.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != DefaultHistoryLimit || !rc.has(key) {
		t.Fatalf("full page of %d messages cached = %v", len(full), rc.has(key))
	}
}
