package service

import (
	"Patronage/internal/api/dto"
	"Patronage/internal/chat"
	"Patronage/internal/model"
	"Patronage/internal/pkg/mongo"
	"Patronage/internal/pkg/redis"
	"Patronage/internal/repository"
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errStoreDown = errors.New("connection refused")

// memMessageRepo 内存版消息日志，过滤语义与 MongoDB 实现保持一致
type memMessageRepo struct {
	mu        sync.Mutex
	docs      map[primitive.ObjectID]*mongo.Message
	saves     int
	failSaveN int // 第 N 次保存失败，0 表示不注入
	failReads bool
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{docs: make(map[primitive.ObjectID]*mongo.Message)}
}

func clone(m *mongo.Message) *mongo.Message {
	c := *m
	c.Payload = append([]mongo.Payload(nil), m.Payload...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	return &c
}

func (s *memMessageRepo) SaveMessage(_ context.Context, msg *mongo.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSaveN > 0 && s.saves == s.failSaveN {
		return errStoreDown
	}
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	s.docs[msg.ID] = clone(msg)
	return nil
}

func (s *memMessageRepo) DeleteCopy(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *memMessageRepo) sorted(filter func(m *mongo.Message) bool) []*mongo.Message {
	var out []*mongo.Message
	for _, m := range s.docs {
		if filter(m) {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *memMessageRepo) GetHistory(_ context.Context, threadID string, cursor mongo.HistoryCursor, pageSize int) ([]*mongo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errStoreDown
	}
	out := s.sorted(func(m *mongo.Message) bool {
		if m.ThreadID != threadID {
			return false
		}
		switch {
		case cursor.Before.IsZero():
			return true
		case m.CreatedAt.Before(cursor.Before):
			return true
		case m.CreatedAt.Equal(cursor.Before) && !cursor.BeforeID.IsZero():
			return m.ID.Hex() < cursor.BeforeID.Hex()
		}
		return false
	})
	if len(out) > pageSize {
		out = out[:pageSize]
	}
	return out, nil
}

func (s *memMessageRepo) GetByMsgID(_ context.Context, msgID string) ([]*mongo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errStoreDown
	}
	return s.sorted(func(m *mongo.Message) bool { return m.MsgID == msgID }), nil
}

func (s *memMessageRepo) FindUnreadIDs(_ context.Context, threadID string, readerID uint64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, m := range s.docs {
		if m.ThreadID == threadID && m.SenderID != readerID && m.State < chat.StateRead {
			ids = append(ids, m.MsgID)
		}
	}
	return ids, nil
}

func (s *memMessageRepo) AdvanceState(_ context.Context, msgIDs []string, to chat.DeliveryState) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(msgIDs))
	for _, id := range msgIDs {
		want[id] = true
	}
	var n int64
	for _, m := range s.docs {
		if want[m.MsgID] && m.State < to {
			m.State = to
			n++
		}
	}
	return n, nil
}

func (s *memMessageRepo) EditUnread(_ context.Context, msgID, content string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.docs {
		if m.MsgID == msgID && !m.Deleted && m.State < chat.StateRead {
			m.Content = content
			m.Edited = true
			t := at
			m.EditedAt = &t
			n++
		}
	}
	return n, nil
}

func (s *memMessageRepo) RestoreContent(_ context.Context, msgID, content string, edited bool, editedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.docs {
		if m.MsgID == msgID && !m.Deleted {
			m.Content = content
			m.Edited = edited
			m.EditedAt = editedAt
		}
	}
	return nil
}

func (s *memMessageRepo) DeleteUnread(_ context.Context, msgID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.docs {
		if m.MsgID == msgID && m.State < chat.StateRead {
			delete(s.docs, id)
			n++
		}
	}
	return n, nil
}

func (s *memMessageRepo) Tombstone(_ context.Context, msgID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.docs {
		if m.MsgID == msgID {
			m.Content = ""
			m.Payload = nil
			m.Deleted = true
			n++
		}
	}
	return n, nil
}

func (s *memMessageRepo) LatestVisible(_ context.Context, threadID string) (*mongo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sorted(func(m *mongo.Message) bool { return m.ThreadID == threadID && !m.Deleted })
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (s *memMessageRepo) EnsureIndexes(context.Context) error { return nil }

// thread 返回某个会话中的全部消息，最新的在前
func (s *memMessageRepo) thread(t chat.ThreadID) []*mongo.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(m *mongo.Message) bool { return m.ThreadID == t.String() })
}

func (s *memMessageRepo) setState(msgID string, to chat.DeliveryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.docs {
		if m.MsgID == msgID {
			m.State = to
		}
	}
}

// memFeed 进程内的发布订阅
type memFeed struct {
	mu   sync.Mutex
	subs map[*memSub]struct{}
}

func newMemFeed() *memFeed {
	return &memFeed{subs: make(map[*memSub]struct{})}
}

func (s *memFeed) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if !sub.channels[channel] {
			continue
		}
		select {
		case sub.ch <- &goredis.Message{Channel: channel, Payload: string(payload)}:
		default:
		}
	}
	return nil
}

func (s *memFeed) Subscribe(_ context.Context, channels ...string) redis.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &memSub{feed: s, channels: make(map[string]bool), ch: make(chan *goredis.Message, 64)}
	for _, c := range channels {
		sub.channels[c] = true
	}
	s.subs[sub] = struct{}{}
	return sub
}

func (s *memFeed) subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sub := range s.subs {
		if sub.channels[channel] {
			n++
		}
	}
	return n
}

type memSub struct {
	feed     *memFeed
	channels map[string]bool
	ch       chan *goredis.Message
}

func (s *memSub) Subscribe(_ context.Context, channels ...string) error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	for _, c := range channels {
		s.channels[c] = true
	}
	return nil
}

func (s *memSub) Unsubscribe(_ context.Context, channels ...string) error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	for _, c := range channels {
		delete(s.channels, c)
	}
	return nil
}

func (s *memSub) Channel() <-chan *goredis.Message { return s.ch }

func (s *memSub) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if _, ok := s.feed.subs[s]; ok {
		delete(s.feed.subs, s)
		close(s.ch)
	}
	return nil
}

type memEmitter struct {
	mu     sync.Mutex
	events []*dto.ChatEvent
}

func (s *memEmitter) EmitChatEvent(_ context.Context, evt *dto.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

type memDirty struct {
	mu      sync.Mutex
	members []string
}

func (s *memDirty) Mark(_ context.Context, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, members...)
	return nil
}

// racingPointerRepo 在首次初始化指定指针前，模拟对方抢先写入了自己的指针
type racingPointerRepo struct {
	repository.PointerRepo
	owner, counterpart uint64
	competing          chat.ThreadID
	raced              atomic.Bool
}

func (s *racingPointerRepo) CreatePointer(ctx context.Context, p *model.ChatPointer) (bool, error) {
	if p.OwnerID == s.owner && p.CounterpartID == s.counterpart && s.raced.CompareAndSwap(false, true) {
		if _, err := s.PointerRepo.CreatePointer(ctx, model.NewChatPointer(s.owner, s.counterpart, s.competing)); err != nil {
			return false, err
		}
	}
	return s.PointerRepo.CreatePointer(ctx, p)
}

// failingBumpRepo 对方未读数更新失败
type failingBumpRepo struct {
	repository.PointerRepo
}

func (s *failingBumpRepo) BumpPeer(context.Context, uint64, uint64, bool) error {
	return errStoreDown
}

// failingSummaryRepo 摘要写入失败
type failingSummaryRepo struct {
	repository.ThreadRepo
}

func (s *failingSummaryRepo) UpdateSummary(context.Context, chat.ThreadID, chat.Summary) error {
	return errStoreDown
}

// testClock 每次调用前进 1ms，保证时间戳严格递增
type testClock struct {
	now atomic.Int64
}

func newTestClock() *testClock {
	c := &testClock{}
	c.now.Store(time.UnixMilli(1_700_000_000_000).UnixMilli())
	return c
}

func (c *testClock) Now() time.Time {
	return time.UnixMilli(c.now.Add(1))
}

type testEnv struct {
	svc      *imServiceImpl
	db       *gorm.DB
	pointers repository.PointerRepo
	threads  repository.ThreadRepo
	messages *memMessageRepo
	feed     *memFeed
	emitter  *memEmitter
	dirty    *memDirty
}

type envOption func(env *testEnv, opts *IMOptions)

func withSettleDelay(d time.Duration) envOption {
	return func(_ *testEnv, opts *IMOptions) { opts.SettleDelay = d }
}

// withFixedClock 所有消息使用同一时间戳
func withFixedClock(at time.Time) envOption {
	return func(_ *testEnv, opts *IMOptions) { opts.Now = func() time.Time { return at } }
}

func newTestEnv(t *testing.T, options ...envOption) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.ChatPointer{}, &model.ChatThread{}, &model.UserDetail{}))

	env := &testEnv{
		db:       db,
		pointers: repository.NewPointerRepo(db),
		threads:  repository.NewThreadRepo(db),
		messages: newMemMessageRepo(),
		feed:     newMemFeed(),
		emitter:  &memEmitter{},
		dirty:    &memDirty{},
	}
	opts := IMOptions{
		Emitter:     env.emitter,
		Dirty:       env.dirty,
		MediaURL:    func(key string) string { return "https://cdn.test/" + key },
		SettleDelay: time.Hour,
		Workers:     1,
		Now:         newTestClock().Now,
	}
	for _, o := range options {
		o(env, &opts)
	}

	env.svc = NewIMService(env.pointers, env.threads, repository.NewProfileRepo(db), env.messages, env.feed, opts).(*imServiceImpl)
	t.Cleanup(func() {
		env.svc.Close()
		_ = sqlDB.Close()
	})
	return env
}

func (e *testEnv) pointer(t *testing.T, owner, counterpart uint64) *model.ChatPointer {
	t.Helper()
	p, err := e.pointers.GetPointer(context.Background(), owner, counterpart)
	require.NoError(t, err)
	return p
}

func (e *testEnv) history(t *testing.T, owner, peer uint64) []*dto.MessageDTO {
	t.Helper()
	list, err := e.svc.GetChatHistory(context.Background(), owner, &dto.HistoryQuery{PeerID: peer})
	require.NoError(t, err)
	return list
}

func (e *testEnv) send(t *testing.T, from, to uint64, content string) *dto.MessageDTO {
	t.Helper()
	msg, err := e.svc.SendMessage(context.Background(), from, &dto.SendMessageReq{TargetUserID: to, Content: content})
	require.NoError(t, err)
	return msg
}
