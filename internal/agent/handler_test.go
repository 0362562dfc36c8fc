package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makobot/mako/internal/affinity"
	"github.com/makobot/mako/internal/budget"
	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/dispatch"
	"github.com/makobot/mako/internal/kv"
	"github.com/makobot/mako/internal/memory"
	"github.com/makobot/mako/internal/policy"
	"github.com/makobot/mako/internal/provider"
	"github.com/makobot/mako/internal/relationship"
	"github.com/makobot/mako/internal/session"
	"github.com/makobot/mako/internal/timeline"
	"github.com/makobot/mako/internal/tools"
)

type fakeReplier struct {
	mu    sync.Mutex
	reqs  []*provider.ChatRequest
	reply string
	err   error
	empty bool
}

func (f *fakeReplier) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return nil, nil
	}
	return &provider.ChatResponse{Content: f.reply}, nil
}

func (f *fakeReplier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeReplier) system(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[i].Messages[0].Content
}

type fakeFeed struct {
	mu   sync.Mutex
	recs []timeline.ChatRecord
}

func (f *fakeFeed) RecordChat(rec *timeline.ChatRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, *rec)
	return nil
}

type fakeRecall struct{ hits []string }

func (f fakeRecall) Search(context.Context, string, int, float64) ([]string, error) {
	return f.hits, nil
}

type fixture struct {
	handler   *Handler
	replier   *fakeReplier
	ledger    *budget.Ledger
	blacklist *policy.Blacklist
	sessions  *session.Manager
	affinity  *affinity.Service
	feed      *fakeFeed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	store := kv.NewLocalStore()

	blacklist := policy.NewBlacklist(store, nil, nil)
	engine := policy.NewDefaultEngine(cfg.Access, blacklist)
	ledger := budget.NewLedger(store, cfg.Cost)

	registry := tools.NewRegistry()
	registry.Register(tools.DetectTool{})
	disp := dispatch.New(registry, engine, ledger, dispatch.Options{Timeout: time.Second})

	aff := affinity.NewService(store, affinity.Config{Min: 0, Max: 100, Initial: 50, DailyCap: 20})
	rel := relationship.NewService(memory.NewStore(store), store, nil, nil, cfg.Proactive)
	sessions := session.NewManager(store, cfg.Chat.MaxHistoryTurns)
	replier := &fakeReplier{reply: "喵~"}
	feed := &fakeFeed{}

	h := NewHandler(Deps{
		Gate:          engine,
		Dispatcher:    disp,
		Budget:        ledger,
		Relationships: rel,
		Affinity:      aff,
		Recall:        fakeRecall{hits: []string{"[relation:preference:u1] 猫"}},
		Replier:       replier,
		Sessions:      sessions,
		Feed:          feed,
	}, cfg.Chat, cfg.Recall)
	h.SetClock(func() time.Time { return time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC) })
	h.SetRoll(func() float64 { return 0.5 })

	return &fixture{handler: h, replier: replier, ledger: ledger, blacklist: blacklist, sessions: sessions, affinity: aff, feed: feed}
}

func private(text string) Message {
	return Message{UserID: "u1", Nickname: "小明", Scene: policy.ScenePrivate, Text: text}
}

func TestHandleFullPipeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	reply, err := f.handler.Handle(ctx, private("我喜欢猫 hello world everyone 是什么语言"))
	require.NoError(t, err)
	assert.Equal(t, "喵~", reply.Text)
	require.NotNil(t, reply.Tools)
	assert.Contains(t, reply.Tools.Facts, "语种识别结果: en")
	require.Len(t, reply.Memories, 1)
	assert.Equal(t, memory.TypePreference, reply.Memories[0].Type)

	require.Equal(t, 1, f.replier.calls())
	system := f.replier.system(0)
	assert.Contains(t, system, "语种识别结果: en")
	assert.Contains(t, system, "好感度: 50 (普通)")
	assert.Contains(t, system, "称呼偏好: 小明")
	assert.Contains(t, system, "偏好:\n- 猫 hello world everyone 是什么语言")
	assert.Contains(t, system, "[relation:preference:u1] 猫")
	assert.Contains(t, system, "可以完整回答")
	msgs := f.replier.reqs[0].Messages
	assert.Equal(t, "[小明_u1]：我喜欢猫 hello world everyone 是什么语言", msgs[len(msgs)-1].Content)

	history, err := f.sessions.History(ctx, "private_u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "喵~", history[1].Content)

	require.Len(t, f.feed.recs, 2)
	assert.Equal(t, provider.RoleUser, f.feed.recs[0].Role)
	assert.Equal(t, "小明", f.feed.recs[0].Nickname)
	assert.Equal(t, "喵~", f.feed.recs[1].Content)

	usage, err := f.ledger.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Greater(t, usage.User, 0.005, "tool cost plus LLM cost")

	// The second turn sees the first exchange as history.
	_, err = f.handler.Handle(ctx, private("在吗"))
	require.NoError(t, err)
	assert.Len(t, f.replier.reqs[1].Messages, 4)
}

func TestHandleBlacklisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.blacklist.AddUser(ctx, "u1", "spam"))

	reply, err := f.handler.Handle(ctx, private("你好"))
	require.NoError(t, err)
	assert.Equal(t, policy.ReasonUserBlacklisted, reply.Blocked)
	assert.Empty(t, reply.Text)
	assert.Zero(t, f.replier.calls())
}

func TestHandleBudgetDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Consume(ctx, "u1", 0.3))

	reply, err := f.handler.Handle(ctx, private("你好"))
	require.NoError(t, err)
	assert.True(t, reply.BudgetDenied)
	assert.Equal(t, ReplyBudgetExhausted, reply.Text)
	assert.Zero(t, f.replier.calls())

	history, _ := f.sessions.History(ctx, "private_u1", 0)
	assert.Empty(t, history, "denied turns are not recorded")
}

func TestHandleWithoutProvider(t *testing.T) {
	f := newFixture(t)
	f.handler.deps.Replier = nil
	reply, err := f.handler.Handle(context.Background(), private("你好"))
	require.NoError(t, err)
	assert.Equal(t, ReplyNoProvider, reply.Text)
}

func TestHandleGenerationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.replier.err = errors.New("upstream 500")

	reply, err := f.handler.Handle(ctx, private("hello world 是什么语言"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply.Text, "茉子先把结果给你：\n语种识别结果: en"), reply.Text)

	reply, err = f.handler.Handle(ctx, private("随便聊聊"))
	require.NoError(t, err)
	assert.Equal(t, ReplyGenerationError, reply.Text)

	usage, _ := f.ledger.Usage(ctx, "u1")
	assert.InDelta(t, 0.005, usage.User, 1e-9, "only the tool was charged")
}

func TestHandleMissingResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.replier.empty = true

	reply, err := f.handler.Handle(ctx, private("随便聊聊"))
	require.NoError(t, err)
	assert.Equal(t, ReplyGenerationError, reply.Text)

	history, err := f.sessions.History(ctx, "private_u1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, f.feed.recs)
}

func TestHandleGroupDirection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	group := func(text string, mentioned bool) Message {
		return Message{UserID: "u1", Nickname: "小明", GroupID: "g1", Scene: policy.SceneGroup, Text: text, Mentioned: mentioned}
	}

	reply, err := f.handler.Handle(ctx, group("今天好热", false))
	require.NoError(t, err)
	assert.True(t, reply.Ignored)
	assert.Zero(t, f.replier.calls())

	_, err = f.handler.Handle(ctx, group("茉子今天好热", false))
	require.NoError(t, err)
	_, err = f.handler.Handle(ctx, group("今天好热", true))
	require.NoError(t, err)
	require.Equal(t, 2, f.replier.calls())
	assert.Contains(t, f.replier.system(1), "可以完整回答")

	f.handler.SetRoll(func() float64 { return 0 })
	_, err = f.handler.Handle(ctx, group("今天好热", false))
	require.NoError(t, err)
	assert.Contains(t, f.replier.system(2), "一句短回复")

	history, _ := f.sessions.History(ctx, "group_g1_user_u1", 0)
	assert.Len(t, history, 6)
}

func TestHandleEmojiAdjustsAffinity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.handler.Handle(ctx, Message{UserID: "u1", Nickname: "小明", Scene: policy.ScenePrivate, Text: "哈哈", FaceIDs: []int{14}})
	require.NoError(t, err)

	score, err := f.affinity.Score(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 52, score)
	system := f.replier.system(0)
	assert.Contains(t, system, "表情情绪识别: 微笑、开心，sentiment=positive")
	assert.Contains(t, system, "好感度: 52 (普通)")
}

func TestHandleIgnoresEmptyMessage(t *testing.T) {
	f := newFixture(t)
	reply, err := f.handler.Handle(context.Background(), private("   "))
	require.NoError(t, err)
	assert.True(t, reply.Ignored)
}
