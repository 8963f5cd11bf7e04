package notification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/beatnotify/pkg/logging"
)

// fixedTime はテストで使う固定の作成日時。
var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// pushed は fakePusher が受け取った送信1件。
type pushed struct {
	connID string
	msg    Message
}

// fakePusher は送信内容を記録するPusher。
type fakePusher struct {
	mu   sync.Mutex
	sent []pushed
}

func (p *fakePusher) Push(connID string, msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, pushed{connID: connID, msg: msg})
}

// to は接続に送られたメッセージを送信順に返す。
func (p *fakePusher) to(connID string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Message
	for _, s := range p.sent {
		if s.connID == connID {
			out = append(out, s.msg)
		}
	}
	return out
}

// count は送信の総数を返す。
func (p *fakePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// fakeDirectory は固定のユーザー集合で存在確認を行うDirectory。
type fakeDirectory struct {
	users map[string]bool
	err   error
	calls atomic.Int32
}

func (d *fakeDirectory) UserExists(_ context.Context, userID string) (bool, error) {
	d.calls.Add(1)
	if d.err != nil {
		return false, d.err
	}
	return d.users[userID], nil
}

// sequentialIDs は "1", "2", ... を順に返すID生成関数を返す。
func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprint(n.Add(1))
	}
}

// testRig はテスト用に組み立てた構成要素一式。
type testRig struct {
	registry *Registry
	store    *Store
	pusher   *fakePusher
	router   *Router
	gateway  *Gateway
}

// newTestRig は固定時計と連番IDを使う構成要素一式を生成する。
func newTestRig(opts ...RouterOption) *testRig {
	registry := NewRegistry()
	store := NewStore(DefaultHistoryLimit)
	pusher := &fakePusher{}
	base := []RouterOption{
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(sequentialIDs()),
		WithRouterLogger(logging.Discard()),
	}
	router := NewRouter(store, registry, pusher, append(base, opts...)...)
	gateway := NewGateway(registry, store, pusher, logging.Discard(), nil)
	return &testRig{
		registry: registry,
		store:    store,
		pusher:   pusher,
		router:   router,
		gateway:  gateway,
	}
}

// newNotification はテスト用の通知を生成する。
func newNotification(id, userID string) Notification {
	return Notification{
		ID:        id,
		Type:      KindMessage,
		UserID:    userID,
		Title:     "New Message",
		Content:   "hello " + id,
		Timestamp: fixedTime,
	}
}
