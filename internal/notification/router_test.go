package notification

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nao1215/beatnotify/pkg/event"
	"github.com/shopspring/decimal"
)

// TestRouterTemplates はイベントの種類ごとの通知テンプレートを検証する。
func TestRouterTemplates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		event       event.Event
		wantID      string
		wantKind    Kind
		wantUser    string
		wantTitle   string
		wantContent string
		wantRelated string
		wantRelType string
	}{
		{
			name:        "メッセージ送信",
			event:       event.MessageSent{FromUserID: "3", ToUserID: "42", Content: "Hey, love your track!"},
			wantID:      "msg-1",
			wantKind:    KindMessage,
			wantUser:    "42",
			wantTitle:   "New Message",
			wantContent: "Hey, love your track!",
			wantRelated: "3",
			wantRelType: "user",
		},
		{
			name:        "購入完了",
			event:       event.PurchaseCompleted{UserID: "42", ProductName: "Beat Pack", Amount: decimal.RequireFromString("20"), OrderID: "ord-9"},
			wantID:      "purchase-1",
			wantKind:    KindPurchase,
			wantUser:    "42",
			wantTitle:   "Purchase Confirmed",
			wantContent: `Your purchase of "Beat Pack" for $20.00 has been confirmed.`,
			wantRelated: "ord-9",
			wantRelType: "order",
		},
		{
			name:        "認証審査",
			event:       event.VerificationStatusChanged{UserID: "42", Status: event.VerificationRejected, Message: "Please upload a clearer ID."},
			wantID:      "verify-1",
			wantKind:    KindVerification,
			wantUser:    "42",
			wantTitle:   "Verification Rejected",
			wantContent: "Please upload a clearer ID.",
		},
		{
			name:        "フォロー",
			event:       event.UserFollowed{FollowerID: "5", FollowedUserID: "42", FollowerName: "DJ Nova"},
			wantID:      "follow-1",
			wantKind:    KindFollow,
			wantUser:    "42",
			wantTitle:   "New Follower",
			wantContent: "DJ Nova started following you",
			wantRelated: "5",
			wantRelType: "user",
		},
		{
			name:        "プロジェクト更新",
			event:       event.ProjectUpdated{ProjectID: "p-1", Title: "Mixing done", Content: "Final mix uploaded", AffectedUsers: []event.ID{"42"}},
			wantID:      "proj-1",
			wantKind:    KindProjectUpdate,
			wantUser:    "42",
			wantTitle:   "Mixing done",
			wantContent: "Final mix uploaded",
			wantRelated: "p-1",
			wantRelType: "project",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rig := newTestRig()
			created, err := rig.router.Publish(t.Context(), tt.event)
			if err != nil {
				t.Fatalf("Publish()でエラーが発生: %v", err)
			}
			if len(created) != 1 {
				t.Fatalf("作成件数 = %d, want 1", len(created))
			}

			n := created[0]
			if n.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", n.ID, tt.wantID)
			}
			if n.Type != tt.wantKind {
				t.Errorf("Type = %q, want %q", n.Type, tt.wantKind)
			}
			if n.UserID != tt.wantUser {
				t.Errorf("UserID = %q, want %q", n.UserID, tt.wantUser)
			}
			if n.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", n.Title, tt.wantTitle)
			}
			if n.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", n.Content, tt.wantContent)
			}
			if n.RelatedID != tt.wantRelated || n.RelatedType != tt.wantRelType {
				t.Errorf("related = (%q, %q), want (%q, %q)", n.RelatedID, n.RelatedType, tt.wantRelated, tt.wantRelType)
			}
			if n.Read {
				t.Error("作成直後の通知が既読になっている")
			}
			if !n.Timestamp.Equal(fixedTime) {
				t.Errorf("Timestamp = %v, want %v", n.Timestamp, fixedTime)
			}
		})
	}

	t.Run("任意フィールドが無い場合は空文字になること", func(t *testing.T) {
		t.Parallel()

		rig := newTestRig()
		created, err := rig.router.Publish(t.Context(), event.UserFollowed{FollowedUserID: "42"})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		n := created[0]
		if n.Content != " started following you" {
			t.Errorf("Content = %q", n.Content)
		}
		if n.RelatedID != "" || n.RelatedType != "" {
			t.Errorf("related = (%q, %q), want 空", n.RelatedID, n.RelatedType)
		}
	})

	t.Run("既定のID生成はプレフィックス付きの一意なIDを返すこと", func(t *testing.T) {
		t.Parallel()

		router := NewRouter(NewStore(0), NewRegistry(), nil)
		a, err := router.Publish(t.Context(), event.MessageSent{ToUserID: "42"})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		b, _ := router.Publish(t.Context(), event.MessageSent{ToUserID: "42"})
		if !strings.HasPrefix(a[0].ID, "msg-") {
			t.Errorf("ID = %q, want msg- で始まる", a[0].ID)
		}
		if a[0].ID == b[0].ID {
			t.Errorf("IDが重複した: %q", a[0].ID)
		}
	})
}

// TestRouterOfflinePurchase はオフラインのユーザーへの購入通知が保存され、
// join時に未読のまま届くことを検証する。
func TestRouterOfflinePurchase(t *testing.T) {
	t.Parallel()

	rig := newTestRig()
	_, err := rig.router.Publish(t.Context(), event.PurchaseCompleted{
		UserID:      "42",
		ProductName: "Neon Dreams - Album",
		Amount:      decimal.RequireFromString("9.99"),
	})
	if err != nil {
		t.Fatalf("Publish()でエラーが発生: %v", err)
	}
	if rig.pusher.count() != 0 {
		t.Errorf("オフラインのユーザーに送信された: %d件", rig.pusher.count())
	}

	list := rig.store.ListFor("42")
	if len(list) != 1 {
		t.Fatalf("件数 = %d, want 1", len(list))
	}
	n := list[0]
	if n.Type != KindPurchase || n.Read {
		t.Errorf("通知 = %+v, want 未読のpurchase", n)
	}
	if !strings.Contains(n.Content, "Neon Dreams - Album") || !strings.Contains(n.Content, "9.99") {
		t.Errorf("Content = %q, want 商品名と金額を含む", n.Content)
	}

	if err := rig.gateway.Join("sock-1", "42"); err != nil {
		t.Fatalf("Join()でエラーが発生: %v", err)
	}
	msgs := rig.pusher.to("sock-1")
	if len(msgs) != 1 || msgs[0].Event != EventLoad {
		t.Fatalf("sock-1への送信 = %+v, want notifications:load 1件", msgs)
	}
	loaded, ok := msgs[0].Data.([]Notification)
	if !ok || len(loaded) != 1 {
		t.Fatalf("load のペイロード = %#v", msgs[0].Data)
	}
	if loaded[0].ID != n.ID || loaded[0].Read {
		t.Errorf("load の通知 = %+v, want 未読の %s", loaded[0], n.ID)
	}
}

// TestRouterFanOut はプロジェクト更新の配信を検証する。
func TestRouterFanOut(t *testing.T) {
	t.Parallel()

	t.Run("通知先ごとに独立した通知が作られること", func(t *testing.T) {
		t.Parallel()

		rig := newTestRig()
		created, err := rig.router.Publish(t.Context(), event.ProjectUpdated{
			ProjectID:     "p-1",
			Title:         "Release date",
			Content:       "Out on Friday",
			AffectedUsers: []event.ID{"1", "2", "3"},
		})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		if len(created) != 3 {
			t.Fatalf("作成件数 = %d, want 3", len(created))
		}

		ids := map[string]bool{}
		for _, n := range created {
			ids[n.ID] = true
		}
		if len(ids) != 3 {
			t.Errorf("IDが一意でない: %v", ids)
		}

		rig.store.MarkRead("2", created[1].ID)
		if rig.store.ListFor("1")[0].Read || rig.store.ListFor("3")[0].Read {
			t.Error("1人の既読化が他のユーザーの通知に影響した")
		}
		if !rig.store.ListFor("2")[0].Read {
			t.Error("既読化が反映されていない")
		}
	})

	t.Run("重複した通知先は1つにまとめること", func(t *testing.T) {
		t.Parallel()

		rig := newTestRig()
		created, err := rig.router.Publish(t.Context(), event.ProjectUpdated{
			Title:         "Dup",
			AffectedUsers: []event.ID{"1", "2", "1"},
		})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		if len(created) != 2 {
			t.Errorf("作成件数 = %d, want 2", len(created))
		}
		if got := len(rig.store.ListFor("1")); got != 1 {
			t.Errorf("ユーザー1の件数 = %d, want 1", got)
		}
	})
}

// TestRouterDelivery はライブ接続への送信を検証する。
func TestRouterDelivery(t *testing.T) {
	t.Parallel()

	t.Run("紐付いた接続それぞれにnotification:newが1件ずつ届くこと", func(t *testing.T) {
		t.Parallel()

		rig := newTestRig()
		rig.registry.Bind("sock-1", "42")
		rig.registry.Bind("sock-2", "42")
		rig.registry.Bind("sock-3", "7")

		created, err := rig.router.Publish(t.Context(), event.MessageSent{FromUserID: "7", ToUserID: "42", Content: "yo"})
		if err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}

		for _, conn := range []string{"sock-1", "sock-2"} {
			msgs := rig.pusher.to(conn)
			if len(msgs) != 1 {
				t.Fatalf("%sへの送信件数 = %d, want 1", conn, len(msgs))
			}
			if msgs[0].Event != EventNew {
				t.Errorf("%sのイベント = %q, want %q", conn, msgs[0].Event, EventNew)
			}
			if n, ok := msgs[0].Data.(Notification); !ok || n.ID != created[0].ID {
				t.Errorf("%sのペイロード = %#v", conn, msgs[0].Data)
			}
		}
		if got := rig.pusher.to("sock-3"); len(got) != 0 {
			t.Errorf("送信者の接続に送信された: %+v", got)
		}
	})

	t.Run("接続が無くても通知は保存されること", func(t *testing.T) {
		t.Parallel()

		rig := newTestRig()
		if _, err := rig.router.Publish(t.Context(), event.MessageSent{ToUserID: "42"}); err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		if rig.pusher.count() != 0 {
			t.Errorf("送信件数 = %d, want 0", rig.pusher.count())
		}
		if got := len(rig.store.ListFor("42")); got != 1 {
			t.Errorf("件数 = %d, want 1", got)
		}
	})
}

// TestRouterUnresolvable は通知先を解決できない場合に何も保存しないことを検証する。
func TestRouterUnresolvable(t *testing.T) {
	t.Parallel()

	t.Run("空の通知先はErrUnresolvableTargetになること", func(t *testing.T) {
		t.Parallel()

		rig := newTestRig()
		_, err := rig.router.Publish(t.Context(), event.MessageSent{FromUserID: "1", ToUserID: ""})
		if !errors.Is(err, ErrUnresolvableTarget) {
			t.Errorf("err = %v, want ErrUnresolvableTarget", err)
		}
	})

	t.Run("通知先が無いプロジェクト更新はErrUnresolvableTargetになること", func(t *testing.T) {
		t.Parallel()

		rig := newTestRig()
		_, err := rig.router.Publish(t.Context(), event.ProjectUpdated{Title: "x"})
		if !errors.Is(err, ErrUnresolvableTarget) {
			t.Errorf("err = %v, want ErrUnresolvableTarget", err)
		}
	})

	t.Run("1人でも存在しなければ誰にも保存しないこと", func(t *testing.T) {
		t.Parallel()

		dir := &fakeDirectory{users: map[string]bool{"1": true, "2": true}}
		rig := newTestRig(WithDirectory(dir))
		rig.registry.Bind("sock-1", "1")

		_, err := rig.router.Publish(t.Context(), event.ProjectUpdated{
			Title:         "x",
			AffectedUsers: []event.ID{"1", "2", "ghost"},
		})
		if !errors.Is(err, ErrUnresolvableTarget) {
			t.Fatalf("err = %v, want ErrUnresolvableTarget", err)
		}
		for _, u := range []string{"1", "2", "ghost"} {
			if got := len(rig.store.ListFor(u)); got != 0 {
				t.Errorf("ユーザー%sに%d件保存された", u, got)
			}
		}
		if rig.pusher.count() != 0 {
			t.Errorf("送信件数 = %d, want 0", rig.pusher.count())
		}
	})

	t.Run("Directoryのエラーは通知先の解決失敗とは区別されること", func(t *testing.T) {
		t.Parallel()

		dir := &fakeDirectory{err: errors.New("connection refused")}
		rig := newTestRig(WithDirectory(dir))

		_, err := rig.router.Publish(t.Context(), event.MessageSent{ToUserID: "42"})
		if err == nil {
			t.Fatal("Publish()がエラーを返さなかった")
		}
		if errors.Is(err, ErrUnresolvableTarget) {
			t.Errorf("err = %v, ErrUnresolvableTargetであってはならない", err)
		}
		if got := len(rig.store.ListFor("42")); got != 0 {
			t.Errorf("件数 = %d, want 0", got)
		}
	})
}

// TestRouterInvalidEvent は不正なイベントを拒否することを検証する。
func TestRouterInvalidEvent(t *testing.T) {
	t.Parallel()

	rig := newTestRig()
	_, err := rig.router.Publish(t.Context(), event.VerificationStatusChanged{UserID: "42", Status: "maybe"})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("err = %v, want ErrInvalidEvent", err)
	}
	if got := len(rig.store.ListFor("42")); got != 0 {
		t.Errorf("件数 = %d, want 0", got)
	}
}

// TestRouterMetrics は作成・拒否・送信の指標が記録されることを検証する。
func TestRouterMetrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	rig := newTestRig(WithRouterMetrics(m))
	rig.registry.Bind("sock-1", "42")

	if _, err := rig.router.Publish(t.Context(), event.PurchaseCompleted{UserID: "42", ProductName: "x", Amount: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("Publish()でエラーが発生: %v", err)
	}
	_, _ = rig.router.Publish(t.Context(), event.MessageSent{ToUserID: ""})

	body := scrapeMetrics(t, m)
	for _, want := range []string{
		`marketplace_notification_created_total{type="purchase"} 1`,
		`marketplace_notification_pushed_total{event="notification:new"} 1`,
		`marketplace_notification_rejected_events_total{type="MessageSent"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("指標に %q が含まれない:\n%s", want, body)
		}
	}
}

// scrapeMetrics は /metrics の出力を文字列で返す。
func scrapeMetrics(t *testing.T, m *Metrics) string {
	t.Helper()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	b, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatalf("指標の読み込みに失敗: %v", err)
	}
	return string(b)
}
