package notification

import (
	"slices"
	"sync"
)

// DefaultHistoryLimit はユーザーごとに保持する通知の既定の上限。
const DefaultHistoryLimit = 50

// Recorder はStoreの変更を外部に書き出す。
// 呼び出しはユーザーのロックを保持したまま行われるため、
// 同じユーザーについては変更の順序通りに届く。実装はブロックしてはならない。
type Recorder interface {
	// RecordAppend は通知の追加を記録する。
	RecordAppend(n Notification)
	// RecordRead は既読化を記録する。
	RecordRead(userID, notificationID string)
	// RecordClear は全削除を記録する。
	RecordClear(userID string)
}

// StoreOption はStoreの生成オプション。
type StoreOption func(*Store)

// WithRecorder は変更を書き出すRecorderを設定する。
func WithRecorder(r Recorder) StoreOption {
	return func(s *Store) {
		s.recorder = r
	}
}

// userLog はユーザー1人分の通知ログ。古い順に並ぶ。
type userLog struct {
	mu    sync.Mutex
	items []Notification
}

// Store はユーザーごとの上限付き通知ログを保持する。
// 同じユーザーへの操作は線形化され、異なるユーザーへの操作は互いに待たない。
type Store struct {
	mu       sync.Mutex
	logs     map[string]*userLog
	limit    int
	recorder Recorder
}

// NewStore はユーザーごとにlimit件まで保持するStoreを生成する。
// limitが0以下の場合は DefaultHistoryLimit を使う。
func NewStore(limit int, opts ...StoreOption) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s := &Store{
		logs:  make(map[string]*userLog),
		limit: limit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limit はユーザーごとの上限件数を返す。
func (s *Store) Limit() int {
	return s.limit
}

// log はユーザーのログを返す。createがtrueなら無い場合に作る。
func (s *Store) log(userID string, create bool) *userLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[userID]
	if !ok && create {
		l = &userLog{}
		s.logs[userID] = l
	}
	return l
}

// Append は通知を所有者のログの末尾に追加し、上限を超えた分を先頭から捨てる。
// 既読かどうかに関係なく古いものから捨てる。捨てた件数を返す。
func (s *Store) Append(n Notification) int {
	l := s.log(n.UserID, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append(l.items, n)
	evicted := 0
	if over := len(l.items) - s.limit; over > 0 {
		l.items = slices.Delete(l.items, 0, over)
		evicted = over
	}
	if s.recorder != nil {
		s.recorder.RecordAppend(n)
	}
	return evicted
}

// MarkRead は通知を既読にする。通知が存在すればtrueを返す。
// 既に既読の場合も状態は変わらずtrueを返す。
func (s *Store) MarkRead(userID, notificationID string) bool {
	l := s.log(userID, false)
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.items {
		if l.items[i].ID != notificationID {
			continue
		}
		if !l.items[i].Read {
			l.items[i].Read = true
			if s.recorder != nil {
				s.recorder.RecordRead(userID, notificationID)
			}
		}
		return true
	}
	return false
}

// ListFor はユーザーの通知を古い順にコピーして返す。無ければ空。
func (s *Store) ListFor(userID string) []Notification {
	l := s.log(userID, false)
	if l == nil {
		return []Notification{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Notification, len(l.items))
	copy(out, l.items)
	return out
}

// Clear はユーザーの通知を全て削除し、削除した件数を返す。
// ログの実体は残して中身だけを空にするため、並行するAppendを取りこぼさない。
func (s *Store) Clear(userID string) int {
	l := s.log(userID, false)
	if l == nil {
		if s.recorder != nil {
			s.recorder.RecordClear(userID)
		}
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.items)
	l.items = nil
	if s.recorder != nil {
		s.recorder.RecordClear(userID)
	}
	return n
}

// Warm はジャーナルから読み込んだ通知をRecorderを通さずに追加する。
// itemsはユーザーごとに古い順に並んでいる必要がある。上限は通常通り適用する。
func (s *Store) Warm(items []Notification) {
	for _, n := range items {
		l := s.log(n.UserID, true)
		l.mu.Lock()
		l.items = append(l.items, n)
		if over := len(l.items) - s.limit; over > 0 {
			l.items = slices.Delete(l.items, 0, over)
		}
		l.mu.Unlock()
	}
}
