package notification

import (
	"slices"
	"sync"
)

// Registry はライブ接続とユーザーの対応を保持する。
// 1つの接続は生存期間中に1人のユーザーにだけ紐付く。
type Registry struct {
	mu sync.RWMutex
	// byConn は接続IDからユーザーIDへの索引。
	byConn map[string]string
	// byUser はユーザーIDから接続IDの集合への索引。
	byUser map[string]map[string]struct{}
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]string),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Bind は接続をユーザーに紐付ける。
// 同じ組み合わせでの再呼び出しは何もせずtrueを返す。
// 既に別のユーザーに紐付いた接続の場合は何もせずfalseを返す。
func (r *Registry) Bind(connID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.byConn[connID]; ok {
		return current == userID
	}
	r.byConn[connID] = userID
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	return true
}

// Unbind は接続の紐付けを解除し、紐付いていたユーザーIDを返す。
// 未知の接続の場合は何もしない。最後の接続が外れたユーザーのエントリは削除する。
func (r *Registry) Unbind(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	if conns, ok := r.byUser[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
	return userID, true
}

// ConnectionsFor はユーザーに紐付く接続IDをソートして返す。接続が無ければ空。
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// UserOf は接続に紐付くユーザーIDを返す。
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[connID]
	return userID, ok
}

// Count は紐付け済みの接続数を返す。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

