package client

import (
	"context"
	"sync"
)

// SessionState はUI全体で共有するログイン状態 {User, Loading}。
// 通知元への購読は生成時に1回だけ行い、各コンポーネントは個別に購読せずこの状態を参照する。
type SessionState struct {
	notifier IdentityNotifier

	subscribeOnce sync.Once
	loadedOnce    sync.Once
	loaded        chan struct{}

	mu          sync.RWMutex
	user        *User
	loading     bool
	unsubscribe func()
	closed      bool
}

// Session はSessionStateのある時点のスナップショット。
type Session struct {
	User    *User
	Loading bool
}

// NewSessionState はSessionStateを生成し、notifierを購読する。
// 最初の通知を受け取るまでLoadingはtrue。
func NewSessionState(notifier IdentityNotifier) *SessionState {
	s := &SessionState{
		notifier: notifier,
		loaded:   make(chan struct{}),
		loading:  true,
	}
	s.subscribe()
	return s
}

func (s *SessionState) subscribe() {
	s.subscribeOnce.Do(func() {
		unsubscribe := s.notifier.OnIdentityChange(s.apply)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			unsubscribe()
			return
		}
		s.unsubscribe = unsubscribe
	})
}

// apply は通知されたユーザーで状態を上書きし、Loadingをfalseにする。
func (s *SessionState) apply(user *User) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.user = copyUser(user)
	s.loading = false
	s.mu.Unlock()

	s.loadedOnce.Do(func() { close(s.loaded) })
}

// Snapshot は現在の状態を返す。
func (s *SessionState) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{User: copyUser(s.user), Loading: s.loading}
}

// WaitLoaded は最初の通知を受け取るまで待ち、その時点の状態を返す。
func (s *SessionState) WaitLoaded(ctx context.Context) (Session, error) {
	select {
	case <-s.loaded:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// Close は購読を解除する。以降の通知は反映しない。複数回呼んでもよい。
func (s *SessionState) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.closed = true
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// GateDecision は保護された画面の表示判定。
type GateDecision int

const (
	// GateWait はログイン状態の確定待ち。待機表示を出し、遷移しない。
	GateWait GateDecision = iota
	// GateRedirectLogin は未ログイン。ログイン画面へ遷移する。
	GateRedirectLogin
	// GateRender はログイン済み。保護された画面を表示する。
	GateRender
)

func (d GateDecision) String() string {
	switch d {
	case GateWait:
		return "wait"
	case GateRedirectLogin:
		return "redirect_login"
	case GateRender:
		return "render"
	default:
		return "unknown"
	}
}

// Gate はセッション状態から保護された画面の表示判定を返す。
func Gate(s *SessionState) GateDecision {
	snap := s.Snapshot()
	switch {
	case snap.Loading:
		return GateWait
	case snap.User == nil:
		return GateRedirectLogin
	default:
		return GateRender
	}
}

// AppContext はアプリケーション起動時に1回だけ組み立て、各画面に参照で渡すコンテキスト。
type AppContext struct {
	Client  *Client
	Session *SessionState
}

// NewAppContext はClientとそれを購読するSessionStateを組み立てる。
func NewAppContext(c *Client) *AppContext {
	return &AppContext{
		Client:  c,
		Session: NewSessionState(c),
	}
}

// Close はセッション状態の購読を解除する。
func (a *AppContext) Close() {
	a.Session.Close()
}
