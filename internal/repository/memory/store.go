// Package memory はリポジトリのインメモリ実装を提供する。
// Doは書き込みを複製した状態に対して行い、成功時のみ差し替えることでロールバックを再現する。
// サービス層やハンドラーのテストで使用する。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/famledger/internal/model"
	"github.com/hitoshi/famledger/internal/repository"
)

// 障害注入に使う操作名
const (
	OpUsersCreate          = "users.create"
	OpUsersUpdateLastLogin = "users.update_last_login"
	OpFamiliesCreate       = "families.create"
	OpMembershipsCreate    = "memberships.create"
	OpSessionsCreate       = "sessions.create"
	OpSessionsFind         = "sessions.find"
	OpSessionsRevokeAll    = "sessions.revoke_all"
	OpOAuthAccountsCreate  = "oauth_accounts.create"
)

type state struct {
	users         map[int64]model.User
	families      map[int64]model.Family
	memberships   []model.Membership
	sessions      map[int64]model.Session
	oauthAccounts map[int64]model.OAuthAccount
	nextID        int64
}

func newState() *state {
	return &state{
		users:         make(map[int64]model.User),
		families:      make(map[int64]model.Family),
		sessions:      make(map[int64]model.Session),
		oauthAccounts: make(map[int64]model.OAuthAccount),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.families {
		c.families[k] = v
	}
	c.memberships = append(c.memberships, st.memberships...)
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.oauthAccounts {
		c.oauthAccounts[k] = v
	}
	c.nextID = st.nextID
	return c
}

func (st *state) allocID() int64 {
	st.nextID++
	return st.nextID
}

// Store はインメモリのデータストア。並行利用に対して安全。
// Doの実行中は他の操作をブロックするため、トランザクションは直列化される。
type Store struct {
	mu       sync.Mutex
	st       *state
	failures map[string]error
	now      func() time.Time
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		st:       newState(),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

// FailOn は指定した操作が次回以降errを返すように設定する。errがnilなら解除する。
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Do はfnを複製した状態に対して実行し、nilを返した場合のみ反映する。
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.st.clone()
	b := &binding{
		state: func() *state { return tx },
		lock:  func() func() { return func() {} },
		fail:  s.failureLocked,
		now:   s.now,
	}
	if err := fn(ctx, b.repositories()); err != nil {
		return err
	}
	s.st = tx
	return nil
}

// Repositories はトランザクション外で1操作ずつ反映されるリポジトリ群を返す。
func (s *Store) Repositories() repository.Repositories {
	b := &binding{
		state: func() *state { return s.st },
		lock: func() func() {
			s.mu.Lock()
			return s.mu.Unlock
		},
		fail: s.failureLocked,
		now:  s.now,
	}
	return b.repositories()
}

func (s *Store) failureLocked(op string) error {
	return s.failures[op]
}

// Snapshot はテストでの検証用に現在の内容の複製を返す。
type Snapshot struct {
	Users         []model.User
	Families      []model.Family
	Memberships   []model.Membership
	Sessions      []model.Session
	OAuthAccounts []model.OAuthAccount
}

// Snapshot は現在の内容をID順に返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap Snapshot
	for _, u := range s.st.users {
		snap.Users = append(snap.Users, u)
	}
	for _, f := range s.st.families {
		snap.Families = append(snap.Families, f)
	}
	snap.Memberships = append(snap.Memberships, s.st.memberships...)
	for _, ss := range s.st.sessions {
		snap.Sessions = append(snap.Sessions, ss)
	}
	for _, a := range s.st.oauthAccounts {
		snap.OAuthAccounts = append(snap.OAuthAccounts, a)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })
	sort.Slice(snap.Families, func(i, j int) bool { return snap.Families[i].ID < snap.Families[j].ID })
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].ID < snap.Sessions[j].ID })
	sort.Slice(snap.OAuthAccounts, func(i, j int) bool { return snap.OAuthAccounts[i].ID < snap.OAuthAccounts[j].ID })
	return snap
}

// binding はリポジトリが操作する状態とロックの取り方を束ねる。
type binding struct {
	state func() *state
	lock  func() (unlock func())
	fail  func(op string) error
	now   func() time.Time
}

func (b *binding) repositories() repository.Repositories {
	return repository.Repositories{
		Users:         &userRepo{b: b},
		Families:      &familyRepo{b: b},
		Memberships:   &membershipRepo{b: b},
		Sessions:      &sessionRepo{b: b},
		OAuthAccounts: &oauthAccountRepo{b: b},
	}
}

// compile-time interface check
var _ repository.UnitOfWork = (*Store)(nil)
