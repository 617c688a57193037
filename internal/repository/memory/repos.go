package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/famledger/internal/model"
	"github.com/hitoshi/famledger/internal/repository"
)

type userRepo struct{ b *binding }

func (r *userRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	defer r.b.lock()()
	u, ok := r.b.state().users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *userRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	defer r.b.lock()()
	for _, u := range r.b.state().users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *userRepo) Create(_ context.Context, user *model.User) error {
	defer r.b.lock()()
	if err := r.b.fail(OpUsersCreate); err != nil {
		return err
	}
	st := r.b.state()
	for _, u := range st.users {
		if u.Email == user.Email {
			return model.NewEmailTakenError()
		}
	}
	user.ID = st.allocID()
	user.CreatedAt = r.b.now()
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	st.users[user.ID] = *user
	return nil
}

func (r *userRepo) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	defer r.b.lock()()
	if err := r.b.fail(OpUsersUpdateLastLogin); err != nil {
		return err
	}
	return r.update(id, func(u *model.User) { u.LastLoginAt = &at })
}

func (r *userRepo) UpdateCredential(_ context.Context, id int64, credential model.Credential) error {
	defer r.b.lock()()
	return r.update(id, func(u *model.User) { u.Credential = credential })
}

func (r *userRepo) SetActive(_ context.Context, id int64, active bool) error {
	defer r.b.lock()()
	return r.update(id, func(u *model.User) { u.IsActive = active })
}

func (r *userRepo) update(id int64, fn func(u *model.User)) error {
	st := r.b.state()
	u, ok := st.users[id]
	if !ok {
		return fmt.Errorf("user %d not found", id)
	}
	fn(&u)
	st.users[id] = u
	return nil
}

type familyRepo struct{ b *binding }

func (r *familyRepo) Create(_ context.Context, family *model.Family) error {
	defer r.b.lock()()
	if err := r.b.fail(OpFamiliesCreate); err != nil {
		return err
	}
	st := r.b.state()
	if _, ok := st.users[family.CreatedBy]; !ok {
		return fmt.Errorf("creator %d not found", family.CreatedBy)
	}
	family.ID = st.allocID()
	family.CreatedAt = r.b.now()
	st.families[family.ID] = *family
	return nil
}

type membershipRepo struct{ b *binding }

func (r *membershipRepo) Create(_ context.Context, membership *model.Membership) error {
	defer r.b.lock()()
	if err := r.b.fail(OpMembershipsCreate); err != nil {
		return err
	}
	st := r.b.state()
	for _, m := range st.memberships {
		if m.UserID == membership.UserID && m.FamilyID == membership.FamilyID {
			return fmt.Errorf("membership (%d, %d) already exists", m.UserID, m.FamilyID)
		}
	}
	membership.JoinedAt = r.b.now()
	st.memberships = append(st.memberships, *membership)
	return nil
}

func (r *membershipRepo) ListByUserID(_ context.Context, userID int64) ([]*model.Membership, error) {
	defer r.b.lock()()
	var result []*model.Membership
	for _, m := range r.b.state().memberships {
		if m.UserID == userID {
			m := m
			result = append(result, &m)
		}
	}
	return result, nil
}

type sessionRepo struct{ b *binding }

func (r *sessionRepo) Create(_ context.Context, session *model.Session) error {
	defer r.b.lock()()
	if err := r.b.fail(OpSessionsCreate); err != nil {
		return err
	}
	st := r.b.state()
	for _, s := range st.sessions {
		if s.TokenHash == session.TokenHash {
			return fmt.Errorf("duplicate token hash")
		}
	}
	session.ID = st.allocID()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.b.now()
	}
	st.sessions[session.ID] = *session
	return nil
}

func (r *sessionRepo) FindByTokenHash(_ context.Context, tokenHash string) (*model.Session, error) {
	defer r.b.lock()()
	if err := r.b.fail(OpSessionsFind); err != nil {
		return nil, err
	}
	for _, s := range r.b.state().sessions {
		if s.TokenHash == tokenHash {
			return &s, nil
		}
	}
	return nil, nil
}

func (r *sessionRepo) RevokeByTokenHash(_ context.Context, tokenHash string, at time.Time) (int64, error) {
	defer r.b.lock()()
	return r.revoke(at, func(s model.Session) bool { return s.TokenHash == tokenHash }), nil
}

func (r *sessionRepo) RevokeAllByUserID(_ context.Context, userID int64, exceptTokenHash string, at time.Time) (int64, error) {
	defer r.b.lock()()
	if err := r.b.fail(OpSessionsRevokeAll); err != nil {
		return 0, err
	}
	return r.revoke(at, func(s model.Session) bool {
		return s.UserID == userID && (exceptTokenHash == "" || s.TokenHash != exceptTokenHash)
	}), nil
}

func (r *sessionRepo) revoke(at time.Time, match func(s model.Session) bool) int64 {
	st := r.b.state()
	var n int64
	for id, s := range st.sessions {
		if s.RevokedAt == nil && match(s) {
			revokedAt := at
			s.RevokedAt = &revokedAt
			st.sessions[id] = s
			n++
		}
	}
	return n
}

func (r *sessionRepo) ListByUserID(_ context.Context, userID int64) ([]*model.Session, error) {
	defer r.b.lock()()
	var result []*model.Session
	for _, s := range r.b.state().sessions {
		if s.UserID == userID {
			s := s
			result = append(result, &s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type oauthAccountRepo struct{ b *binding }

func (r *oauthAccountRepo) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.OAuthAccount, error) {
	defer r.b.lock()()
	for _, a := range r.b.state().oauthAccounts {
		if a.Provider == provider && a.ProviderUserID == providerUserID {
			return &a, nil
		}
	}
	return nil, nil
}

func (r *oauthAccountRepo) Create(_ context.Context, account *model.OAuthAccount) error {
	defer r.b.lock()()
	if err := r.b.fail(OpOAuthAccountsCreate); err != nil {
		return err
	}
	st := r.b.state()
	for _, a := range st.oauthAccounts {
		if a.Provider == account.Provider && a.ProviderUserID == account.ProviderUserID {
			return model.NewAccountExistsError()
		}
	}
	account.ID = st.allocID()
	account.CreatedAt = r.b.now()
	st.oauthAccounts[account.ID] = *account
	return nil
}

// compile-time interface checks
var _ repository.UserRepository = (*userRepo)(nil)
var _ repository.FamilyRepository = (*familyRepo)(nil)
var _ repository.MembershipRepository = (*membershipRepo)(nil)
var _ repository.SessionRepository = (*sessionRepo)(nil)
var _ repository.OAuthAccountRepository = (*oauthAccountRepo)(nil)
