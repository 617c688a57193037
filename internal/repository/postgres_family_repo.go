package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/famledger/internal/model"
)

// PostgresFamilyRepo はPostgreSQLを使用した家族リポジトリ。
type PostgresFamilyRepo struct {
	db DBTX
}

// NewPostgresFamilyRepo はPostgresFamilyRepoを生成する。
func NewPostgresFamilyRepo(db DBTX) *PostgresFamilyRepo {
	return &PostgresFamilyRepo{db: db}
}

// Create は家族を作成する。
func (r *PostgresFamilyRepo) Create(ctx context.Context, family *model.Family) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO families (name, created_by)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		family.Name, family.CreatedBy,
	).Scan(&family.ID, &family.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert family: %w", err)
	}
	return nil
}

// PostgresMembershipRepo はPostgreSQLを使用した所属リポジトリ。
type PostgresMembershipRepo struct {
	db DBTX
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db DBTX) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

// Create は所属レコードを作成する。
func (r *PostgresMembershipRepo) Create(ctx context.Context, membership *model.Membership) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO family_members (user_id, family_id, role)
		 VALUES ($1, $2, $3)
		 RETURNING joined_at`,
		membership.UserID, membership.FamilyID, string(membership.Role),
	).Scan(&membership.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to insert family member: %w", err)
	}
	return nil
}

// ListByUserID はユーザーの所属一覧を返す。
func (r *PostgresMembershipRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, family_id, role, joined_at
		 FROM family_members
		 WHERE user_id = $1
		 ORDER BY joined_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list family members: %w", err)
	}
	defer rows.Close()

	var memberships []*model.Membership
	for rows.Next() {
		m := &model.Membership{}
		var role string
		if err := rows.Scan(&m.UserID, &m.FamilyID, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan family member: %w", err)
		}
		m.Role = model.MembershipRole(role)
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate family members: %w", err)
	}
	return memberships, nil
}

// compile-time interface check
var _ FamilyRepository = (*PostgresFamilyRepo)(nil)
var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
