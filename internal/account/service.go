// Package account はログイン済みユーザー自身のアカウント管理を提供する。
package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/famledger/internal/auth"
	"github.com/hitoshi/famledger/internal/metrics"
	"github.com/hitoshi/famledger/internal/model"
	"github.com/hitoshi/famledger/internal/repository"
)

// ChangePasswordInput はパスワード変更の入力。
type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// Service はアカウント管理のサービス層。
// パスワード変更と無効化のビジネスロジックを提供する。
type Service struct {
	uow      repository.UnitOfWork
	users    repository.UserRepository
	hasher   auth.PasswordHasher
	recorder metrics.AuthRecorder
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	uow repository.UnitOfWork,
	users repository.UserRepository,
	hasher auth.PasswordHasher,
	recorder metrics.AuthRecorder,
) *Service {
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Service{
		uow:      uow,
		users:    users,
		hasher:   hasher,
		recorder: recorder,
		now:      time.Now,
	}
}

// ChangePassword はパスワードを変更し、現在のセッション以外を全て失効させる。
// currentTokenは変更を要求したリクエストの生のセッショントークン。
func (s *Service) ChangePassword(ctx context.Context, userID int64, currentToken string, in ChangePasswordInput) error {
	// 最新の認証情報で検証する
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewNotFoundError("ユーザー")
	}

	// 1. 現在のパスワードを検証（外部IdP専用アカウントは対象外）
	hash, ok := user.Credential.PasswordHash()
	if !ok {
		return model.NewPasswordNotSetError()
	}
	if !s.hasher.Verify(hash, in.CurrentPassword) {
		return model.NewValidationError("currentPassword", "現在のパスワードが正しくありません")
	}

	// 2. 新しいパスワードを検証・ハッシュ化
	if err := auth.ValidatePassword("newPassword", in.NewPassword); err != nil {
		return err
	}
	newHash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	// 3. 認証情報の更新と他セッションの失効を1つの単位で実行
	var revoked int64
	err = s.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Users.UpdateCredential(ctx, user.ID, model.PasswordCredential(newHash)); err != nil {
			return fmt.Errorf("認証情報の更新に失敗しました: %w", err)
		}
		n, err := repos.Sessions.RevokeAllByUserID(ctx, user.ID, auth.HashToken(currentToken), s.now())
		if err != nil {
			return fmt.Errorf("セッションの失効に失敗しました: %w", err)
		}
		revoked = n
		return nil
	})
	if err != nil {
		return err
	}
	s.recorder.RecordSessionsRevoked(revoked)

	slog.Info("パスワードを変更しました",
		slog.Int64("user_id", user.ID),
		slog.Int64("revoked_sessions", revoked),
	)
	return nil
}

// Deactivate はアカウントを無効化し、全てのセッションを失効させる。
// 家族や所属は他のメンバーと共有されうるため削除しない。
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	slog.Info("アカウントの無効化を開始します", slog.Int64("user_id", userID))

	var revoked int64
	err := s.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		user, err := repos.Users.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if user == nil {
			return model.NewNotFoundError("ユーザー")
		}

		if err := repos.Users.SetActive(ctx, userID, false); err != nil {
			return fmt.Errorf("アカウントの無効化に失敗しました: %w", err)
		}
		n, err := repos.Sessions.RevokeAllByUserID(ctx, userID, "", s.now())
		if err != nil {
			return fmt.Errorf("セッションの失効に失敗しました: %w", err)
		}
		revoked = n
		return nil
	})
	if err != nil {
		return err
	}
	s.recorder.RecordSessionsRevoked(revoked)

	slog.Info("アカウントの無効化が完了しました",
		slog.Int64("user_id", userID),
		slog.Int64("revoked_sessions", revoked),
	)
	return nil
}
