package auth

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/famledger/internal/model"
)

const (
	usernameMinLen   = 5
	usernameMaxLen   = 50
	passwordMinLen   = 8
	passwordMaxLen   = 200
	familyNameMaxLen = 100
	emailMaxLen      = 254
)

// ValidateEmail はメールアドレスの形式を検証する。
// 表示名付きの形式（"Alice <a@x.com>"）は受け付けない。
func ValidateEmail(email string) error {
	if email == "" {
		return model.NewValidationError("email", "必須です")
	}
	if len(email) > emailMaxLen {
		return model.NewValidationError("email", "長すぎます")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewValidationError("email", "形式が正しくありません")
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	if !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") {
		return model.NewValidationError("email", "形式が正しくありません")
	}
	return nil
}

// ValidateUsername はユーザー名の長さ（文字数）を検証する。
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < usernameMinLen || n > usernameMaxLen {
		return model.NewValidationError("username", "5〜50文字で入力してください")
	}
	return nil
}

// ValidatePassword はパスワードの長さ（文字数）を検証する。
func ValidatePassword(field, password string) error {
	n := utf8.RuneCountInString(password)
	if n < passwordMinLen || n > passwordMaxLen {
		return model.NewValidationError(field, "8〜200文字で入力してください")
	}
	return nil
}

// ValidateFamilyName は家族名を検証する。空文字列は既定名を使うため許可する。
func ValidateFamilyName(name string) error {
	if utf8.RuneCountInString(name) > familyNameMaxLen {
		return model.NewValidationError("familyName", "100文字以内で入力してください")
	}
	return nil
}
