package model

import "time"

// Role はユーザーの権限を表す。
type Role string

const (
	// RoleAdmin は商品管理とアクセス解析の閲覧が可能な管理者。
	RoleAdmin Role = "admin"
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
)

// Valid はロールが定義済みの値かを判定する。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// SystemUserID はシードデータの作成者を表す番兵値。
const SystemUserID = "system"

// User はサービス利用ユーザー（認証済みアイデンティティ）を表す。
type User struct {
	ID        string
	Email     string
	Name      string
	Picture   string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin は管理者ロールかを判定する。
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻においてセッションが期限切れかを判定する。
// ストアに残っていても期限を過ぎたセッションは無効として扱う。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
