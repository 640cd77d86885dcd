package auth

import "github.com/hitoshi/storefront/internal/model"

// Authorize はユーザーが要求ロールを満たすかを判定する。
// 管理者は全てのロール要求を満たす。
// 未認証はUNAUTHENTICATED、権限不足はFORBIDDENを返す。
func Authorize(user *model.User, required model.Role) error {
	if user == nil {
		return model.NewUnauthenticatedError()
	}
	if user.Role == required || user.Role == model.RoleAdmin {
		return nil
	}
	return model.NewForbiddenError()
}
