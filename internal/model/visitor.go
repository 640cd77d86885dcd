package model

import "time"

// VisitorRecord はインバウンドリクエスト1件分のアクセスログを表す。
// 追記のみで、更新・削除は行わない。
type VisitorRecord struct {
	ID        string
	Timestamp time.Time
	UserID    string // 匿名アクセスの場合は空文字
	IPAddress string
	UserAgent string
	Path      string
	Method    string
	Status    int
}

// Anonymous は匿名アクセスかを判定する。
func (r VisitorRecord) Anonymous() bool {
	return r.UserID == ""
}

// AnalyticsReport はアクセスログの集計結果を表す。
type AnalyticsReport struct {
	From        time.Time
	To          time.Time
	TotalVisits int
	UniqueIPs   int
	ByPage      map[string]int
	ByIdentity  IdentityBreakdown
	ByDay       map[string]int // キーは YYYY-MM-DD (UTC)
}

// IdentityBreakdown は認証済み/匿名のアクセス内訳を表す。
type IdentityBreakdown struct {
	Known            int
	Anonymous        int
	UniqueIdentities int
}
