package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

// DefaultRange は期間未指定時の集計期間。
const DefaultRange = 30 * 24 * time.Hour

// dayLayout は日別集計のキーの書式。
const dayLayout = "2006-01-02"

// Aggregator はアクセスログを集計してレポートを生成する。
type Aggregator struct {
	repo repository.VisitorRepository
}

// NewAggregator はAggregatorを生成する。
func NewAggregator(repo repository.VisitorRepository) *Aggregator {
	return &Aggregator{repo: repo}
}

// Summarize は from <= timestamp <= to のアクセスログを集計する。
// 該当するログがない場合もエラーにせず、ゼロ値のレポートを返す。
func (a *Aggregator) Summarize(ctx context.Context, from, to time.Time) (*model.AnalyticsReport, error) {
	if from.After(to) {
		return nil, model.NewInvalidArgumentError("from must not be after to")
	}

	report := &model.AnalyticsReport{
		From:   from,
		To:     to,
		ByPage: map[string]int{},
		ByDay:  map[string]int{},
	}
	ips := make(map[string]struct{})
	identities := make(map[string]struct{})

	err := a.repo.Scan(ctx, from, to, func(rec model.VisitorRecord) error {
		report.TotalVisits++
		report.ByPage[rec.Path]++
		report.ByDay[rec.Timestamp.UTC().Format(dayLayout)]++
		if rec.IPAddress != "" {
			ips[rec.IPAddress] = struct{}{}
		}
		if rec.Anonymous() {
			report.ByIdentity.Anonymous++
		} else {
			report.ByIdentity.Known++
			identities[rec.UserID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrUnavailable) {
			return nil, model.NewStorageUnavailableError(err)
		}
		return nil, fmt.Errorf("アクセスログの集計に失敗しました: %w", err)
	}

	report.UniqueIPs = len(ips)
	report.ByIdentity.UniqueIdentities = len(identities)
	return report, nil
}
