package statistics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/types"
)

var (
	ErrInvalidStatistic = errors.New("invalid statistic type")
	ErrInvalidFilter    = errors.New("invalid statistic filter")
)

type StatisticType string

const (
	StatisticTypeDailyNewSubscriptions StatisticType = "daily_new_subscriptions"
	StatisticTypeDailyRevenue          StatisticType = "daily_revenue"
	StatisticTypeLiveSubscriptions     StatisticType = "live_subscriptions"
	StatisticTypeDailyRenewals         StatisticType = "daily_renewals"
)

// FilterDate addresses the day a statistic is bucketed by, e.g. paid_at for revenue.
const FilterDate = "date"

// filterColumns maps the filter fields a statistic accepts to its columns.
var filterColumns = map[StatisticType]map[string]string{
	StatisticTypeDailyNewSubscriptions: {
		FilterDate:       "created_at",
		"plan_id":        "plan_id",
		"payment_method": "payment_method",
	},
	StatisticTypeDailyRevenue: {
		FilterDate: "paid_at",
		"currency": "currency",
		"kind":     "kind",
	},
	StatisticTypeLiveSubscriptions: {
		"plan_id":        "plan_id",
		"payment_method": "payment_method",
	},
	StatisticTypeDailyRenewals: {
		FilterDate: "paid_at",
		"currency": "currency",
	},
}

type StatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type StatisticRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*StatisticDataItem  `json:"data_items" binding:"required"`
}

// Validate rejects unknown statistics and filter fields no statistic understands.
func (r *StatisticRequest) Validate() error {
	if len(r.DataItems) == 0 {
		return fmt.Errorf("%w: no data items requested", ErrInvalidStatistic)
	}
	for _, di := range r.DataItems {
		if di == nil {
			return fmt.Errorf("%w: empty data item", ErrInvalidStatistic)
		}
		if _, ok := filterColumns[di.ID]; !ok {
			return fmt.Errorf("%w: %s", ErrInvalidStatistic, di.ID)
		}
	}
	for _, f := range r.Filters {
		if f == nil {
			continue
		}
		known := lo.SomeBy(lo.Values(filterColumns), func(cols map[string]string) bool {
			_, ok := cols[f.Field]
			return ok
		})
		if !known {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, f.Field)
		}
	}
	return nil
}

type StatisticResponseDataItem struct {
	Date   string           `json:"date"`
	Label  string           `json:"label,omitempty"`
	Value  int64            `json:"value"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type StatisticResponse struct {
	DataItems map[StatisticType][]StatisticResponseDataItem `json:"data_items"`
}

// Service answers admin analytics queries over subscriptions and payments.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// day renders column as a YYYY-MM-DD string in the connected dialect.
// SQLite keeps timestamps as UTC text, so the date is its prefix.
func (s *Service) day(column string) string {
	if s.db.Dialector.Name() == "sqlite" {
		return fmt.Sprintf("substr(%s, 1, 10)", column)
	}
	return fmt.Sprintf("TO_CHAR(%s, 'YYYY-MM-DD')", column)
}

// where keeps the filters that apply to statisticType, rewritten onto its
// columns. ok is false when a filter excludes the statistic entirely.
func (s *Service) where(statisticType StatisticType, filters []*types.CommonFilter) (clause.Expression, bool) {
	cols := filterColumns[statisticType]
	exprs := types.FiltersWhere{}
	var dates []clause.Expression
	for _, f := range filters {
		if f == nil {
			continue
		}
		col, ok := cols[f.Field]
		if !ok {
			return nil, false
		}
		if f.Field == FilterDate {
			if e := s.dateFilter(col, f); e != nil {
				dates = append(dates, e)
			}
			continue
		}
		mapped := *f
		mapped.Field = col
		exprs = append(exprs, &mapped)
	}
	return clause.And(append([]clause.Expression{exprs}, dates...)...), true
}

func (s *Service) dateFilter(column string, f *types.CommonFilter) clause.Expression {
	if len(f.Values) == 0 {
		return nil
	}
	day := s.day(column)
	v := f.Values[0]
	switch f.Operator {
	case types.CommonFilterOperatorEq:
		return clause.Expr{SQL: day + " = ?", Vars: []any{v}}
	case types.CommonFilterOperatorGt:
		return clause.Expr{SQL: day + " > ?", Vars: []any{v}}
	case types.CommonFilterOperatorGte:
		return clause.Expr{SQL: day + " >= ?", Vars: []any{v}}
	case types.CommonFilterOperatorLt:
		return clause.Expr{SQL: day + " < ?", Vars: []any{v}}
	case types.CommonFilterOperatorLte:
		return clause.Expr{SQL: day + " <= ?", Vars: []any{v}}
	case types.CommonFilterOperatorRange, types.CommonFilterOperatorDateRange:
		if len(f.Values) < 2 {
			return nil
		}
		return clause.Expr{SQL: day + " >= ? AND " + day + " <= ?", Vars: []any{f.Values[0], f.Values[1]}}
	default:
		return nil
	}
}

func (s *Service) getDailyNewSubscriptions(ctx context.Context, where clause.Expression) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	day := s.day("created_at")
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select(day + " as date, count(*) as value").
		Where(where).
		Group(day).
		Order("date DESC").
		Find(&results).Error
	return results, err
}

type revenueRow struct {
	Date   string
	Label  string
	Value  int64
	Amount decimal.Decimal
}

func (s *Service) getDailyRevenue(ctx context.Context, where clause.Expression) ([]StatisticResponseDataItem, error) {
	var rows []revenueRow
	day := s.day("paid_at")
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select(day+" as date, currency as label, count(*) as value, sum(amount) as amount").
		Where("status = ? AND paid_at IS NOT NULL", types.PaymentStatusCompleted).
		Where(where).
		Group(day).
		Group("currency").
		Order("date DESC").
		Order("label").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r revenueRow, _ int) StatisticResponseDataItem {
		// minor units are cents for every supported currency
		amount := r.Amount.Round(2)
		return StatisticResponseDataItem{Date: r.Date, Label: r.Label, Value: r.Value, Amount: &amount}
	}), nil
}

func (s *Service) getLiveSubscriptions(ctx context.Context, where clause.Expression) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("status as label, count(*) as value").
		Where("status IN ?", types.CurrentSubscriptionStatuses).
		Where(where).
		Group("status").
		Order("status").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	today := s.now().Format(time.DateOnly)
	for i := range results {
		results[i].Date = today
	}
	return results, nil
}

func (s *Service) getDailyRenewals(ctx context.Context, where clause.Expression) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	day := s.day("paid_at")
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select(day+" as date, count(*) as value").
		Where("kind = ? AND status = ? AND paid_at IS NOT NULL", types.PaymentKindRenewal, types.PaymentStatusCompleted).
		Where(where).
		Group(day).
		Order("date DESC").
		Find(&results).Error
	return results, err
}

func (s *Service) getStatistic(ctx context.Context, id StatisticType, where clause.Expression) ([]StatisticResponseDataItem, error) {
	switch id {
	case StatisticTypeDailyNewSubscriptions:
		return s.getDailyNewSubscriptions(ctx, where)
	case StatisticTypeDailyRevenue:
		return s.getDailyRevenue(ctx, where)
	case StatisticTypeLiveSubscriptions:
		return s.getLiveSubscriptions(ctx, where)
	case StatisticTypeDailyRenewals:
		return s.getDailyRenewals(ctx, where)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatistic, id)
	}
}

// GetStatistic computes every requested data item concurrently. Items a
// filter does not apply to come back empty.
func (s *Service) GetStatistic(ctx context.Context, request *StatisticRequest) (*StatisticResponse, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	items := lo.UniqBy(request.DataItems, func(di *StatisticDataItem) StatisticType { return di.ID })

	var wg sync.WaitGroup
	errChan := make(chan error, len(items))
	resChan := make(chan lo.Entry[StatisticType, []StatisticResponseDataItem], len(items))

	for _, item := range items {
		wg.Add(1)
		go func(id StatisticType) {
			defer wg.Done()
			where, ok := s.where(id, request.Filters)
			if !ok {
				resChan <- lo.Entry[StatisticType, []StatisticResponseDataItem]{Key: id}
				return
			}
			res, err := s.getStatistic(ctx, id, where)
			if err != nil {
				errChan <- fmt.Errorf("failed to compute %s: %w", id, err)
				return
			}
			resChan <- lo.Entry[StatisticType, []StatisticResponseDataItem]{Key: id, Value: res}
		}(item.ID)
	}
	wg.Wait()
	close(errChan)
	close(resChan)

	if err := <-errChan; err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("statistic query failed", "error", err)
		return nil, err
	}
	results := make(map[StatisticType][]StatisticResponseDataItem, len(items))
	for entry := range resChan {
		results[entry.Key] = entry.Value
	}
	return &StatisticResponse{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
