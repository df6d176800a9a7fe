package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/clock"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/errs"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/metrics"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/store"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

const minStartBalance = 1000.0

// BrokerFeed is the read-only view of the terminal bridge.
type BrokerFeed interface {
	Snapshot(ctx context.Context, accountID string) (domain.AccountSnapshot, error)
	ClosedTrades(ctx context.Context, masterID string) ([]domain.TradeRecord, error)
}

// ScoreTrades derives risk score, max drawdown and ROI from a master's closed
// trades and current balance. Daily returns are bucketed by UTC day.
func ScoreTrades(trades []domain.TradeRecord, currentBalance float64) domain.MasterScore {
	if len(trades) == 0 {
		return domain.MasterScore{RiskScore: 1}
	}
	ordered := make([]domain.TradeRecord, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CloseTime.Before(ordered[j].CloseTime) })

	var realized float64
	for _, t := range ordered {
		realized += t.NetProfit
	}
	start := math.Max(currentBalance-realized, minStartBalance)

	equity, peak, maxDD := start, start, 0.0
	var returns []float64
	dayStart := start
	var dayPnL float64
	day := utcDay(ordered[0].CloseTime)

	for _, t := range ordered {
		if d := utcDay(t.CloseTime); !d.Equal(day) {
			returns = append(returns, dailyReturn(dayPnL, dayStart))
			dayStart = equity
			dayPnL = 0
			day = d
		}
		equity += t.NetProfit
		dayPnL += t.NetProfit
		peak = math.Max(peak, equity)
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-equity)/peak*100)
		}
	}
	returns = append(returns, dailyReturn(dayPnL, dayStart))

	risk := max(volatilityScore(sampleStdev(returns)), drawdownScore(maxDD))
	return domain.MasterScore{
		RiskScore:      risk,
		MaxDrawdownPct: round2(maxDD),
		ROI:            round2((currentBalance - start) / start * 100),
	}
}

func utcDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func dailyReturn(pnl, startEquity float64) float64 {
	if startEquity <= 0 {
		return 0
	}
	return pnl / startEquity * 100
}

// sampleStdev is zero for fewer than two returns.
func sampleStdev(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil || math.IsNaN(sd) {
		return 0
	}
	return sd
}

func round2(v float64) float64 {
	r, err := stats.Round(v, 2)
	if err != nil {
		return v
	}
	return r
}

func volatilityScore(stdev float64) int {
	switch {
	case stdev < 1.0:
		return 1
	case stdev < 2.5:
		return 2
	case stdev < 4.5:
		return 3
	case stdev < 7.0:
		return 4
	default:
		return 5
	}
}

func drawdownScore(ddPct float64) int {
	switch {
	case ddPct < 10:
		return 1
	case ddPct < 20:
		return 2
	case ddPct < 35:
		return 3
	case ddPct < 50:
		return 4
	default:
		return 5
	}
}

// ScoringService refreshes master scores and broadcasts the result.
type ScoringService struct {
	repo   store.Repository
	feed   BrokerFeed
	events EventPublisher
	clock  clock.Clock
	logger *zap.Logger
}

func NewScoringService(repo store.Repository, feed BrokerFeed, events EventPublisher, c clock.Clock, logger *zap.Logger) *ScoringService {
	return &ScoringService{repo: repo, feed: feed, events: orNoop(events), clock: c, logger: logger}
}

// RefreshMasterScore recomputes and stores a master's score. On any failure
// the stored score is left untouched.
func (s *ScoringService) RefreshMasterScore(ctx context.Context, masterID string) (domain.MasterScore, error) {
	score, err := s.refresh(ctx, masterID)
	if err != nil {
		metrics.ScoreRefreshTotal.WithLabelValues("error").Inc()
		return domain.MasterScore{}, err
	}
	metrics.ScoreRefreshTotal.WithLabelValues("ok").Inc()

	event := domain.ScoreChanged{MasterID: masterID, Score: score, At: s.clock.Now()}
	if err := s.events.PublishScore(ctx, event); err != nil {
		s.logger.Warn("publish score event failed", zap.String("master_id", masterID), zap.Error(err))
	}
	return score, nil
}

func (s *ScoringService) refresh(ctx context.Context, masterID string) (domain.MasterScore, error) {
	const op = "refresh master score"
	if masterID == "" {
		return domain.MasterScore{}, errs.New(errs.CodeValidation, op, "master id is required")
	}
	if _, err := s.repo.GetMaster(ctx, masterID); err != nil {
		return domain.MasterScore{}, storeErr(op, err)
	}

	snap, err := s.feed.Snapshot(ctx, masterID)
	if err != nil {
		return domain.MasterScore{}, storeErr(op, fmt.Errorf("broker balance: %w", err))
	}
	trades, err := s.feed.ClosedTrades(ctx, masterID)
	if err != nil {
		return domain.MasterScore{}, errs.WrapWithCode(errs.CodeInternal, op, err)
	}

	score := ScoreTrades(trades, snap.Balance)
	if err := s.repo.SetMasterScore(ctx, masterID, score); err != nil {
		return domain.MasterScore{}, storeErr(op, err)
	}
	return score, nil
}

// RefreshAll scores every master and returns how many failed. Failures are
// logged and skipped.
func (s *ScoringService) RefreshAll(ctx context.Context) (int, error) {
	ids, err := s.repo.ListMasterIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list masters: %w", err)
	}
	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		if _, err := s.RefreshMasterScore(ctx, id); err != nil {
			failed++
			s.logger.Warn("score refresh failed", zap.String("master_id", id), zap.Error(err))
		}
	}
	return failed, nil
}

// storeErr tags store.ErrNotFound as NOT_FOUND and anything else as INTERNAL.
func storeErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.WrapWithCode(errs.CodeNotFound, op, err)
	}
	var appErr *errs.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return errs.WrapWithCode(errs.CodeInternal, op, err)
}
