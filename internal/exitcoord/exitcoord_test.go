package exitcoord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cthuluengine/internal/models"
)

func makeBars(closes []float64) []models.Bar {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c + 0.1,
			Low:      c - 0.1,
			Close:    c,
			Volume:   100,
		}
	}
	return bars
}

func baseAccount() models.Account {
	return models.Account{Balance: 1000, Equity: 1000, Margin: 100, FreeMargin: 900, TradeAllowed: true, Phase: models.PhaseGrowth}
}

func TestSurvivalMode_FiresUnderMarginFloor(t *testing.T) {
	pos := models.Position{TicketID: 1, Side: models.SideLong, EntryPrice: 100}
	acct := baseAccount()
	acct.FreeMargin = 10
	cfg := DefaultConfig()

	d := SurvivalMode(pos, models.PositionContext{}, models.MarketContext{}, nil, models.IndicatorSnapshot{}, acct, cfg)
	require.NotNil(t, d)
	assert.Equal(t, models.ExitActionCloseFull, d.Action)
	assert.Equal(t, IDSurvivalMode, d.StrategyID)
}

func TestStopLoss_FiresWhenPriceReachesStop(t *testing.T) {
	pos := models.Position{TicketID: 2, Side: models.SideLong, EntryPrice: 100, SLPrice: 95}
	bars := makeBars([]float64{100, 98, 94})
	cfg := DefaultConfig()

	d := StopLoss(pos, models.PositionContext{}, models.MarketContext{}, bars, models.IndicatorSnapshot{}, baseAccount(), cfg)
	require.NotNil(t, d)
	assert.Equal(t, IDStopLoss, d.StrategyID)
}

func TestStopLoss_NoDecisionAboveStop(t *testing.T) {
	pos := models.Position{TicketID: 2, Side: models.SideLong, EntryPrice: 100, SLPrice: 95}
	bars := makeBars([]float64{100, 98, 97})
	cfg := DefaultConfig()

	d := StopLoss(pos, models.PositionContext{}, models.MarketContext{}, bars, models.IndicatorSnapshot{}, baseAccount(), cfg)
	assert.Nil(t, d)
}

func TestTrailingStop_RatchetsOnlyForward(t *testing.T) {
	pos := models.Position{TicketID: 3, Side: models.SideLong, EntryPrice: 100, SLPrice: 98, InitialRiskDistance: 2}
	bars := makeBars([]float64{100, 104, 106})
	cfg := DefaultConfig()
	pctx := models.PositionContext{MFE: 6} // 3R against a 2-unit risk distance

	d := TrailingStop(pos, pctx, models.MarketContext{}, bars, models.IndicatorSnapshot{}, baseAccount(), cfg)
	require.NotNil(t, d)
	assert.Equal(t, models.ExitActionModify, d.Action)
	assert.Greater(t, d.NewSL, pos.SLPrice)
}

func TestProfitTarget_RequiresTargetR(t *testing.T) {
	pos := models.Position{TicketID: 4, Side: models.SideLong, EntryPrice: 100, SLPrice: 98, InitialRiskDistance: 2}
	cfg := DefaultConfig()

	below := ProfitTarget(pos, models.PositionContext{MFE: 2}, models.MarketContext{}, nil, models.IndicatorSnapshot{}, baseAccount(), cfg)
	assert.Nil(t, below)

	above := ProfitTarget(pos, models.PositionContext{MFE: 5}, models.MarketContext{}, nil, models.IndicatorSnapshot{}, baseAccount(), cfg)
	require.NotNil(t, above)
	assert.Equal(t, IDProfitTarget, above.StrategyID)
}

func TestTimeBased_FiresPastCeiling(t *testing.T) {
	pos := models.Position{TicketID: 5, Side: models.SideLong, EntryPrice: 100}
	cfg := DefaultConfig()

	d := TimeBased(pos, models.PositionContext{HoldingTime: 300 * time.Minute}, models.MarketContext{}, nil, models.IndicatorSnapshot{}, baseAccount(), cfg)
	require.NotNil(t, d)
	assert.Equal(t, IDTimeBased, d.StrategyID)
}

func TestCoordinator_PicksSingleHighestPriorityDecision(t *testing.T) {
	c := New(DefaultConfig())
	pos := models.Position{TicketID: 6, Side: models.SideLong, EntryPrice: 100, SLPrice: 95}
	bars := makeBars([]float64{100, 98, 94})
	acct := baseAccount()
	acct.FreeMargin = 10 // also trips SurvivalMode (priority 100) over StopLoss (90)

	d := c.Evaluate(pos, models.PositionContext{}, models.MarketContext{}, bars, models.IndicatorSnapshot{}, acct)
	require.NotNil(t, d)
	assert.Equal(t, IDSurvivalMode, d.StrategyID)
}

func TestCoordinator_DynamicAdjustmentCanReorderWinner(t *testing.T) {
	c := New(DefaultConfig())
	pos := models.Position{TicketID: 7, Side: models.SideLong, EntryPrice: 100, SLPrice: 98, InitialRiskDistance: 2}
	cfg := DefaultConfig()
	bars := makeBars([]float64{100, 100.1, 100.2})

	// MFE 4.2 is 2.1R against a 2-unit risk distance: ProfitTarget fires
	// (base 70) and gets +15 from MFE>=0.8*TargetR, reaching 85, while
	// TrailingStop also fires with its unadjusted base 80 and BreakEven with
	// 50. The adjustment lifts ProfitTarget past TrailingStop's higher base.
	pctx := models.PositionContext{MFE: 4.2}
	mctx := models.MarketContext{}
	_ = cfg

	d := c.Evaluate(pos, pctx, mctx, bars, models.IndicatorSnapshot{}, baseAccount())
	require.NotNil(t, d)
	assert.Equal(t, IDProfitTarget, d.StrategyID)
	assert.Equal(t, basePriority[IDProfitTarget]+15, d.Priority)
	assert.LessOrEqual(t, d.Priority, 100)
}

func TestCoordinator_RecordsRejectionsAndStats(t *testing.T) {
	c := New(DefaultConfig())
	pos := models.Position{TicketID: 8, Side: models.SideLong, EntryPrice: 100, SLPrice: 95}
	bars := makeBars([]float64{100, 98, 94})

	_ = c.Evaluate(pos, models.PositionContext{}, models.MarketContext{}, bars, models.IndicatorSnapshot{}, baseAccount())
	c.RecordRejection()

	stats := c.Stats()
	assert.Equal(t, 1, stats.Evaluations)
	assert.Equal(t, 1, stats.Rejections)
	assert.NotZero(t, stats.DecisionsByStrategy[IDStopLoss])
}

func TestApplyDynamicAdjustments_SumsIndependently(t *testing.T) {
	mctx := models.MarketContext{VolatilityLevel: models.VolatilityHigh, NearNewsEvent: true}
	pctx := models.PositionContext{UnrealizedPct: -3}
	cfg := DefaultConfig()

	p := applyDynamicAdjustments(IDStopLoss, basePriority[IDStopLoss], pctx, mctx, cfg)
	// +10 volatility, +15 news, +20 unrealized loss = base + 45
	assert.Equal(t, basePriority[IDStopLoss]+45, p)
}
