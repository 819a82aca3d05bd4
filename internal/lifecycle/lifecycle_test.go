package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cthuluengine/internal/broker"
	"cthuluengine/internal/models"
)

type fakeBroker struct {
	modifyErr  error
	closeErr   error
	lastModify broker.ModifyRequest
	lastClose  broker.CloseRequest
}

func (f *fakeBroker) Health(ctx context.Context) (*broker.HealthResult, error) { return nil, nil }
func (f *fakeBroker) AccountInfo(ctx context.Context) (*broker.AccountInfo, error) {
	return nil, nil
}
func (f *fakeBroker) SymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error) {
	return nil, nil
}
func (f *fakeBroker) Rates(ctx context.Context, symbol, timeframe string, count int) ([]broker.RateBar, error) {
	return nil, nil
}
func (f *fakeBroker) OpenPositions(ctx context.Context, magic int64) ([]broker.PositionInfo, error) {
	return nil, nil
}
func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	return nil, nil
}
func (f *fakeBroker) ModifyPosition(ctx context.Context, req broker.ModifyRequest) error {
	f.lastModify = req
	return f.modifyErr
}
func (f *fakeBroker) ClosePosition(ctx context.Context, req broker.CloseRequest) (*broker.CloseResult, error) {
	f.lastClose = req
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return &broker.CloseResult{RealizedPnL: 10, ExitPrice: 1.1}, nil
}
func (f *fakeBroker) Close() error { return nil }

func TestSetStops_RejectsStopsTooClose(t *testing.T) {
	fb := &fakeBroker{}
	lc := New(fb, Config{})
	sym := broker.SymbolInfo{Point: 0.0001, StopsLevel: 10}

	err := lc.SetStops(context.Background(), 1, 1.1000, sym, 1.0999, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStopsTooClose)
}

func TestSetStops_AllowsValidDistance(t *testing.T) {
	fb := &fakeBroker{}
	lc := New(fb, Config{})
	sym := broker.SymbolInfo{Point: 0.0001, StopsLevel: 10}

	err := lc.SetStops(context.Background(), 1, 1.1000, sym, 1.0950, 1.1100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fb.lastModify.TicketID)
}

func TestPartialClose_RejectsOutOfRangeFraction(t *testing.T) {
	fb := &fakeBroker{}
	lc := New(fb, Config{})
	_, err := lc.PartialClose(context.Background(), models.Position{TicketID: 1, LotSize: 1.0}, 1.5)
	assert.Error(t, err)
}

func TestPartialClose_SendsScaledLot(t *testing.T) {
	fb := &fakeBroker{}
	lc := New(fb, Config{})
	_, err := lc.PartialClose(context.Background(), models.Position{TicketID: 1, LotSize: 1.0}, 0.5)
	require.NoError(t, err)
	require.NotNil(t, fb.lastClose.Lot)
	assert.InDelta(t, 0.5, *fb.lastClose.Lot, 1e-9)
}

func TestFullClose_PropagatesBrokerError(t *testing.T) {
	fb := &fakeBroker{closeErr: errors.New("boom")}
	lc := New(fb, Config{})
	_, err := lc.FullClose(context.Background(), 1)
	assert.Error(t, err)
}

func TestNew_PanicsOnNilBroker(t *testing.T) {
	assert.Panics(t, func() { New(nil, Config{}) })
}
