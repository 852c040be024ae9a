package backtest

import (
	"context"
	"errors"
	"testing"

	"backcast/internal/market"
	"backcast/internal/strategy"
)

func TestGrid_InclusiveRange(t *testing.T) {
	cases := Grid(0.01, 0.03, 0.01, []int{3, 4, 3}, 10)
	if len(cases) != 6 {
		t.Fatalf("expected 6 cases, got %d: %+v", len(cases), cases)
	}
	want := []float64{0.01, 0.02, 0.03}
	seen := map[float64]int{}
	for _, c := range cases {
		seen[c.StopLossFraction]++
		if c.WindowLength != 3 && c.WindowLength != 4 {
			t.Errorf("unexpected window %d", c.WindowLength)
		}
	}
	for _, w := range want {
		if seen[w] != 2 {
			t.Errorf("stop loss %f appears %d times", w, seen[w])
		}
	}
}

func TestGrid_DefaultsAndSinglePoint(t *testing.T) {
	cases := Grid(0.05, 0.05, 0, nil, 26)
	if len(cases) != 1 || cases[0].StopLossFraction != 0.05 || cases[0].WindowLength != 26 {
		t.Fatalf("unexpected grid %+v", cases)
	}
}

func TestSweep_OrderedOutcomes(t *testing.T) {
	cases := []SweepCase{
		{StopLossFraction: 0, WindowLength: 3},
		{StopLossFraction: 0.01, WindowLength: 3},
		{StopLossFraction: 0.5, WindowLength: 3},
		{StopLossFraction: 0.01, WindowLength: 20},
	}
	outcomes, err := Sweep(context.Background(), SweepInput{
		Base:        Config{Name: "sweep", StartingCapital: 1000},
		Series:      makeSeries(scenarioCloses),
		Cases:       cases,
		MaxParallel: 2,
		NewStrategy: func() (strategy.Strategy, error) { return takeProfit(0.02), nil },
	})
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if len(outcomes) != len(cases) {
		t.Fatalf("expected %d outcomes, got %d", len(cases), len(outcomes))
	}
	for i, o := range outcomes {
		if o.Case != cases[i] {
			t.Errorf("outcome %d out of order: %+v", i, o.Case)
		}
	}

	if o := outcomes[0]; o.Err != nil || o.Result.Ledger[0].ExitReason != ExitForcedLiquidation {
		t.Errorf("case 0: unexpected outcome %+v", o)
	}
	if o := outcomes[1]; o.Err != nil || !almostEqual(o.Result.EndingCapital, 990) {
		t.Errorf("case 1: unexpected ending capital %f (%v)", o.Result.EndingCapital, o.Err)
	}
	if o := outcomes[2]; o.Err != nil || o.Result.Ledger[0].ExitReason != ExitForcedLiquidation {
		t.Errorf("case 2: wide stop should never trigger, got %+v", o)
	}
	if o := outcomes[3]; !errors.Is(o.Err, market.ErrInsufficientHistory) {
		t.Errorf("case 3: expected insufficient history, got %v", o.Err)
	}
}

func TestSweep_StrategyFactoryFailure(t *testing.T) {
	boom := errors.New("boom")
	outcomes, err := Sweep(context.Background(), SweepInput{
		Base:        Config{StartingCapital: 1000},
		Series:      makeSeries(scenarioCloses),
		Cases:       []SweepCase{{WindowLength: 3}},
		NewStrategy: func() (strategy.Strategy, error) { return nil, boom },
	})
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if !errors.Is(outcomes[0].Err, boom) {
		t.Errorf("expected factory error, got %v", outcomes[0].Err)
	}
}

func TestSweep_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Sweep(ctx, SweepInput{
		Base:        Config{StartingCapital: 1000},
		Series:      makeSeries(scenarioCloses),
		Cases:       []SweepCase{{WindowLength: 3}},
		NewStrategy: func() (strategy.Strategy, error) { return strategy.Never{}, nil },
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
