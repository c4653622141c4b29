package pricing

import (
	"testing"

	"github.com/radiant/credits/types"
)

func testTariff() Tariff {
	return Tariff{
		UnitPrice: types.USD(1000), // $10.00 per credit
		Tiers: []Tier{
			{MinCredits: types.Whole(10), DiscountBps: 500, BonusBps: 500},
			{MinCredits: types.Whole(100), DiscountBps: 1000, BonusBps: 1000},
		},
		ModelRates: map[string]ModelRate{
			"gpt-4": {InputPerKTokens: types.Milli(30), OutputPerKTokens: types.Milli(60)},
		},
		DefaultRate: ModelRate{InputPerKTokens: types.Milli(10), OutputPerKTokens: types.Milli(20)},
	}
}

func TestQuotePurchase(t *testing.T) {
	tests := []struct {
		name       string
		credits    types.Credits
		basePrice  types.Money
		discount   types.Money
		finalPrice types.Money
		bonus      types.Credits
		total      types.Credits
	}{
		{
			name:       "ten credits hits first tier",
			credits:    types.Whole(10),
			basePrice:  types.USD(10000),
			discount:   types.USD(500),
			finalPrice: types.USD(9500),
			bonus:      types.Milli(500),
			total:      types.Milli(10500),
		},
		{
			name:       "below every tier",
			credits:    types.Whole(5),
			basePrice:  types.USD(5000),
			discount:   types.USD(0),
			finalPrice: types.USD(5000),
			bonus:      0,
			total:      types.Whole(5),
		},
		{
			name:       "hundred credits hits second tier",
			credits:    types.Whole(100),
			basePrice:  types.USD(100000),
			discount:   types.USD(10000),
			finalPrice: types.USD(90000),
			bonus:      types.Whole(10),
			total:      types.Whole(110),
		},
		{
			name:       "fractional credits price exactly",
			credits:    types.Milli(2500),
			basePrice:  types.USD(2500),
			discount:   types.USD(0),
			finalPrice: types.USD(2500),
			bonus:      0,
			total:      types.Milli(2500),
		},
	}

	tariff := testTariff()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := QuotePurchase(tariff, tt.credits)
			if err != nil {
				t.Fatalf("QuotePurchase error: %v", err)
			}
			if !q.BasePrice.Equal(tt.basePrice) {
				t.Errorf("BasePrice: got %v, want %v", q.BasePrice, tt.basePrice)
			}
			if !q.Discount.Equal(tt.discount) {
				t.Errorf("Discount: got %v, want %v", q.Discount, tt.discount)
			}
			if !q.FinalPrice.Equal(tt.finalPrice) {
				t.Errorf("FinalPrice: got %v, want %v", q.FinalPrice, tt.finalPrice)
			}
			if q.BonusCredits != tt.bonus {
				t.Errorf("BonusCredits: got %s, want %s", q.BonusCredits, tt.bonus)
			}
			if q.TotalCredits != tt.total {
				t.Errorf("TotalCredits: got %s, want %s", q.TotalCredits, tt.total)
			}
		})
	}
}

func TestQuotePurchaseRejectsNonPositive(t *testing.T) {
	tariff := testTariff()
	for _, credits := range []types.Credits{0, types.Whole(-1)} {
		if _, err := QuotePurchase(tariff, credits); err == nil {
			t.Errorf("QuotePurchase(%s): expected error", credits)
		}
	}
}

func TestValidateTiers(t *testing.T) {
	tests := []struct {
		name    string
		tiers   []Tier
		wantErr bool
	}{
		{"Empty", nil, false},
		{"Ascending", []Tier{{MinCredits: types.Whole(10)}, {MinCredits: types.Whole(20)}}, false},
		{"Descending", []Tier{{MinCredits: types.Whole(20)}, {MinCredits: types.Whole(10)}}, true},
		{"Duplicate", []Tier{{MinCredits: types.Whole(10)}, {MinCredits: types.Whole(10)}}, true},
		{"Negative threshold", []Tier{{MinCredits: types.Whole(-1)}}, true},
		{"Discount over 100%", []Tier{{MinCredits: 0, DiscountBps: 10001}}, true},
		{"Negative bonus", []Tier{{MinCredits: 0, BonusBps: -1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTiers(tt.tiers)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTiers: err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFindTier(t *testing.T) {
	tiers := testTariff().Tiers

	tests := []struct {
		name    string
		credits types.Credits
		wantMin types.Credits
	}{
		{"Below all", types.Whole(1), 0},
		{"Exactly first threshold", types.Whole(10), types.Whole(10)},
		{"Between tiers", types.Whole(50), types.Whole(10)},
		{"Top tier", types.Whole(500), types.Whole(100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier := FindTier(tiers, tt.credits)
			if tier.MinCredits != tt.wantMin {
				t.Errorf("FindTier: got threshold %s, want %s", tier.MinCredits, tt.wantMin)
			}
		})
	}
}

func TestCostForTokens(t *testing.T) {
	rate := ModelRate{InputPerKTokens: types.Milli(30), OutputPerKTokens: types.Milli(60)}

	tests := []struct {
		name string
		in   int64
		out  int64
		want types.Credits
	}{
		{"Zero tokens", 0, 0, 0},
		{"Exact thousands", 1000, 1000, types.Milli(90)},
		{"Rounds up input", 1, 0, types.Milli(1)},
		{"Rounds up both", 50, 25, types.Milli(2 + 2)},
		{"Large counts", 1_000_000, 500_000, types.Milli(30000 + 30000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CostForTokens(rate, tt.in, tt.out); got != tt.want {
				t.Errorf("CostForTokens: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRateFallsBackToDefault(t *testing.T) {
	tariff := testTariff()

	if got := tariff.Rate("gpt-4"); got != tariff.ModelRates["gpt-4"] {
		t.Errorf("Rate(gpt-4): got %+v", got)
	}
	if got := tariff.Rate("unknown-model"); got != tariff.DefaultRate {
		t.Errorf("Rate(unknown): got %+v, want default", got)
	}
}
