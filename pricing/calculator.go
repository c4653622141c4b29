// Package pricing converts metered usage into credit costs and purchase
// requests into discounted prices with bonus credits. Everything here is
// pure compute over integer amounts so results are reproducible exactly.
package pricing

import (
	"fmt"
	"sort"

	"github.com/radiant/credits/types"
)

// ModelRate prices a model's tokens in milli-credits per 1000 tokens.
type ModelRate struct {
	InputPerKTokens  types.Credits `json:"input_per_k_tokens" toml:"input_per_k_tokens"`
	OutputPerKTokens types.Credits `json:"output_per_k_tokens" toml:"output_per_k_tokens"`
}

// Tier is one volume-discount tier. The tier with the largest MinCredits
// not exceeding the purchased quantity applies; its discount and bonus
// rates apply to the entire quantity, not marginally.
type Tier struct {
	MinCredits  types.Credits `json:"min_credits" toml:"min_credits"`
	DiscountBps int64         `json:"discount_bps" toml:"discount_bps"`
	BonusBps    int64         `json:"bonus_bps" toml:"bonus_bps"`
}

// Tariff is the full pricing input for one tenant: the per-credit unit
// price, the volume tier table, and per-model token rates.
type Tariff struct {
	UnitPrice   types.Money          `json:"unit_price"`
	Tiers       []Tier               `json:"tiers"`
	ModelRates  map[string]ModelRate `json:"model_rates"`
	DefaultRate ModelRate            `json:"default_rate"`
}

// ValidateTiers checks the tier-table invariant: thresholds strictly
// ascending (therefore distinct), rates within [0, 10000] bps.
func ValidateTiers(tiers []Tier) error {
	if !sort.SliceIsSorted(tiers, func(i, j int) bool {
		return tiers[i].MinCredits < tiers[j].MinCredits
	}) {
		return fmt.Errorf("pricing: tier thresholds not ascending")
	}

	var prev types.Credits = -1
	for _, t := range tiers {
		if t.MinCredits == prev {
			return fmt.Errorf("pricing: duplicate tier threshold %s", t.MinCredits)
		}
		if t.MinCredits.IsNegative() {
			return fmt.Errorf("pricing: negative tier threshold %s", t.MinCredits)
		}
		if t.DiscountBps < 0 || t.DiscountBps > 10000 {
			return fmt.Errorf("pricing: discount rate %d bps out of range", t.DiscountBps)
		}
		if t.BonusBps < 0 {
			return fmt.Errorf("pricing: negative bonus rate %d bps", t.BonusBps)
		}
		prev = t.MinCredits
	}
	return nil
}

// FindTier selects the tier with the greatest MinCredits not exceeding
// credits. Returns the zero Tier (no discount, no bonus) when the quantity
// is below every threshold.
func FindTier(tiers []Tier, credits types.Credits) Tier {
	var best Tier
	for _, t := range tiers {
		if t.MinCredits <= credits && t.MinCredits >= best.MinCredits {
			best = t
		}
	}
	return best
}

// Quote is the priced outcome of a purchase request.
type Quote struct {
	RequestedCredits types.Credits `json:"requested_credits"`
	BonusCredits     types.Credits `json:"bonus_credits"`
	TotalCredits     types.Credits `json:"total_credits"`
	BasePrice        types.Money   `json:"base_price"`
	Discount         types.Money   `json:"discount"`
	FinalPrice       types.Money   `json:"final_price"`
	Tier             Tier          `json:"tier"`
}

// QuotePurchase prices a purchase of the given credit quantity:
// basePrice = credits × unitPrice, discount and bonus from the matched
// tier applied to the whole quantity.
func QuotePurchase(t Tariff, credits types.Credits) (Quote, error) {
	if !credits.IsPositive() {
		return Quote{}, fmt.Errorf("pricing: non-positive purchase quantity %s", credits)
	}
	if err := ValidateTiers(t.Tiers); err != nil {
		return Quote{}, err
	}

	tier := FindTier(t.Tiers, credits)

	// UnitPrice is per whole credit; credits carry milli resolution.
	base := types.Money{
		Amount:   t.UnitPrice.Amount * credits.Milli() / types.Credit.Milli(),
		Currency: t.UnitPrice.Currency,
	}
	discount := base.ScaleBps(tier.DiscountBps)
	bonus := credits.ScaleBps(tier.BonusBps)

	return Quote{
		RequestedCredits: credits,
		BonusCredits:     bonus,
		TotalCredits:     credits + bonus,
		BasePrice:        base,
		Discount:         discount,
		FinalPrice:       base.Subtract(discount),
		Tier:             tier,
	}, nil
}

// Rate resolves the token rate for a model, falling back to the default.
func (t Tariff) Rate(model string) ModelRate {
	if r, ok := t.ModelRates[model]; ok {
		return r
	}
	return t.DefaultRate
}

// CostForTokens converts token counts into a credit cost, rounding up so
// fractional milli-credits are never undercharged.
func CostForTokens(rate ModelRate, inputTokens, outputTokens int64) types.Credits {
	in := ceilDiv(inputTokens*rate.InputPerKTokens.Milli(), 1000)
	out := ceilDiv(outputTokens*rate.OutputPerKTokens.Milli(), 1000)
	return types.Milli(in + out)
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
