package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/radiant/credits/pricing"
	"github.com/radiant/credits/types"
)

// fileSchema is the TOML representation of a settings document. Amounts
// are decimal credit strings ("10.5") and money is cents plus currency;
// everything is converted and validated exactly once at load time.
type fileSchema struct {
	Global    fileSettings   `toml:"global"`
	Overrides []fileOverride `toml:"override"`
}

type fileOverride struct {
	TenantID string       `toml:"tenant_id"`
	From     string       `toml:"from"`
	Until    string       `toml:"until"`
	Settings fileSettings `toml:"settings"`
}

type fileSettings struct {
	UnitPriceCents     int64                        `toml:"unit_price_cents"`
	Currency           string                       `toml:"currency"`
	ReservationTimeout string                       `toml:"reservation_timeout"`
	Shortfall          string                       `toml:"shortfall"`
	Tiers              []fileTier                   `toml:"tiers"`
	ModelRates         map[string]pricing.ModelRate `toml:"model_rates"`
	DefaultRate        pricing.ModelRate            `toml:"default_rate"`
	AutoPurchase       fileAutoPurchase             `toml:"auto_purchase"`
}

type fileTier struct {
	MinCredits  types.Credits `toml:"min_credits"`
	DiscountBps int64         `toml:"discount_bps"`
	BonusBps    int64         `toml:"bonus_bps"`
}

type fileAutoPurchase struct {
	Enabled              bool          `toml:"enabled"`
	Threshold            types.Credits `toml:"threshold"`
	TopUpAmount          types.Credits `toml:"top_up_amount"`
	MonthlySpendCapCents int64         `toml:"monthly_spend_cap_cents"`
}

// LoadFile reads a TOML settings document and returns a validated Static
// provider.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc fileSchema
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	global, err := doc.Global.toSettings()
	if err != nil {
		return nil, fmt.Errorf("config: %s: global: %w", path, err)
	}

	overrides := make([]Override, 0, len(doc.Overrides))
	for _, fo := range doc.Overrides {
		o, err := fo.toOverride()
		if err != nil {
			return nil, fmt.Errorf("config: %s: override %q: %w", path, fo.TenantID, err)
		}
		overrides = append(overrides, o)
	}

	return NewStatic(*global, overrides...)
}

func (fs fileSettings) toSettings() (*Settings, error) {
	currency := fs.Currency
	if currency == "" {
		currency = "usd"
	}

	timeout, err := time.ParseDuration(fs.ReservationTimeout)
	if err != nil {
		return nil, fmt.Errorf("reservation_timeout: %w", err)
	}

	policy := ShortfallPolicy(fs.Shortfall)
	if fs.Shortfall == "" {
		policy = ShortfallGrace
	}

	tiers := make([]pricing.Tier, 0, len(fs.Tiers))
	for _, t := range fs.Tiers {
		tiers = append(tiers, pricing.Tier{
			MinCredits:  t.MinCredits,
			DiscountBps: t.DiscountBps,
			BonusBps:    t.BonusBps,
		})
	}

	s := &Settings{
		Tariff: pricing.Tariff{
			UnitPrice:   types.Money{Amount: fs.UnitPriceCents, Currency: currency},
			Tiers:       tiers,
			ModelRates:  fs.ModelRates,
			DefaultRate: fs.DefaultRate,
		},
		ReservationTimeout: timeout,
		AutoPurchase: AutoPurchaseDefaults{
			Enabled:         fs.AutoPurchase.Enabled,
			Threshold:       fs.AutoPurchase.Threshold,
			TopUpAmount:     fs.AutoPurchase.TopUpAmount,
			MonthlySpendCap: types.Money{Amount: fs.AutoPurchase.MonthlySpendCapCents, Currency: currency},
		},
		Shortfall: policy,
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (fo fileOverride) toOverride() (Override, error) {
	s, err := fo.Settings.toSettings()
	if err != nil {
		return Override{}, err
	}

	o := Override{TenantID: fo.TenantID, Settings: *s}
	if fo.From != "" {
		o.From, err = time.Parse(time.RFC3339, fo.From)
		if err != nil {
			return Override{}, fmt.Errorf("from: %w", err)
		}
	}
	if fo.Until != "" {
		o.Until, err = time.Parse(time.RFC3339, fo.Until)
		if err != nil {
			return Override{}, fmt.Errorf("until: %w", err)
		}
	}
	return o, nil
}
