package types

import "testing"

func TestCreditsConstructors(t *testing.T) {
	tests := []struct {
		name    string
		credits Credits
		milli   int64
		display string
	}{
		{"Whole", Whole(5), 5000, "5.000"},
		{"Milli", Milli(3200), 3200, "3.200"},
		{"Zero", Whole(0), 0, "0.000"},
		{"One milli", Milli(1), 1, "0.001"},
		{"Negative", Whole(-2), -2000, "-2.000"},
		{"Mixed", Whole(10) + Milli(500), 10500, "10.500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.credits.Milli() != tt.milli {
				t.Errorf("Milli: got %d, want %d", tt.credits.Milli(), tt.milli)
			}
			if tt.credits.String() != tt.display {
				t.Errorf("String: got %s, want %s", tt.credits.String(), tt.display)
			}
		})
	}
}

func TestParseCredits(t *testing.T) {
	tests := []struct {
		input   string
		want    Credits
		wantErr bool
	}{
		{"10", Whole(10), false},
		{"3.2", Milli(3200), false},
		{"0.001", Milli(1), false},
		{"0.5", Milli(500), false},
		{"-1.25", Milli(-1250), false},
		{"10.500", Milli(10500), false},
		{"1.2345", 0, true},
		{"abc", 0, true},
		{"1.x", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCredits(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCreditsTextRoundTrip(t *testing.T) {
	for _, c := range []Credits{Whole(0), Milli(1), Whole(5), Milli(3200), Whole(-7) - Milli(42)} {
		t.Run(c.String(), func(t *testing.T) {
			data, err := c.MarshalText()
			if err != nil {
				t.Fatalf("MarshalText error: %v", err)
			}
			var back Credits
			if err := back.UnmarshalText(data); err != nil {
				t.Fatalf("UnmarshalText error: %v", err)
			}
			if back != c {
				t.Errorf("round trip: got %s, want %s", back, c)
			}
		})
	}
}

func TestCreditsMinMax(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Credits
		min, max Credits
	}{
		{"First smaller", Whole(1), Whole(2), Whole(1), Whole(2)},
		{"Second smaller", Whole(2), Whole(1), Whole(1), Whole(2)},
		{"Equal", Whole(3), Whole(3), Whole(3), Whole(3)},
		{"Negative", Whole(-1), Whole(1), Whole(-1), Whole(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Min(tt.b); got != tt.min {
				t.Errorf("Min: got %s, want %s", got, tt.min)
			}
			if got := tt.a.Max(tt.b); got != tt.max {
				t.Errorf("Max: got %s, want %s", got, tt.max)
			}
		})
	}
}

func TestCreditsPredicates(t *testing.T) {
	tests := []struct {
		name       string
		credits    Credits
		isZero     bool
		isPositive bool
		isNegative bool
	}{
		{"Zero", 0, true, false, false},
		{"Positive", Milli(1), false, true, false},
		{"Negative", Milli(-1), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.credits.IsZero(); got != tt.isZero {
				t.Errorf("IsZero: got %v, want %v", got, tt.isZero)
			}
			if got := tt.credits.IsPositive(); got != tt.isPositive {
				t.Errorf("IsPositive: got %v, want %v", got, tt.isPositive)
			}
			if got := tt.credits.IsNegative(); got != tt.isNegative {
				t.Errorf("IsNegative: got %v, want %v", got, tt.isNegative)
			}
		})
	}
}

func TestCreditsScaleBps(t *testing.T) {
	tests := []struct {
		name    string
		credits Credits
		bps     int64
		want    Credits
	}{
		{"Five percent bonus", Whole(10), 500, Milli(500)},
		{"Ten percent", Whole(100), 1000, Whole(10)},
		{"Full rate", Whole(7), 10000, Whole(7)},
		{"Zero rate", Whole(7), 0, 0},
		{"Truncates toward zero", Milli(1), 500, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.credits.ScaleBps(tt.bps); got != tt.want {
				t.Errorf("ScaleBps: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCreditsAbs(t *testing.T) {
	if got := Whole(-5).Abs(); got != Whole(5) {
		t.Errorf("Abs: got %s, want %s", got, Whole(5))
	}
	if got := Whole(5).Abs(); got != Whole(5) {
		t.Errorf("Abs: got %s, want %s", got, Whole(5))
	}
}
