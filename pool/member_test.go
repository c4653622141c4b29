package pool

import (
	"testing"
	"time"

	"github.com/radiant/credits/types"
)

func activeMember(limits Limits) *Member {
	return &Member{
		UserID: "user-1",
		Role:   RoleMember,
		Status: MemberActive,
		Limits: limits,
	}
}

func TestCheckLimits(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		member *Member
		cost   types.Credits
		want   Denial
	}{
		{
			name:   "no limits",
			member: activeMember(Limits{}),
			cost:   types.Whole(1000),
			want:   DenialNone,
		},
		{
			name: "suspended member",
			member: func() *Member {
				m := activeMember(Limits{})
				m.Status = MemberSuspended
				return m
			}(),
			cost: types.Whole(1),
			want: DenialNotActive,
		},
		{
			name: "invited member",
			member: func() *Member {
				m := activeMember(Limits{})
				m.Status = MemberInvited
				return m
			}(),
			cost: types.Whole(1),
			want: DenialNotActive,
		},
		{
			name:   "under per-request cap",
			member: activeMember(Limits{MaxCostPerRequest: types.Whole(5)}),
			cost:   types.Whole(5),
			want:   DenialNone,
		},
		{
			name:   "over per-request cap",
			member: activeMember(Limits{MaxCostPerRequest: types.Whole(5)}),
			cost:   types.Whole(5) + types.Milli(1),
			want:   DenialPerRequestCap,
		},
		{
			name: "over daily cap with prior spend",
			member: func() *Member {
				m := activeMember(Limits{DailyCap: types.Whole(10)})
				m.Counters.Record(types.Whole(8), now)
				return m
			}(),
			cost: types.Whole(3),
			want: DenialDailyCap,
		},
		{
			name: "over monthly cap with prior spend",
			member: func() *Member {
				m := activeMember(Limits{MonthlyCap: types.Whole(100)})
				m.Counters.Record(types.Whole(99), now)
				return m
			}(),
			cost: types.Whole(2),
			want: DenialMonthlyCap,
		},
		{
			name: "daily counter rolled over",
			member: func() *Member {
				m := activeMember(Limits{DailyCap: types.Whole(10)})
				m.Counters.Record(types.Whole(9), now.AddDate(0, 0, -1))
				return m
			}(),
			cost: types.Whole(3),
			want: DenialNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.member.CheckLimits(tt.cost, now); got != tt.want {
				t.Errorf("CheckLimits: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCountersRoll(t *testing.T) {
	var c Counters

	// Wednesday.
	day1 := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)
	c.Record(types.Whole(5), day1)

	if c.Today != types.Whole(5) || c.Week != types.Whole(5) || c.Month != types.Whole(5) {
		t.Fatalf("after first record: %+v", c)
	}

	// Next day, same week.
	day2 := day1.AddDate(0, 0, 1)
	c.Record(types.Whole(2), day2)
	if c.Today != types.Whole(2) {
		t.Errorf("daily counter should reset: got %s", c.Today)
	}
	if c.Week != types.Whole(7) {
		t.Errorf("weekly counter should accumulate: got %s", c.Week)
	}

	// Next Monday.
	day3 := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	c.Record(types.Whole(1), day3)
	if c.Week != types.Whole(1) {
		t.Errorf("weekly counter should reset on Monday: got %s", c.Week)
	}
	if c.Month != types.Whole(8) {
		t.Errorf("monthly counter should accumulate: got %s", c.Month)
	}

	// Next month.
	day4 := time.Date(2026, 9, 1, 0, 30, 0, 0, time.UTC)
	c.Record(types.Whole(4), day4)
	if c.Month != types.Whole(4) {
		t.Errorf("monthly counter should reset: got %s", c.Month)
	}
	if c.AllTime != types.Whole(12) {
		t.Errorf("all-time counter never resets: got %s", c.AllTime)
	}
}

func TestPoolCheckInvariant(t *testing.T) {
	tests := []struct {
		name string
		pool CreditPool
		want bool
	}{
		{
			name: "balanced",
			pool: CreditPool{
				Available:          types.Whole(7),
				Reserved:           types.Whole(3),
				IncludedRemaining:  types.Whole(4),
				BonusRemaining:     types.Whole(1),
				PurchasedRemaining: types.Whole(5),
			},
			want: true,
		},
		{
			name: "empty",
			pool: CreditPool{},
			want: true,
		},
		{
			name: "sources do not cover",
			pool: CreditPool{
				Available:         types.Whole(5),
				IncludedRemaining: types.Whole(4),
			},
			want: false,
		},
		{
			name: "negative available",
			pool: CreditPool{
				Available:          types.Whole(-1),
				PurchasedRemaining: types.Whole(-1),
			},
			want: false,
		},
		{
			name: "negative source",
			pool: CreditPool{
				Available:          types.Whole(1),
				IncludedRemaining:  types.Whole(2),
				PurchasedRemaining: types.Whole(-1),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pool.CheckInvariant(); got != tt.want {
				t.Errorf("CheckInvariant: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPoolView(t *testing.T) {
	p := CreditPool{
		Available:         types.Whole(7),
		Reserved:          types.Whole(3),
		IncludedRemaining: types.Whole(10),
		AutoPurchase:      AutoPurchase{Enabled: true},
		Version:           42,
	}

	v := p.View()
	if v.Available != types.Whole(7) || v.Reserved != types.Whole(3) {
		t.Errorf("balances: %+v", v)
	}
	if !v.AutoPurchaseArmed {
		t.Error("auto purchase should be armed")
	}
	if v.Version != 42 {
		t.Errorf("version: got %d", v.Version)
	}

	p.AutoPurchase.Triggered = true
	if p.View().AutoPurchaseArmed {
		t.Error("latched auto purchase should not be armed")
	}
}

func TestPoolCloneIsDeep(t *testing.T) {
	closed := time.Now()
	p := &CreditPool{
		Metadata: map[string]string{"team": "core"},
		ClosedAt: &closed,
	}

	cp := p.Clone()
	cp.Metadata["team"] = "other"
	*cp.ClosedAt = closed.Add(time.Hour)

	if p.Metadata["team"] != "core" {
		t.Error("clone shares metadata map")
	}
	if !p.ClosedAt.Equal(closed) {
		t.Error("clone shares ClosedAt pointer")
	}
}
