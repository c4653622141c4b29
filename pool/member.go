package pool

import (
	"time"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/types"
)

// Role is a member's permission level within a pool.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleMember     Role = "member"
	RoleRestricted Role = "restricted"
)

// MemberStatus is the lifecycle status of a membership.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberInvited   MemberStatus = "invited"
	MemberSuspended MemberStatus = "suspended"
	MemberRemoved   MemberStatus = "removed"
)

// Member is a user's membership in a credit pool, carrying spend limits
// and running usage counters. Counters are updated in the same atomic
// commit as settlement so they never drift from the ledger.
type Member struct {
	types.Entity
	ID     id.MemberID  `json:"id"`
	PoolID id.PoolID    `json:"pool_id"`
	UserID string       `json:"user_id"`
	Role   Role         `json:"role"`
	Status MemberStatus `json:"status"`

	Limits   Limits   `json:"limits"`
	Counters Counters `json:"counters"`

	InvitedAt  time.Time  `json:"invited_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// Limits are optional per-member spend restrictions. Zero means unlimited.
type Limits struct {
	MaxCostPerRequest types.Credits `json:"max_cost_per_request"`
	DailyCap          types.Credits `json:"daily_cap"`
	MonthlyCap        types.Credits `json:"monthly_cap"`
}

// Counters track a member's settled consumption over rolling windows.
type Counters struct {
	Today      types.Credits `json:"today"`
	Week       types.Credits `json:"week"`
	Month      types.Credits `json:"month"`
	AllTime    types.Credits `json:"all_time"`
	DayStart   time.Time     `json:"day_start"`
	WeekStart  time.Time     `json:"week_start"`
	MonthStart time.Time     `json:"month_start"`
}

// Roll resets any counter whose window has elapsed relative to now.
func (c *Counters) Roll(now time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if c.DayStart.Before(day) {
		c.Today = 0
		c.DayStart = day
	}

	week := day.AddDate(0, 0, -int((day.Weekday()+6)%7)) // Monday
	if c.WeekStart.Before(week) {
		c.Week = 0
		c.WeekStart = week
	}

	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if c.MonthStart.Before(month) {
		c.Month = 0
		c.MonthStart = month
	}
}

// Record adds a settled cost to every window counter.
func (c *Counters) Record(cost types.Credits, now time.Time) {
	c.Roll(now)
	c.Today += cost
	c.Week += cost
	c.Month += cost
	c.AllTime += cost
}

// Denial explains why a limit check refused an operation.
type Denial string

const (
	DenialNone          Denial = ""
	DenialNotActive     Denial = "member_not_active"
	DenialPerRequestCap Denial = "max_cost_per_request_exceeded"
	DenialDailyCap      Denial = "daily_cap_exceeded"
	DenialMonthlyCap    Denial = "monthly_cap_exceeded"
)

// CheckLimits verifies a member may spend estimatedCost right now.
// The check is advisory at reservation time — the ledger remains the
// final authority on available funds.
func (m *Member) CheckLimits(estimatedCost types.Credits, now time.Time) Denial {
	if m.Status != MemberActive {
		return DenialNotActive
	}

	if m.Limits.MaxCostPerRequest > 0 && estimatedCost > m.Limits.MaxCostPerRequest {
		return DenialPerRequestCap
	}

	c := m.Counters
	c.Roll(now)
	if m.Limits.DailyCap > 0 && c.Today+estimatedCost > m.Limits.DailyCap {
		return DenialDailyCap
	}
	if m.Limits.MonthlyCap > 0 && c.Month+estimatedCost > m.Limits.MonthlyCap {
		return DenialMonthlyCap
	}

	return DenialNone
}

// Clone returns a deep copy safe to mutate during a read-modify-write cycle.
func (m *Member) Clone() *Member {
	cp := *m
	if m.AcceptedAt != nil {
		t := *m.AcceptedAt
		cp.AcceptedAt = &t
	}
	return &cp
}
