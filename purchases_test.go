package credits_test

import (
	"context"
	"errors"
	"testing"
	"time"

	credits "github.com/radiant/credits"
	"github.com/radiant/credits/config"
	"github.com/radiant/credits/id"
	"github.com/radiant/credits/payment"
	"github.com/radiant/credits/pool"
	"github.com/radiant/credits/purchase"
	"github.com/radiant/credits/store/memory"
	"github.com/radiant/credits/txn"
	"github.com/radiant/credits/types"
)

func TestPurchaseFlow(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", 0)

	pur, err := env.engine.Purchase(ctx, credits.PurchaseParams{
		PoolID:           p.ID,
		UserID:           "alice",
		Credits:          types.Whole(10),
		PaymentMethodRef: "pm_card",
	})
	if err != nil {
		t.Fatalf("Purchase error: %v", err)
	}
	if pur.Status != purchase.StatusCompleted {
		t.Errorf("status: got %s, want completed", pur.Status)
	}
	if pur.PaymentRef == "" {
		t.Error("no payment reference recorded")
	}
	// 10 credits at $10.00 each with the 5% tier: $95.00 and 0.5 bonus.
	if pur.FinalPrice != types.USD(9500) {
		t.Errorf("final price: got %s", pur.FinalPrice)
	}
	if pur.BonusCredits != types.Milli(500) || pur.TotalCredits != types.Milli(10500) {
		t.Errorf("credited quantities: bonus %s, total %s", pur.BonusCredits, pur.TotalCredits)
	}
	if pur.CompletedAt == nil {
		t.Error("completion time not set")
	}

	v := env.balance(t, p.ID)
	if v.Available != types.Milli(10500) {
		t.Errorf("available: got %s, want 10.500", v.Available)
	}
	if v.PurchasedRemaining != types.Whole(10) || v.BonusRemaining != types.Milli(500) {
		t.Errorf("sub-balances: purchased %s, bonus %s", v.PurchasedRemaining, v.BonusRemaining)
	}
	checkInvariant(t, v)

	txns, err := env.engine.ListTransactions(ctx, p.ID, txn.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions error: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("transactions: got %d, want purchase + bonus grant", len(txns))
	}
	var purchaseTxn, bonusTxn *txn.CreditTransaction
	for _, tx := range txns {
		switch tx.Type {
		case txn.TypePurchase:
			purchaseTxn = tx
		case txn.TypeBonusGrant:
			bonusTxn = tx
		}
	}
	if purchaseTxn == nil || bonusTxn == nil {
		t.Fatalf("transaction types: %v, %v", txns[0].Type, txns[1].Type)
	}
	if purchaseTxn.Amount != types.Whole(10) || purchaseTxn.AvailableAfter != types.Whole(10) {
		t.Errorf("purchase transaction: amount %s, after %s", purchaseTxn.Amount, purchaseTxn.AvailableAfter)
	}
	if bonusTxn.Amount != types.Milli(500) || bonusTxn.AvailableAfter != types.Milli(10500) {
		t.Errorf("bonus transaction: amount %s, after %s", bonusTxn.Amount, bonusTxn.AvailableAfter)
	}
	if purchaseTxn.Sequence != bonusTxn.Sequence {
		t.Error("purchase and bonus landed in different commits")
	}
}

func TestPurchaseDeclined(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	env.gateway.err = payment.ErrDeclined
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", 0)

	pur, err := env.engine.Purchase(ctx, credits.PurchaseParams{
		PoolID:           p.ID,
		UserID:           "alice",
		Credits:          types.Whole(10),
		PaymentMethodRef: "pm_card",
	})
	if !errors.Is(err, credits.ErrPaymentFailed) {
		t.Fatalf("got %v, want ErrPaymentFailed", err)
	}
	if pur.Status != purchase.StatusFailed {
		t.Errorf("status: got %s, want failed", pur.Status)
	}
	if pur.FailureReason == "" {
		t.Error("failure reason not recorded")
	}

	v := env.balance(t, p.ID)
	if !v.Available.IsZero() {
		t.Errorf("declined purchase credited the pool: %+v", v)
	}
}

func TestPurchaseWithoutGateway(t *testing.T) {
	catalog := newCatalogStub()
	engine := credits.New(memory.New(), testProvider(t, config.ShortfallGrace),
		credits.WithSubscriptionCatalog(catalog),
	)
	ctx := context.Background()

	p, err := engine.CreatePool(ctx, credits.CreatePoolParams{TenantID: "tenant-1", OwnerID: "alice"})
	if err != nil {
		t.Fatalf("CreatePool error: %v", err)
	}

	pur, err := engine.Purchase(ctx, credits.PurchaseParams{
		PoolID:  p.ID,
		UserID:  "alice",
		Credits: types.Whole(10),
	})
	if !errors.Is(err, credits.ErrPaymentFailed) {
		t.Fatalf("got %v, want ErrPaymentFailed", err)
	}
	if pur.Status != purchase.StatusFailed {
		t.Errorf("status: got %s, want failed", pur.Status)
	}
}

func TestPurchaseMemberChecks(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", 0)

	if _, err := env.engine.Purchase(ctx, credits.PurchaseParams{
		PoolID: p.ID, UserID: "alice", Credits: 0,
	}); !errors.Is(err, credits.ErrInvalidInput) {
		t.Errorf("zero quantity: got %v", err)
	}

	invited, err := env.engine.InviteMember(ctx, p.ID, "alice", "bob", pool.RoleMember, pool.Limits{})
	if err != nil {
		t.Fatalf("InviteMember error: %v", err)
	}
	if _, err := env.engine.Purchase(ctx, credits.PurchaseParams{
		PoolID: p.ID, UserID: "bob", Credits: types.Whole(1),
	}); !errors.Is(err, credits.ErrMemberNotActive) {
		t.Errorf("invited member: got %v", err)
	}

	if _, err := env.engine.AcceptInvite(ctx, invited.ID); err != nil {
		t.Fatalf("AcceptInvite error: %v", err)
	}

	restricted, err := env.engine.InviteMember(ctx, p.ID, "alice", "carol", pool.RoleRestricted, pool.Limits{})
	if err != nil {
		t.Fatalf("InviteMember error: %v", err)
	}
	if _, err := env.engine.AcceptInvite(ctx, restricted.ID); err != nil {
		t.Fatalf("AcceptInvite error: %v", err)
	}
	if _, err := env.engine.Purchase(ctx, credits.PurchaseParams{
		PoolID: p.ID, UserID: "carol", Credits: types.Whole(1),
	}); !errors.Is(err, credits.ErrLimitExceeded) {
		t.Errorf("restricted member: got %v", err)
	}
}

func TestRefundPurchase(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", 0)

	pur, err := env.engine.Purchase(ctx, credits.PurchaseParams{
		PoolID: p.ID, UserID: "alice", Credits: types.Whole(10), PaymentMethodRef: "pm_card",
	})
	if err != nil {
		t.Fatalf("Purchase error: %v", err)
	}

	partial, err := env.engine.RefundPurchase(ctx, pur.ID, types.Whole(4))
	if err != nil {
		t.Fatalf("RefundPurchase error: %v", err)
	}
	if partial.Status != purchase.StatusPartiallyRefunded || partial.RefundedCredits != types.Whole(4) {
		t.Errorf("after partial refund: status %s, refunded %s", partial.Status, partial.RefundedCredits)
	}

	v := env.balance(t, p.ID)
	if v.Available != types.Milli(6500) || v.PurchasedRemaining != types.Whole(6) {
		t.Errorf("after partial refund: available %s, purchased %s", v.Available, v.PurchasedRemaining)
	}
	checkInvariant(t, v)

	full, err := env.engine.RefundPurchase(ctx, pur.ID, types.Whole(6))
	if err != nil {
		t.Fatalf("RefundPurchase error: %v", err)
	}
	if full.Status != purchase.StatusRefunded || full.RefundedCredits != types.Whole(10) {
		t.Errorf("after full refund: status %s, refunded %s", full.Status, full.RefundedCredits)
	}

	v = env.balance(t, p.ID)
	if v.Available != types.Milli(500) || !v.PurchasedRemaining.IsZero() {
		t.Errorf("after full refund: available %s, purchased %s", v.Available, v.PurchasedRemaining)
	}

	if _, err := env.engine.RefundPurchase(ctx, pur.ID, types.Whole(1)); !errors.Is(err, credits.ErrNotRefundable) {
		t.Errorf("refund beyond quantity: got %v", err)
	}

	refunds, err := env.engine.ListTransactions(ctx, p.ID, txn.ListOpts{Types: []txn.Type{txn.TypeRefund}})
	if err != nil {
		t.Fatalf("ListTransactions error: %v", err)
	}
	if len(refunds) != 2 {
		t.Fatalf("refund transactions: got %d, want 2", len(refunds))
	}
	if refunds[0].Amount != -types.Whole(4) || refunds[1].Amount != -types.Whole(6) {
		t.Errorf("refund amounts: %s, %s", refunds[0].Amount, refunds[1].Amount)
	}
}

func TestRefundRefusesConsumedCredits(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", 0)

	pur, err := env.engine.Purchase(ctx, credits.PurchaseParams{
		PoolID: p.ID, UserID: "alice", Credits: types.Whole(10), PaymentMethodRef: "pm_card",
	})
	if err != nil {
		t.Fatalf("Purchase error: %v", err)
	}

	if _, err := env.engine.Reserve(ctx, p.ID, "alice", "req-1", types.Whole(8)); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := env.engine.Settle(ctx, "req-1", types.Whole(8), credits.UsageMeta{}); err != nil {
		t.Fatalf("Settle error: %v", err)
	}

	// 2.5 credits left; a 5-credit refund would claw back spent credits.
	if _, err := env.engine.RefundPurchase(ctx, pur.ID, types.Whole(5)); !errors.Is(err, credits.ErrNotRefundable) {
		t.Errorf("got %v, want ErrNotRefundable", err)
	}

	if _, err := env.engine.RefundPurchase(ctx, pur.ID, types.Milli(2500)); err != nil {
		t.Errorf("refund within remaining balance: %v", err)
	}
}

func TestRefundRejectsFailedPurchase(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	env.gateway.err = payment.ErrDeclined
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", 0)

	pur, _ := env.engine.Purchase(ctx, credits.PurchaseParams{
		PoolID: p.ID, UserID: "alice", Credits: types.Whole(10), PaymentMethodRef: "pm_card",
	})
	if pur == nil {
		t.Fatal("no purchase record returned")
	}

	if _, err := env.engine.RefundPurchase(ctx, pur.ID, types.Whole(1)); !errors.Is(err, credits.ErrNotRefundable) {
		t.Errorf("got %v, want ErrNotRefundable", err)
	}
}

func TestAutoPurchaseTriggersOncePerCrossing(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	// Declined charges keep the latch set, which makes the trigger count
	// deterministic without waiting on the async payment.
	env.gateway.err = payment.ErrDeclined
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", types.Whole(6))

	if _, err := env.engine.SetAutoPurchase(ctx, p.ID, credits.AutoPurchaseParams{
		Enabled:          true,
		Threshold:        types.Whole(5),
		TopUpAmount:      types.Whole(10),
		PaymentMethodRef: "pm_card",
	}); err != nil {
		t.Fatalf("SetAutoPurchase error: %v", err)
	}

	if _, err := env.engine.Reserve(ctx, p.ID, "alice", "req-1", types.Whole(2)); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := env.engine.Settle(ctx, "req-1", types.Whole(2), credits.UsageMeta{}); err != nil {
		t.Fatalf("Settle error: %v", err)
	}

	purchases, err := env.engine.ListPurchases(ctx, p.ID, purchase.ListOpts{})
	if err != nil {
		t.Fatalf("ListPurchases error: %v", err)
	}
	if len(purchases) != 1 || !purchases[0].AutoTriggered {
		t.Fatalf("after first crossing: %d purchases", len(purchases))
	}

	// A further drop below the threshold does not stack a second top-up.
	if _, err := env.engine.Reserve(ctx, p.ID, "alice", "req-2", types.Whole(1)); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := env.engine.Settle(ctx, "req-2", types.Whole(1), credits.UsageMeta{}); err != nil {
		t.Fatalf("Settle error: %v", err)
	}

	purchases, err = env.engine.ListPurchases(ctx, p.ID, purchase.ListOpts{})
	if err != nil {
		t.Fatalf("ListPurchases error: %v", err)
	}
	if len(purchases) != 1 {
		t.Errorf("latched trigger fired again: %d purchases", len(purchases))
	}
}

func TestAutoPurchaseTopsUpAndClearsLatch(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", types.Whole(6))

	if _, err := env.engine.SetAutoPurchase(ctx, p.ID, credits.AutoPurchaseParams{
		Enabled:          true,
		Threshold:        types.Whole(5),
		TopUpAmount:      types.Whole(10),
		PaymentMethodRef: "pm_card",
	}); err != nil {
		t.Fatalf("SetAutoPurchase error: %v", err)
	}

	if _, err := env.engine.Reserve(ctx, p.ID, "alice", "req-1", types.Whole(2)); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := env.engine.Settle(ctx, "req-1", types.Whole(2), credits.UsageMeta{}); err != nil {
		t.Fatalf("Settle error: %v", err)
	}

	// The top-up charge runs off the settlement path; wait for it to land.
	deadline := time.Now().Add(3 * time.Second)
	for {
		v := env.balance(t, p.ID)
		if v.Available == types.Milli(14500) {
			if v.PurchasedRemaining != types.Whole(10) || v.BonusRemaining != types.Milli(500) {
				t.Errorf("top-up sub-balances: %+v", v)
			}
			if !v.AutoPurchaseArmed {
				t.Error("latch not cleared after the balance recovered")
			}
			checkInvariant(t, v)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("top-up never landed: available %s", v.Available)
		}
		time.Sleep(10 * time.Millisecond)
	}

	purchases, err := env.engine.ListPurchases(ctx, p.ID, purchase.ListOpts{Status: purchase.StatusCompleted})
	if err != nil {
		t.Fatalf("ListPurchases error: %v", err)
	}
	if len(purchases) != 1 || !purchases[0].AutoTriggered {
		t.Fatalf("completed auto purchases: got %d", len(purchases))
	}
}

func TestAutoPurchaseRefiresWhenTopUpStaysBelowThreshold(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", types.Whole(10))

	// A 1-credit top-up cannot close the gap to the 8-credit threshold;
	// each completed purchase must release the latch so the next
	// settlement can fire again.
	if _, err := env.engine.SetAutoPurchase(ctx, p.ID, credits.AutoPurchaseParams{
		Enabled:          true,
		Threshold:        types.Whole(8),
		TopUpAmount:      types.Whole(1),
		PaymentMethodRef: "pm_card",
	}); err != nil {
		t.Fatalf("SetAutoPurchase error: %v", err)
	}

	if _, err := env.engine.Reserve(ctx, p.ID, "alice", "req-1", types.Whole(5)); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := env.engine.Settle(ctx, "req-1", types.Whole(5), credits.UsageMeta{}); err != nil {
		t.Fatalf("Settle error: %v", err)
	}

	waitForAvailable(t, env, p.ID, types.Whole(6))
	v := env.balance(t, p.ID)
	if !v.AutoPurchaseArmed {
		t.Fatal("latch still set after the top-up completed below threshold")
	}

	if _, err := env.engine.Reserve(ctx, p.ID, "alice", "req-2", types.Whole(1)); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := env.engine.Settle(ctx, "req-2", types.Whole(1), credits.UsageMeta{}); err != nil {
		t.Fatalf("Settle error: %v", err)
	}

	waitForAvailable(t, env, p.ID, types.Whole(6))
	completed, err := env.engine.ListPurchases(ctx, p.ID, purchase.ListOpts{Status: purchase.StatusCompleted})
	if err != nil {
		t.Fatalf("ListPurchases error: %v", err)
	}
	if len(completed) != 2 {
		t.Errorf("completed top-ups: got %d, want 2", len(completed))
	}
}

func waitForAvailable(t *testing.T, env *testEnv, poolID id.PoolID, want types.Credits) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		v := env.balance(t, poolID)
		if v.Available == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("balance never reached %s, have %s", want, v.Available)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSweeperReplaysStalledPurchase(t *testing.T) {
	st := memory.New()
	catalog := newCatalogStub()
	engine := credits.New(st, testProvider(t, config.ShortfallGrace),
		credits.WithSubscriptionCatalog(catalog),
		credits.WithSweepConfig(10*time.Millisecond, 100),
	)
	ctx := context.Background()

	p, err := engine.CreatePool(ctx, credits.CreatePoolParams{TenantID: "tenant-1", OwnerID: "alice"})
	if err != nil {
		t.Fatalf("CreatePool error: %v", err)
	}

	// A purchase whose payment was captured but whose credit never landed:
	// processing, carrying a gateway reference, last touched long ago.
	stalled := &purchase.CreditPurchase{
		Entity:           types.NewEntity(),
		ID:               id.NewPurchaseID(),
		PoolID:           p.ID,
		UserID:           "alice",
		TenantID:         "tenant-1",
		Status:           purchase.StatusProcessing,
		RequestedCredits: types.Whole(10),
		BonusCredits:     types.Milli(500),
		TotalCredits:     types.Milli(10500),
		BasePrice:        types.USD(10000),
		Discount:         types.USD(500),
		FinalPrice:       types.USD(9500),
		PaymentRef:       "pay_recovered",
	}
	stalled.UpdatedAt = time.Now().Add(-time.Hour)
	if err := st.CreatePurchase(ctx, stalled); err != nil {
		t.Fatalf("CreatePurchase error: %v", err)
	}

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			t.Errorf("Stop error: %v", err)
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		completed, err := engine.ListPurchases(ctx, p.ID, purchase.ListOpts{Status: purchase.StatusCompleted})
		if err != nil {
			t.Fatalf("ListPurchases error: %v", err)
		}
		if len(completed) == 1 {
			if completed[0].PaymentRef != "pay_recovered" {
				t.Errorf("payment ref: got %q", completed[0].PaymentRef)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stalled purchase never replayed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	v, err := engine.GetBalance(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if v.Available != types.Milli(10500) || v.PurchasedRemaining != types.Whole(10) {
		t.Errorf("replayed credit: %+v", v)
	}
}

func TestAutoPurchaseMonthlySpendCap(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", types.Whole(6))

	// The cap is below the $95.00 top-up price, so the trigger never fires.
	if _, err := env.engine.SetAutoPurchase(ctx, p.ID, credits.AutoPurchaseParams{
		Enabled:          true,
		Threshold:        types.Whole(5),
		TopUpAmount:      types.Whole(10),
		MonthlySpendCap:  types.USD(5000),
		PaymentMethodRef: "pm_card",
	}); err != nil {
		t.Fatalf("SetAutoPurchase error: %v", err)
	}

	if _, err := env.engine.Reserve(ctx, p.ID, "alice", "req-1", types.Whole(2)); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := env.engine.Settle(ctx, "req-1", types.Whole(2), credits.UsageMeta{}); err != nil {
		t.Fatalf("Settle error: %v", err)
	}

	purchases, err := env.engine.ListPurchases(ctx, p.ID, purchase.ListOpts{})
	if err != nil {
		t.Fatalf("ListPurchases error: %v", err)
	}
	if len(purchases) != 0 {
		t.Errorf("capped trigger created %d purchases", len(purchases))
	}
	if env.gateway.chargeCount() != 0 {
		t.Errorf("gateway charged %d times", env.gateway.chargeCount())
	}
}

func TestSetAutoPurchaseValidation(t *testing.T) {
	env := newTestEnv(t, config.ShortfallGrace)
	ctx := context.Background()
	p := env.newFundedPool(t, "alice", 0)

	tests := []struct {
		name   string
		params credits.AutoPurchaseParams
	}{
		{"missing threshold", credits.AutoPurchaseParams{Enabled: true, TopUpAmount: types.Whole(10), PaymentMethodRef: "pm"}},
		{"missing top-up", credits.AutoPurchaseParams{Enabled: true, Threshold: types.Whole(5), PaymentMethodRef: "pm"}},
		{"missing payment method", credits.AutoPurchaseParams{Enabled: true, Threshold: types.Whole(5), TopUpAmount: types.Whole(10)}},
		{"spend cap currency mismatch", credits.AutoPurchaseParams{
			Enabled:          true,
			Threshold:        types.Whole(5),
			TopUpAmount:      types.Whole(10),
			MonthlySpendCap:  types.EUR(5000),
			PaymentMethodRef: "pm",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.engine.SetAutoPurchase(ctx, p.ID, tt.params); !errors.Is(err, credits.ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}

	// Disabling clears the latch and needs no other fields.
	if _, err := env.engine.SetAutoPurchase(ctx, p.ID, credits.AutoPurchaseParams{}); err != nil {
		t.Errorf("disable: %v", err)
	}
}
