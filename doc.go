// Package credits provides a prepaid credit ledger for AI inference
// workloads, designed as a library rather than a service.
//
// Users hold balances in shared credit pools, every balance movement is
// an immutable ledger transaction, and in-flight requests hold funds
// through a reserve → settle/release protocol so concurrent usage can
// never overdraw a pool. It provides:
//
//   - Shared pools with included, bonus and purchased sub-balances
//   - Two-phase reservations keyed by idempotent request IDs
//   - An append-only, replayable transaction ledger per pool
//   - Volume-discounted purchases with pluggable payment gateways
//   - Threshold-based auto-purchase with a once-per-crossing latch
//   - Per-member roles, limits and rolling usage counters
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/radiant/credits"
//	    "github.com/radiant/credits/config"
//	    "github.com/radiant/credits/store/postgres"
//	)
//
//	st, err := postgres.New(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg, err := config.LoadFile("credits.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := credits.New(st, cfg)
//
//	// Start the engine (migrates the store, begins background workers)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Serving a request
//
// Reserve an estimate before dispatching work, then settle the metered
// cost, or release on failure:
//
//	res, err := engine.Reserve(ctx, poolID, userID, requestID, estimate)
//	if err != nil {
//	    // credits.IsInsufficientFunds(err), limit denials, ...
//	}
//
//	result, err := engine.Settle(ctx, requestID, actualCost, credits.UsageMeta{
//	    Model:        "sonnet",
//	    InputTokens:  in,
//	    OutputTokens: out,
//	})
//
// Both calls are idempotent per request ID: retried settlements replay
// the recorded outcome instead of charging twice.
//
// # Balances
//
// A pool's available credits come from three sources, consumed in
// included → bonus → purchased order. The pool invariant
//
//	available + reserved == included + bonus + purchased
//
// holds after every commit; each commit appends its transactions and
// mutates the balance atomically under an optimistic version check.
package credits
