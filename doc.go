// Package relayhub receives webhooks from third-party senders, verifies their
// HMAC signatures, stores every accepted event and forwards it to a
// downstream HTTP target.
//
// Failed deliveries land in a dead letter queue with one entry per event.
// Entries are replayed by hand, in batches, or by the optional sweeper, and
// every replay passes through a guard that skips events delivered recently
// and spaces out repeated attempts.
//
// Signature verification is configured per source with templates. The
// built-in sources are github (X-Hub-Signature-256, "sha256=<hex>"), stripe
// (Stripe-Signature, "t=<ts>,v1=<hex>") and custom (X-Signature, bare hex).
// Further sources can be registered at runtime and use the custom scheme.
//
// Quick start:
//
//	hub, err := relayhub.New(
//	    relayhub.WithStore(memory.New()),
//	    relayhub.WithForwardURL("https://internal.example.com/hooks"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	hub.Start(ctx)
//	defer hub.Stop(ctx)
//
//	res, err := hub.Ingest(ctx, "github", body, headers)
package relayhub
