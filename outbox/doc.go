// Package outbox delivers cross-service messages if and only if the
// transaction that sent them commits.
//
// Coordinator.SendWithinTransaction validates the argument against the
// target function, persists a Message on the chain's session and returns.
// A commit hook marks the transaction's messages eligible once the store
// has committed. SQLStore keeps messages in a table of a SQL store and
// MongoStore in a collection. The Relay then publishes eligible messages
// at least once:
//
//	relay, err := outbox.NewRelay(store, publisher, outbox.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	go relay.Run(ctx)
//
// Consumers must be idempotent. The redisdedupe package keeps track of
// the message ids a consumer has already handled.
package outbox
