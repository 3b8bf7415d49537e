/*
Package events provides an in-memory event broker for libra's pod,
container and compose lifecycle notifications.

It is a non-blocking, topic-agnostic pub/sub bus: every Publish reaches
every current Subscribe channel (buffer 50, dropped if full) via a single
broadcast loop fed by a buffered event channel (buffer 100). PTM, CTM, CT
and the reconciler publish; consumers attach through Subscribe.

	broker := events.NewBroker()
	broker.Start()
	sub := broker.Subscribe()
	for ev := range sub {
		...
	}
*/
package events
