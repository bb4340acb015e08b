// Package broadcast fans controller results out to every device interested
// in an address.
//
// Both successful states and failures are published, so subscribers can
// tell "the controller failed" apart from "nothing fetched yet":
//
//	sub := b.Subscribe(addr, func(r broadcast.Result) { ... })
//	defer sub.Unsubscribe()
//	b.Publish(addr, broadcast.OK(state))
//
// There is no buffering or replay. A subscriber that joins after a publish
// misses it and must fetch the current state itself.
package broadcast
