// Package thermostat implements the per-device controller for paired NGBS
// Icon thermostats.
//
// A Device attaches to its controller through a Feed, applies every result
// it receives (publishing only the capabilities that changed) and turns
// platform commands into controller calls:
//
//	Uninitialized -> Initializing -> Available <-> Unavailable -> Uninitialized
//
// Two feeds exist. BroadcastFeed shares one connection per controller and
// fans whole-controller results out through the broadcaster; PollFeed hangs
// per-thermostat callbacks on the poller. Both keep registry references and
// delivery registrations in lockstep.
package thermostat
