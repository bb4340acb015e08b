// Package clients implements the reference-counted controller client registry.
//
// Several paired thermostats usually sit behind one physical controller.
// The registry makes them share a single connection keyed by address:
//
//	c, err := reg.Register("service://123456@192.168.1.20") // users=1, dialled
//	c2, _ := reg.Register("service://123456@192.168.1.20")  // users=2, same client
//	reg.Unregister(addr)                                    // users=1
//	reg.Unregister(addr)                                    // closed, removed
//
// Registrations and releases must always be paired; releasing an address
// that was never registered fails with ErrUnknownAddress and changes nothing.
package clients
