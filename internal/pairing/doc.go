// Package pairing implements the pairing flow for NGBS Icon thermostats.
//
// A Session collects the controller host (and, for the service protocol,
// its system id), optionally prefilled by a network scan, then lists the
// controller's thermostats as pairing candidates. Failures carry a
// user-facing message looked up in the embedded locale catalog under
// pair.address.errors.<code>.
package pairing
