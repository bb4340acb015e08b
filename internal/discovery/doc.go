// Package discovery finds NGBS Icon controllers on the local network.
//
// The scanner takes the first IPv4 address of an up, non-loopback
// interface, probes hosts 1..254 of its /24 in concurrent batches with a
// system id query and stops at the first controller that answers.
// Progress is reported after every batch and reset to Indeterminate when
// the scan ends.
package discovery
