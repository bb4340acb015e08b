// Package ngbs is the boundary to NGBS Icon controllers.
//
// It exposes a small Client interface (state query plus per-thermostat
// setters) and two thin transport adapters selected by address scheme:
//
//	modbus-tcp:192.168.1.20         Modbus-TCP holding registers
//	service://123456789@192.168.1.20 vendor service protocol (JSON lines)
//
// Every failure crossing this boundary can be normalised with AsError into
// an *Error carrying a classification code, which callers use for
// availability messages and localised pairing errors.
//
// The Modbus register layout in modbus.go is a placeholder until the vendor
// map is available. Writes through the Modbus adapter go to those
// placeholder offsets, so do not use it against production hardware yet.
//
// Dial never performs I/O; connections are opened lazily on the first
// request, so clients can be created under a lock.
package ngbs
