// Package api serves the HTTP interface of the NGBS Icon bridge.
//
// Routes under /api/v1:
//
//	GET    /health                          bridge status
//	GET    /devices                         paired devices (?kind=, ?address=)
//	POST   /devices                         pair and start a device
//	GET    /devices/stats                   registry statistics
//	GET    /devices/{id}                    one device
//	PATCH  /devices/{id}                    rename
//	DELETE /devices/{id}                    stop and unpair
//	PUT    /devices/{id}/settings           change the host override
//	GET    /devices/{id}/live               running capability values
//	POST   /devices/{id}/commands           set a capability
//	POST   /pairing/sessions                start a pairing wizard
//	GET    /pairing/sessions/{id}           collected input
//	PUT    /pairing/sessions/{id}/address   controller host
//	PUT    /pairing/sessions/{id}/sysid     controller system id
//	POST   /pairing/sessions/{id}/prefill   scan and preset address
//	GET    /pairing/sessions/{id}/prefill/ws  same, streaming progress
//	GET    /pairing/sessions/{id}/devices   thermostats on the controller
//	POST   /pairing/sessions/{id}/devices   pair the selected thermostats
//	POST   /discovery/scan                  look for a controller
//	GET    /discovery/ws                    same, streaming progress
//
// /metrics exposes the Prometheus registry when one is configured.
//
// Errors are returned as {"status", "code", "message", "reason"}; reason
// carries the controller classification (timeout, unreachable, ...) for
// failures that came from a controller.
package api
