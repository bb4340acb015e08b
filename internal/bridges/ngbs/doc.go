// Package ngbs runs paired NGBS Icon thermostats and exposes them on MQTT.
//
// The bridge owns one thermostat.Device per paired device. Each device
// publishes through a capability sink that writes retained messages and
// mirrors values and availability into the device store.
//
// # Topics
//
// Topics sit under the broker prefix (mqtt.topic_prefix, "ngbs" by default)
// and are taken from the MQTT client:
//
//	{prefix}/state/{device_id}/{capability}   retained capability value
//	{prefix}/options/{device_id}/{capability} retained capability options
//	{prefix}/availability/{device_id}         retained availability
//	{prefix}/command/{device_id}              commands in
//	{prefix}/ack/{device_id}                  acknowledgments out
//	{prefix}/request/{request_id}             requests in
//	{prefix}/response/{request_id}            responses out
//	{prefix}/health                           retained bridge health
//
// # Commands
//
//	{"id": "c1", "command": "set_target", "parameters": {"target": 21.5}}
//	{"id": "c2", "command": "set_mode", "parameters": {"mode": "heat"}}
//	{"id": "c3", "command": "set_eco", "parameters": {"eco": true}}
//	{"id": "c4", "command": "set_parental_lock", "parameters": {"locked": false}}
//
// Every command is acknowledged with status accepted, failed or timeout.
//
// # Requests
//
// read_state (device_id), read_all, and update_settings (device_id,
// parameters.host). A settings change first moves the running device to the
// new host; when the controller there does not answer nothing is stored,
// and when storing fails the device moves back.
package ngbs
