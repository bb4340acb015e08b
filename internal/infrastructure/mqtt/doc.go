// Package mqtt connects the bridge to its MQTT broker.
//
// The broker is the bridge's platform surface. Every topic lives under a
// configurable prefix (mqtt.topic_prefix, "ngbs" by default):
//
//	{prefix}/state/{device_id}/{capability}    retained values
//	{prefix}/options/{device_id}/{capability}  retained options (target range)
//	{prefix}/availability/{device_id}          retained availability
//	{prefix}/command/{device_id}               commands in
//	{prefix}/ack/{device_id}                   command acks out
//	{prefix}/request/{id}, {prefix}/response/{id}
//	{prefix}/health                            retained bridge health
//	{prefix}/system/status                     online/offline, Last Will
//
// Topics builds and parses these names and decides which are retained.
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1, handle)
package mqtt
