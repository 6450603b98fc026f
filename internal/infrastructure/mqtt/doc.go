// Package mqtt connects the lab process to an MQTT broker.
//
// The broker is an optional side channel: run files on disk stay
// authoritative, and a broker outage never stops a run. The client
// publishes run progress under nmrlab/run/{active,repeat,conditions,complete},
// keeps a retained online/offline status with an LWT on nmrlab/system/status,
// and listens on nmrlab/run/abort for operator abort requests.
//
// Reconnection uses paho's auto-reconnect with backoff between
// reconnect.initial_delay and reconnect.max_delay seconds. Subscriptions are
// restored after every reconnect.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.RunComplete(), completion, true)
package mqtt
