// Package mqtt connects fleetsim to an MQTT broker.
//
// The broker is an optional second front door to the simulator:
//
//	publisher ──► fleetsim/ota/{channel} ──► simulator.PostToChannel
//	simulator ──► fleetsim/node/{uuid}/state        (retained)
//	          ──► fleetsim/endpoint/{serial}/state  (retained)
//	          ──► fleetsim/event/{kind}
//	          ──► fleetsim/system/status            (retained, LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllOTAChannels(), 1, handler)
//
// Handlers run on paho goroutines with panic recovery. Subscriptions are
// restored after reconnect.
package mqtt
