// Package mqtt provides the broker connection used by the miio bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect, bounded by
//     reconnect.max_attempts (ErrReconnectExhausted via SetOnGiveUp)
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - An optional Last Will and Testament supplied by the caller
//
// The bridge registers its offline health message as the will so that
// subscribers to graylogic/health/miio learn about a crash from the broker:
//
//	will := &mqtt.Will{Topic: "graylogic/health/miio", Payload: lwt, QoS: 1, Retained: true}
//	client, err := mqtt.Connect(cfg.MQTT, will)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// # Security Considerations
//
//   - TLS should be enabled outside development (cfg.Broker.TLS=true)
//   - Credentials are best supplied via MIIO_BRIDGE_MQTT_USERNAME/PASSWORD
//   - Payloads never carry device tokens
package mqtt
