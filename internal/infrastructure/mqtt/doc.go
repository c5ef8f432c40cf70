// Package mqtt provides MQTT client connectivity for Sandman Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Sandman uses MQTT as the remote-control surface for the bed: network
// clients publish commands to the bed's set topics and observe retained
// state topics.
//
//	Remote client ↔ MQTT Broker ↔ Sandman Core (this process)
//
// # Security Considerations
//
//   - TLS is recommended for anything beyond a trusted LAN (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	topics := mqtt.Topics{Bed: cfg.Bed.ID}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllSets(), 1,
//	    func(topic string, payload []byte) error {
//	        // decode command
//	        return nil
//	    })
package mqtt
