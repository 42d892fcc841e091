// Package mqtt provides MQTT client connectivity for SmartAuth.
//
// The citizen registry announces new citizens on the broker; SmartAuth
// consumes those events and publishes dead letters and its own status.
//
// This package manages:
//   - Connection to the broker with auto-reconnect once established
//   - Manual acknowledgement: a message is acked only after its handler succeeds
//   - In-order delivery on a single goroutine
//   - Persistent sessions (clean_session: false) so un-acked events survive restarts
//   - Last Will and Testament (LWT) on smartauth/system/status
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.RegistrationQueue(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload) // nil acks, error leaves it for redelivery
//	    })
package mqtt
