package mqtt

import "fmt"

// Topic prefixes for SmartAuth.
const (
	// TopicPrefix is the base of every SmartAuth topic and also the default
	// onboarding queue topic.
	TopicPrefix = "smartauth"

	// TopicPrefixSystem is the base for service status topics.
	TopicPrefixSystem = "smartauth/system"
)

// Topics provides builders for SmartAuth MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.RegistrationQueue() // "smartauth"
//	topics.DeadLetter()        // "smartauth/deadletter"
type Topics struct{}

// RegistrationQueue is the topic the citizen registry publishes onboarding
// events to.
func (Topics) RegistrationQueue() string {
	return TopicPrefix
}

// DeadLetter receives envelopes for events the bridge could not process.
func (Topics) DeadLetter() string {
	return fmt.Sprintf("%s/deadletter", TopicPrefix)
}

// SystemStatus carries the retained online/offline status of the service.
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTopics matches every SmartAuth topic. Intended for debugging.
func (Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", TopicPrefix)
}
