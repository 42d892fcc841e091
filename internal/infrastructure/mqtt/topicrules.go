package mqtt

import (
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit on a UTF-8 encoded topic.
const maxTopicLength = 65535

// validateTopic applies the MQTT topic rules. Filters may use the + and #
// wildcards as whole levels, # only last; topic names used for publishing
// may not use them at all.
func validateTopic(topic string, filter bool) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	case len(topic) > maxTopicLength:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidTopic, len(topic), maxTopicLength)
	case strings.ContainsRune(topic, 0):
		return fmt.Errorf("%w: contains NUL", ErrInvalidTopic)
	}

	if !filter {
		if strings.ContainsAny(topic, "+#") {
			return fmt.Errorf("%w: wildcard in topic name %q", ErrInvalidTopic, topic)
		}
		return nil
	}

	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch {
		case level == "#" && i != len(levels)-1:
			return fmt.Errorf("%w: # must be the last level in %q", ErrInvalidTopic, topic)
		case level != "#" && level != "+" && strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard must fill a whole level in %q", ErrInvalidTopic, topic)
		}
	}
	return nil
}

func validateQoS(qos byte) error {
	if qos > maxQoS {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}
	return nil
}
