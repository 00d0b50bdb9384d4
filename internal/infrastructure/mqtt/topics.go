package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the fleetsim topic tree.
const (
	// TopicPrefix is the root of every fleetsim topic.
	TopicPrefix = "fleetsim"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "fleetsim/system"
)

// Topics provides builders for fleetsim MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.OTAChannel("OTA_MOXA_ABC33") // "fleetsim/ota/OTA_MOXA_ABC33"
type Topics struct{}

// OTAChannel returns the ingress topic for artifacts posted to an OTA channel.
//
// Example: fleetsim/ota/OTA_MOXA_ABC33
func (Topics) OTAChannel(channel string) string {
	return fmt.Sprintf("%s/ota/%s", TopicPrefix, channel)
}

// NodeState returns the retained state topic for a node.
//
// Example: fleetsim/node/MOXA_ABC33/state
func (Topics) NodeState(uuid string) string {
	return fmt.Sprintf("%s/node/%s/state", TopicPrefix, uuid)
}

// EndpointState returns the retained state topic for an endpoint.
//
// Example: fleetsim/endpoint/MOXA_ABC33_EP1_SERIAL/state
func (Topics) EndpointState(serial string) string {
	return fmt.Sprintf("%s/endpoint/%s/state", TopicPrefix, serial)
}

// Event returns the topic for simulator events of one kind.
//
// Example: fleetsim/event/ota_applied
func (Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, kind)
}

// SystemStatus returns the online/offline status topic (also the LWT topic).
//
// Example: fleetsim/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllOTAChannels returns a pattern matching every OTA channel topic.
//
// Pattern: fleetsim/ota/+
func (Topics) AllOTAChannels() string {
	return TopicPrefix + "/ota/+"
}

// AllEvents returns a pattern matching every event topic.
//
// Pattern: fleetsim/event/+
func (Topics) AllEvents() string {
	return TopicPrefix + "/event/+"
}

// AllTopics returns a pattern matching all fleetsim topics.
//
// Pattern: fleetsim/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseOTAChannel extracts the channel name from an OTA channel topic.
// It reports false for any other topic or an empty channel segment.
func (Topics) ParseOTAChannel(topic string) (string, bool) {
	channel, ok := strings.CutPrefix(topic, TopicPrefix+"/ota/")
	if !ok || channel == "" || strings.Contains(channel, "/") {
		return "", false
	}
	return channel, true
}
