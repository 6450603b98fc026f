package mqtt

// Topic prefixes for the lab's MQTT hierarchy.
//
// Run events are published under nmrlab/run/{event}; process-level state
// (online/offline, LWT) lives under nmrlab/system.
const (
	// TopicPrefix is the root of every topic.
	TopicPrefix = "nmrlab"

	// TopicPrefixRun is the base for run progress events.
	TopicPrefixRun = TopicPrefix + "/run"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for the lab's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topic := topics.RunRepeat()
//	// Returns: "nmrlab/run/repeat"
type Topics struct{}

// RunActive returns the topic announcing the command about to run.
//
// Example: nmrlab/run/active
func (Topics) RunActive() string {
	return TopicPrefixRun + "/active"
}

// RunRepeat returns the topic for per-repeat summaries.
//
// Example: nmrlab/run/repeat
func (Topics) RunRepeat() string {
	return TopicPrefixRun + "/repeat"
}

// RunConditions returns the topic for environment samples.
func (Topics) RunConditions() string {
	return TopicPrefixRun + "/conditions"
}

// RunComplete returns the topic for terminal run status. Retained.
func (Topics) RunComplete() string {
	return TopicPrefixRun + "/complete"
}

// RunAbort returns the topic operators publish to in order to abort the
// current run at the next boundary.
func (Topics) RunAbort() string {
	return TopicPrefixRun + "/abort"
}

// AllRunEvents returns a wildcard matching every run topic.
func (Topics) AllRunEvents() string {
	return TopicPrefixRun + "/#"
}

// SystemStatus returns the topic for process online/offline status.
// The LWT is published here.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// SystemShutdown returns the topic announcing a graceful shutdown.
func (Topics) SystemShutdown() string {
	return TopicPrefixSystem + "/shutdown"
}
