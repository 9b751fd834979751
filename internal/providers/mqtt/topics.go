package mqtt

import (
	"fmt"
	"strings"
)

func TopicCaptureFrames(prefix string) string {
	return fmt.Sprintf("%s/capture/+/frames", prefix)
}

func TopicFrames(prefix, nodeID string) string {
	return fmt.Sprintf("%s/capture/%s/frames", prefix, nodeID)
}

func TopicCaptureControl(prefix string) string {
	return fmt.Sprintf("%s/capture/control", prefix)
}

func TopicSpeakerSay(prefix string) string {
	return fmt.Sprintf("%s/speaker/say", prefix)
}

func TopicSpeakerCancel(prefix string) string {
	return fmt.Sprintf("%s/speaker/cancel", prefix)
}

func TopicSpeakerDoneAll(prefix string) string {
	return fmt.Sprintf("%s/speaker/done/+", prefix)
}

func TopicSpeakerDone(prefix, utteranceID string) string {
	return fmt.Sprintf("%s/speaker/done/%s", prefix, utteranceID)
}

func TopicDecisions(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/decisions", prefix, sessionID)
}

func TopicSessionState(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/state", prefix, sessionID)
}

func TopicSpeechState(prefix string) string {
	return fmt.Sprintf("%s/speech/state", prefix)
}

func TopicErrors(prefix string) string {
	return fmt.Sprintf("%s/errors", prefix)
}

// ParseNodeID expects {prefix}/capture/{nodeId}/frames.
func ParseNodeID(topic, prefix string) (string, error) {
	parts := strings.Split(topic, "/")
	prefixParts := strings.Split(prefix, "/")
	if len(parts) != len(prefixParts)+3 {
		return "", fmt.Errorf("invalid topic: %s", topic)
	}
	for i, p := range prefixParts {
		if parts[i] != p {
			return "", fmt.Errorf("topic prefix mismatch: %s", topic)
		}
	}
	if parts[len(prefixParts)] != "capture" || parts[len(parts)-1] != "frames" {
		return "", fmt.Errorf("invalid topic pattern: %s", topic)
	}
	return parts[len(prefixParts)+1], nil
}

// ParseUtteranceID returns the last topic level.
func ParseUtteranceID(topic string) string {
	parts := strings.Split(topic, "/")
	return parts[len(parts)-1]
}
