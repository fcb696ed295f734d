package bus

import (
	"strings"
	"testing"
)

func TestEventTopics_Unique(t *testing.T) {
	topics := []string{
		TopicReminderCreated,
		TopicReminderSent,
		TopicReminderConfirmed,
		TopicReminderGaveUp,
		TopicEscalationSent,
		TopicInboundReceived,
	}
	seen := map[string]bool{}
	for _, topic := range topics {
		if topic == "" {
			t.Fatal("empty topic constant")
		}
		if seen[topic] {
			t.Fatalf("duplicate topic %q", topic)
		}
		seen[topic] = true
	}
}

func TestEventTopics_ReminderPrefix(t *testing.T) {
	// Lifecycle topics share the "reminder." prefix so a single prefix
	// subscription observes the whole reminder lifecycle.
	for _, topic := range []string{
		TopicReminderCreated,
		TopicReminderSent,
		TopicReminderConfirmed,
		TopicReminderGaveUp,
	} {
		if !strings.HasPrefix(topic, "reminder.") {
			t.Fatalf("topic %q missing reminder. prefix", topic)
		}
	}
}
