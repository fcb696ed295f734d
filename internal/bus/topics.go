package bus

// Reminder lifecycle event topics.
const (
	TopicReminderCreated   = "reminder.created"
	TopicReminderSent      = "reminder.sent"
	TopicReminderConfirmed = "reminder.confirmed"
	TopicReminderGaveUp    = "reminder.gaveup"
	TopicEscalationSent    = "escalation.sent"
	TopicInboundReceived   = "inbound.received"
)

// ReminderEvent is published on reminder.created, reminder.sent and
// reminder.gaveup with the state of the reminder at that point.
type ReminderEvent struct {
	ReminderID  int64  // Reminder row ID
	RecipientID int64  // Recipient row ID
	Date        string // Reminder date (YYYY-MM-DD)
	Slot        string // Scheduled slot (HH:MM)
	Level       int    // Escalation level at the time of the event
}

// EscalationEvent is published on escalation.sent after an escalation
// message goes out.
type EscalationEvent struct {
	ReminderID  int64 // Reminder row ID
	RecipientID int64 // Recipient row ID
	Level       int   // Escalation level of the message just sent (1..4)
}

// ConfirmedEvent is published on reminder.confirmed when a reply resolves
// a pending reminder.
type ConfirmedEvent struct {
	ReminderID  int64  // Reminder row ID
	RecipientID int64  // Recipient row ID
	Level       int    // Escalation level reached before confirmation
	Source      string // "ai" or "keyword"
}

// InboundEvent is published on inbound.received for every message that
// reaches the inbound handler, whether or not it confirms anything.
type InboundEvent struct {
	Gateway string // Gateway name the message arrived on
	From    string // Sender identifier (masked when logged)
	Matched bool   // Whether a pending reminder was found for the sender
}
