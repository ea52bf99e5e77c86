package model

import "time"

// EventKind discriminates the event union delivered by the chat platform.
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindReaction   EventKind = "reaction"
	KindPinAdded   EventKind = "pin_added"
	KindPinRemoved EventKind = "pin_removed"
)

// Event is one discrete occurrence in the monitored chat. ID is the
// platform's externally unique event id and is the dedup key; exactly one
// of the payload pointers is set, matching Kind.
type Event struct {
	ID   string
	Kind EventKind
	Time time.Time

	Message  *Message
	Reaction *Reaction
	Pin      *Pin
}

// Mention is a user referenced inline in a message body.
type Mention struct {
	UserID string
	Name   string
}

// Message carries a received chat message. Content is the raw platform
// payload; extraction into plain text happens downstream.
type Message struct {
	MessageID string
	ChatID    string
	SenderID  string
	ParentID  string // immediate reply target, empty when not a reply
	RootID    string // thread root, empty when the message is itself a root
	Mentions  []Mention
	MsgType   string
	Content   string
}

// Reaction is an emoji reaction added to an existing message.
type Reaction struct {
	MessageID string
	ReactorID string
	EmojiType string
}

// Pin describes a pinned (or unpinned) message as synthesized by the pin
// monitor. SenderID/SenderName refer to the pinned message's author.
type Pin struct {
	MessageID    string
	SenderID     string
	SenderName   string
	OperatorID   string
	OperatorName string
}
