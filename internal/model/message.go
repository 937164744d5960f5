package model

import "time"

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeGif   = "gif"
)

type (
	// Message is one row of a two-party conversation. Immutable after
	// insert except for its reactions, which live in their own collection
	// and are folded in client-side.
	Message struct {
		ID               string    `bson:"_id,omitempty" json:"id"`
		SenderID         string    `bson:"sender_id" json:"sender_id"`
		ReceiverID       string    `bson:"receiver_id" json:"receiver_id"`
		Content          string    `bson:"content,omitempty" json:"content,omitempty"`
		MessageType      string    `bson:"message_type" json:"message_type"`
		AttachmentURL    string    `bson:"attachment_url,omitempty" json:"attachment_url,omitempty"`
		ReplyToMessageID string    `bson:"reply_to_message_id,omitempty" json:"reply_to_message_id,omitempty"`
		CreatedAt        time.Time `bson:"created_at" json:"created_at"`

		Reactions []Reaction `bson:"-" json:"reactions,omitempty"`

		// Undecryptable marks a message whose envelope failed to parse or
		// authenticate. The row is kept so the view can render a
		// placeholder instead of dropping the whole conversation load.
		Undecryptable bool `bson:"-" json:"-"`
	}

	Reaction struct {
		ID        string `bson:"_id,omitempty" json:"id"`
		MessageID string `bson:"message_id" json:"message_id"`
		UserID    string `bson:"user_id" json:"user_id"`
		Emoji     string `bson:"emoji" json:"emoji"`
	}
)
