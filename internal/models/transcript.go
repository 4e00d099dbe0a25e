package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	SpeakerUser = "user"
	SpeakerAI   = "ai"
)

// TranscriptEntry is one finished turn. Entries are append-only.
type TranscriptEntry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID string             `bson:"session_id" json:"sessionId"`
	Speaker   string             `bson:"speaker" json:"speaker"` // user|ai
	Text      string             `bson:"text" json:"text"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}
