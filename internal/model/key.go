package model

// DirectoryEntry is one published public key, last-write-wins per user.
type DirectoryEntry struct {
	UserID    string `bson:"user_id" json:"user_id"`
	PublicKey string `bson:"public_key" json:"public_key"` // lowercase hex, 64 chars
}
