package domain

import "time"

// Message es un mensaje de chat persistido. SeenBy solo crece.
type Message struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Delivered bool      `json:"delivered"`
	SeenBy    []string  `json:"seenBy"`
}

// SeenReceipt confirma que un usuario vio un mensaje.
type SeenReceipt struct {
	MessageID string `json:"messageId"`
	Username  string `json:"username"`
}

// HasSeen indica si username ya figura en SeenBy.
func (m Message) HasSeen(username string) bool {
	for _, u := range m.SeenBy {
		if u == username {
			return true
		}
	}
	return false
}
