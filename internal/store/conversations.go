package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/readest-ai/rag-core/internal/coreerr"
)

// Conversation is one chat thread anchored to a book.
type Conversation struct {
	ID        string    `json:"id"`
	BookHash  string    `json:"book_hash"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn within a Conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// messageKey orders messages within bucketMessagesByConv lexically by
// conversation then by creation time, so a prefix scan over one
// conversation's messages yields them in chronological order without a
// separate sort on every read.
func messageKey(conversationID string, createdAt time.Time, messageID string) []byte {
	return []byte(fmt.Sprintf("%s/%020d/%s", conversationID, createdAt.UnixNano(), messageID))
}

// SaveConversation creates or updates a conversation record and
// invalidates the book's conversation cache.
func (s *Store) SaveConversation(conv Conversation) error {
	h, err := s.handle(conv.BookHash)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(conv)
	if err != nil {
		return coreerr.NewStoreError("save_conversation", err)
	}
	err = h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).Put([]byte(conv.ID), data)
	})
	if err != nil {
		return coreerr.NewStoreError("save_conversation", err)
	}
	h.conversationsCache = nil
	return nil
}

// GetConversations returns every conversation for a book, most
// recently updated first.
func (s *Store) GetConversations(bookHash string) ([]Conversation, error) {
	h, err := s.handle(bookHash)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conversationsCache != nil {
		out := make([]Conversation, len(h.conversationsCache))
		copy(out, h.conversationsCache)
		return out, nil
	}

	var convs []Conversation
	err = h.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var c Conversation
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			convs = append(convs, c)
			return nil
		})
	})
	if err != nil {
		return nil, coreerr.NewStoreError("get_conversations", err)
	}

	sort.Slice(convs, func(i, j int) bool { return convs[i].UpdatedAt.After(convs[j].UpdatedAt) })
	h.conversationsCache = convs
	out := make([]Conversation, len(convs))
	copy(out, convs)
	return out, nil
}

// UpdateConversationTitle renames a conversation and bumps its
// UpdatedAt.
func (s *Store) UpdateConversationTitle(bookHash, conversationID, title string) error {
	h, err := s.handle(bookHash)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var conv Conversation
	err = h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		data := b.Get([]byte(conversationID))
		if data == nil {
			return fmt.Errorf("conversation %s not found", conversationID)
		}
		if err := json.Unmarshal(data, &conv); err != nil {
			return err
		}
		conv.Title = title
		conv.UpdatedAt = time.Now()
		updated, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		return b.Put([]byte(conversationID), updated)
	})
	if err != nil {
		return coreerr.NewStoreError("update_conversation_title", err)
	}
	h.conversationsCache = nil
	return nil
}

// DeleteConversation removes a conversation and every message that
// belongs to it.
func (s *Store) DeleteConversation(bookHash, conversationID string) error {
	h, err := s.handle(bookHash)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	prefix := []byte(conversationID + "/")
	err = h.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketConversations).Delete([]byte(conversationID)); err != nil {
			return err
		}
		byConv := tx.Bucket(bucketMessagesByConv)
		messages := tx.Bucket(bucketMessages)
		c := byConv.Cursor()
		var indexKeys, messageIDs [][]byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			indexKeys = append(indexKeys, append([]byte(nil), k...))
			messageIDs = append(messageIDs, append([]byte(nil), v...))
		}
		for _, k := range indexKeys {
			if err := byConv.Delete(k); err != nil {
				return err
			}
		}
		for _, id := range messageIDs {
			if err := messages.Delete(id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return coreerr.NewStoreError("delete_conversation", err)
	}
	h.conversationsCache = nil
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// SaveMessage appends a message to its conversation.
func (s *Store) SaveMessage(bookHash string, msg Message) error {
	h, err := s.handle(bookHash)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return coreerr.NewStoreError("save_message", err)
	}
	key := messageKey(msg.ConversationID, msg.CreatedAt, msg.ID)
	err = h.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMessages).Put([]byte(msg.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMessagesByConv).Put(key, []byte(msg.ID))
	})
	if err != nil {
		return coreerr.NewStoreError("save_message", err)
	}
	return nil
}

// GetMessages returns every message in a conversation, oldest first.
func (s *Store) GetMessages(bookHash, conversationID string) ([]Message, error) {
	h, err := s.handle(bookHash)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	prefix := []byte(conversationID + "/")
	var messages []Message
	err = h.db.View(func(tx *bolt.Tx) error {
		byConv := tx.Bucket(bucketMessagesByConv)
		msgBucket := tx.Bucket(bucketMessages)
		c := byConv.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := msgBucket.Get(v)
			if data == nil {
				continue
			}
			var m Message
			if err := json.Unmarshal(data, &m); err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, coreerr.NewStoreError("get_messages", err)
	}
	return messages, nil
}
