package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/campuskit/sage/pkg/chat"
	bolt "go.etcd.io/bbolt"
)

var conversationsBucket = []byte("conversations")

// Store persists finished conversations in a BoltDB file. Keys are a
// monotonic sequence number joined with the conversation ID, so iteration
// order is save order.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the history database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a conversation and returns its storage key. Transcripts the
// user never wrote to are not worth keeping and come back with an empty key.
func (s *Store) Save(conv chat.Conversation) (string, error) {
	if conv.UserMessageCount() == 0 {
		return "", nil
	}

	var key string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		key = fmt.Sprintf("%d-%s", seq, conv.ID)

		v, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}
		return b.Put([]byte(key), v)
	})
	return key, err
}

// List returns all saved conversations, newest first.
func (s *Store) List() ([]chat.Conversation, error) {
	var convs []chat.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(_, v []byte) error {
			var conv chat.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			convs = append(convs, conv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(convs)
	return convs, nil
}

// Get retrieves one conversation by its storage key.
func (s *Store) Get(key string) (chat.Conversation, bool, error) {
	var conv chat.Conversation
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(conversationsBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &conv)
	})
	return conv, found, err
}

// Delete removes one conversation. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).Delete([]byte(key))
	})
}

// Clear drops every saved conversation.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(conversationsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
}
