package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the backend Store using a BoltDB file. Conversations live in a bucket per user
// under the "conversations" bucket; the messages of each conversation live in their own bucket keyed
// by an insertion sequence, so iteration order is append order.
type BoltDB struct {
	db *bolt.DB
}

type conversationRecord struct {
	ID           string
	Title        string
	CreatedAt    int64
	UpdatedAt    int64
	MessageCount int
}

var conversationsBucket = []byte("conversations")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close closes the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func userBucketName(userID string) []byte {
	return []byte(fmt.Sprintf("user-%s", userID))
}

func messageBucketName(conversationID string) []byte {
	return []byte(fmt.Sprintf("conversation-%s", conversationID))
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Conversations returns the user's conversations without their messages, most recently updated first.
func (b BoltDB) Conversations(_ context.Context, userID string) ([]models.ConversationSummary, error) {
	var convs []models.ConversationSummary
	err := b.db.View(func(tx *bolt.Tx) error {
		ub := tx.Bucket(conversationsBucket).Bucket(userBucketName(userID))
		if ub == nil {
			return nil
		}

		return ub.ForEach(func(_, v []byte) error {
			var rec conversationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			conv := recordToConversation(rec)
			convs = append(convs, models.ConversationSummary{
				ID:           conv.ID,
				Title:        conv.Title,
				UpdatedAt:    conv.UpdatedAt,
				MessageCount: rec.MessageCount,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(convs, func(a, b models.ConversationSummary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return convs, nil
}

// Conversation returns the user's conversation with its messages. models.ErrNotFound is returned when the
// conversation does not exist or belongs to another user.
func (b BoltDB) Conversation(_ context.Context, userID, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		rec, err := getConversation(tx, userID, id)
		if err != nil {
			return err
		}
		conv = recordToConversation(rec)
		conv.Messages = []models.Message{}

		mb := tx.Bucket(messageBucketName(id))
		if mb == nil {
			return nil
		}
		return mb.ForEach(func(_, v []byte) error {
			var msg models.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			conv.Messages = append(conv.Messages, msg)
			return nil
		})
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// AddConversation stores a new conversation for the user and creates its message bucket. It
// generates a unique ID by combining a sequence number with the conversation's original ID, and
// returns the new ID.
func (b BoltDB) AddConversation(_ context.Context, userID string, conv models.Conversation) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(conversationsBucket)
		ub, err := cb.CreateBucketIfNotExists(userBucketName(userID))
		if err != nil {
			return fmt.Errorf("failed to create user bucket: %w", err)
		}

		idPrefix, err := cb.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%d-%s", idPrefix, conv.ID)
		conv.ID = newID

		if _, err := tx.CreateBucketIfNotExists(messageBucketName(newID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		return putConversation(ub, conversationToRecord(conv, 0))
	})

	return newID, err
}

// UpdateConversation updates the title and activity time of an existing conversation. models.ErrNotFound is
// returned when it doesn't exist for the user.
func (b BoltDB) UpdateConversation(_ context.Context, userID string, conv models.Conversation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		rec, err := getConversation(tx, userID, conv.ID)
		if err != nil {
			return err
		}
		rec.Title = conv.Title
		if !conv.UpdatedAt.IsZero() {
			rec.UpdatedAt = toUnixNano(conv.UpdatedAt)
		}
		return putConversation(tx.Bucket(conversationsBucket).Bucket(userBucketName(userID)), rec)
	})
}

// DeleteConversation removes the user's conversation and all its messages. models.ErrNotFound is returned
// when it doesn't exist for the user.
func (b BoltDB) DeleteConversation(_ context.Context, userID, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if _, err := getConversation(tx, userID, id); err != nil {
			return err
		}
		ub := tx.Bucket(conversationsBucket).Bucket(userBucketName(userID))
		if err := ub.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		if err := tx.DeleteBucket(messageBucketName(id)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete message bucket: %w", err)
		}
		return nil
	})
}

// AddMessage appends a message to the user's conversation and bumps the conversation's activity time
// to the message timestamp. It generates a unique ID for the message by combining a sequence number
// with the message's original ID, and returns the new ID.
func (b BoltDB) AddMessage(_ context.Context, userID, conversationID string, message models.Message) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		rec, err := getConversation(tx, userID, conversationID)
		if err != nil {
			return err
		}

		mb, err := tx.CreateBucketIfNotExists(messageBucketName(conversationID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		seq, err := mb.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%d-%s", seq, message.ID)
		message.ID = newID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := mb.Put(sequenceKey(seq), v); err != nil {
			return err
		}

		rec.MessageCount++
		if ts := toUnixNano(message.Timestamp); ts > rec.UpdatedAt {
			rec.UpdatedAt = ts
		}
		return putConversation(tx.Bucket(conversationsBucket).Bucket(userBucketName(userID)), rec)
	})

	return newID, err
}

func getConversation(tx *bolt.Tx, userID, id string) (conversationRecord, error) {
	ub := tx.Bucket(conversationsBucket).Bucket(userBucketName(userID))
	if ub == nil {
		return conversationRecord{}, models.ErrNotFound
	}
	v := ub.Get([]byte(id))
	if v == nil {
		return conversationRecord{}, models.ErrNotFound
	}

	var rec conversationRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return conversationRecord{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return rec, nil
}

func putConversation(ub *bolt.Bucket, rec conversationRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return ub.Put([]byte(rec.ID), v)
}

func conversationToRecord(conv models.Conversation, count int) conversationRecord {
	return conversationRecord{
		ID:           conv.ID,
		Title:        conv.Title,
		CreatedAt:    toUnixNano(conv.CreatedAt),
		UpdatedAt:    toUnixNano(conv.UpdatedAt),
		MessageCount: count,
	}
}

func recordToConversation(rec conversationRecord) models.Conversation {
	return models.Conversation{
		ID:        rec.ID,
		Title:     rec.Title,
		CreatedAt: unixNano(rec.CreatedAt),
		UpdatedAt: unixNano(rec.UpdatedAt),
	}
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
