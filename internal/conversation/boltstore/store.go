package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"autoreply/internal/domain"
)

var (
	bucketUsers         = []byte("users")
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketTickets       = []byte("tickets")
)

// Store keeps conversation state in a single BoltDB file. Bolt serializes
// writers, so every mutation here is one atomic read-modify-write.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.StorageError("conversation.open", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, domain.StorageError("conversation.open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketConversations, bucketMessages, bucketTickets} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, domain.StorageError("conversation.open", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) FindOrCreateUser(_ context.Context, senderKey string) (*domain.User, error) {
	if strings.TrimSpace(senderKey) == "" {
		return nil, domain.ValidationError("conversation.user", "sender key is required")
	}
	var u domain.User
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if v := b.Get([]byte(senderKey)); v != nil {
			return json.Unmarshal(v, &u)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		u = domain.User{ID: int64(seq), SenderKey: senderKey, CreatedAt: s.now()}
		return put(b, []byte(senderKey), u)
	})
	if err != nil {
		return nil, domain.StorageError("conversation.user", err)
	}
	return &u, nil
}

func (s *Store) FindOpenConversation(_ context.Context, userID int64) (*domain.Conversation, error) {
	var best *domain.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			var c domain.Conversation
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.UserID != userID || c.Status != domain.StatusOpen {
				return nil
			}
			if best == nil || c.UpdatedAt.After(best.UpdatedAt) || (c.UpdatedAt.Equal(best.UpdatedAt) && c.ID > best.ID) {
				best = &c
			}
			return nil
		})
	})
	if err != nil {
		return nil, domain.StorageError("conversation.find_open", err)
	}
	return best, nil
}

func (s *Store) CreateConversation(_ context.Context, userID int64) (*domain.Conversation, error) {
	var c domain.Conversation
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		now := s.now()
		c = domain.Conversation{ID: int64(seq), UserID: userID, Status: domain.StatusOpen, CreatedAt: now, UpdatedAt: now}
		return put(b, itob(c.ID), c)
	})
	if err != nil {
		return nil, domain.StorageError("conversation.create", err)
	}
	return &c, nil
}

func (s *Store) GetConversation(_ context.Context, conversationID int64) (*domain.Conversation, error) {
	var c *domain.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		c, err = getConversation(tx, conversationID)
		return err
	})
	if err != nil {
		return nil, wrapErr("conversation.get", err)
	}
	return c, nil
}

func (s *Store) AppendMessage(_ context.Context, conversationID int64, role domain.Role, content string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		c, err := getConversation(tx, conversationID)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketMessages)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		now := s.now()
		m := domain.Message{
			ID:             int64(seq),
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			Metadata:       metadata,
			CreatedAt:      now,
		}
		if err := put(b, messageKey(conversationID, m.ID), m); err != nil {
			return err
		}
		c.UpdatedAt = now
		return put(tx.Bucket(bucketConversations), itob(c.ID), c)
	})
	return wrapErr("conversation.append", err)
}

func (s *Store) UpdateConversation(_ context.Context, conversationID int64, update domain.ConversationUpdate) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		c, err := getConversation(tx, conversationID)
		if err != nil {
			return err
		}
		if update.Status != nil {
			c.Status = *update.Status
		}
		if update.Confidence != nil {
			v := *update.Confidence
			c.Confidence = &v
		}
		if update.LastMessagePreview != nil {
			c.LastMessagePreview = *update.LastMessagePreview
		}
		c.UpdatedAt = s.now()
		return put(tx.Bucket(bucketConversations), itob(c.ID), c)
	})
	return wrapErr("conversation.update", err)
}

func (s *Store) CreateEscalationTicket(_ context.Context, conversationID int64, reason string, payload map[string]any) (*domain.EscalationTicket, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	var t domain.EscalationTicket
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getConversation(tx, conversationID); err != nil {
			return err
		}
		b := tx.Bucket(bucketTickets)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		t = domain.EscalationTicket{ID: int64(seq), ConversationID: conversationID, Reason: reason, Payload: payload, CreatedAt: s.now()}
		return put(b, itob(t.ID), t)
	})
	if err != nil {
		return nil, wrapErr("conversation.escalate", err)
	}
	return &t, nil
}

func (s *Store) ListConversations(_ context.Context, limit int) ([]domain.ConversationSummary, error) {
	var out []domain.ConversationSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		var all []domain.Conversation
		if err := tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			var c domain.Conversation
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			all = append(all, c)
			return nil
		}); err != nil {
			return err
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
				return all[i].ID > all[j].ID
			}
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		})
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		out = make([]domain.ConversationSummary, 0, len(all))
		for _, c := range all {
			sum := domain.ConversationSummary{Conversation: c}
			last, err := lastMessage(tx, c.ID)
			if err != nil {
				return err
			}
			if last != nil {
				sum.LastMessage = &last.Content
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, domain.StorageError("conversation.list", err)
	}
	return out, nil
}

// Messages returns the transcript of a conversation in append order.
func (s *Store) Messages(_ context.Context, conversationID int64) ([]domain.Message, error) {
	var out []domain.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(conversationID)
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var m domain.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, domain.StorageError("conversation.messages", err)
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }

type notFoundError struct{ id int64 }

func (e notFoundError) Error() string { return fmt.Sprintf("conversation %d", e.id) }

func getConversation(tx *bolt.Tx, id int64) (*domain.Conversation, error) {
	v := tx.Bucket(bucketConversations).Get(itob(id))
	if v == nil {
		return nil, notFoundError{id}
	}
	var c domain.Conversation
	if err := json.Unmarshal(v, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func lastMessage(tx *bolt.Tx, conversationID int64) (*domain.Message, error) {
	c := tx.Bucket(bucketMessages).Cursor()
	k, v := c.Seek(itob(conversationID + 1))
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil || !bytes.HasPrefix(k, itob(conversationID)) {
		return nil, nil
	}
	var m domain.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func put(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func messageKey(conversationID, messageID int64) []byte {
	return append(itob(conversationID), itob(messageID)...)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if nf, ok := err.(notFoundError); ok {
		return domain.NotFoundError(op, nf)
	}
	return domain.StorageError(op, err)
}
