package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"autoreply/internal/domain"
)

// Config configures the SQL-backed conversation store.
type Config struct {
	// Driver is "postgres" or "mysql".
	Driver          string
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// Store implements domain.ConversationStore on top of GORM.
type Store struct {
	db *gorm.DB
}

// Open connects, applies pool settings and migrates the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required")
	}
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, domain.StorageError("conversation.open", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, domain.StorageError("conversation.open", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.AutoMigrate(
		&UserModel{},
		&ConversationModel{},
		&MessageLogModel{},
		&EscalationTicketModel{},
	); err != nil {
		return nil, domain.StorageError("conversation.migrate", err)
	}
	return &Store{db: db}, nil
}

// FindOrCreateUser relies on the unique sender_key index: a concurrent
// insert that loses the race re-reads the winner's row.
func (s *Store) FindOrCreateUser(ctx context.Context, senderKey string) (*domain.User, error) {
	if strings.TrimSpace(senderKey) == "" {
		return nil, domain.ValidationError("conversation.user", "sender key is required")
	}
	var m UserModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where(UserModel{SenderKey: senderKey}).FirstOrCreate(&m).Error
	})
	if err != nil {
		if rerr := s.db.WithContext(ctx).Where("sender_key = ?", senderKey).First(&m).Error; rerr != nil {
			return nil, domain.StorageError("conversation.user", err)
		}
	}
	return &domain.User{ID: m.ID, SenderKey: m.SenderKey, DisplayName: m.DisplayName, CreatedAt: m.CreatedAt}, nil
}

func (s *Store) FindOpenConversation(ctx context.Context, userID int64) (*domain.Conversation, error) {
	var m ConversationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(domain.StatusOpen)).
		Order("updated_at DESC").Order("id DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("conversation.find_open", err)
	}
	return toConversation(&m), nil
}

func (s *Store) CreateConversation(ctx context.Context, userID int64) (*domain.Conversation, error) {
	m := ConversationModel{UserID: userID, Status: string(domain.StatusOpen)}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, domain.StorageError("conversation.create", err)
	}
	return toConversation(&m), nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error) {
	var m ConversationModel
	err := s.db.WithContext(ctx).First(&m, conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundError("conversation.get", fmt.Errorf("conversation %d", conversationID))
	}
	if err != nil {
		return nil, domain.StorageError("conversation.get", err)
	}
	return toConversation(&m), nil
}

// AppendMessage inserts the message and touches the conversation in one transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, role domain.Role, content string, metadata map[string]any) error {
	meta, err := encodeJSON(metadata)
	if err != nil {
		return domain.StorageError("conversation.append", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ConversationModel{}).Where("id = ?", conversationID).Update("updated_at", tx.NowFunc())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := mustExist(tx, conversationID); err != nil {
				return err
			}
		}
		return tx.Create(&MessageLogModel{
			ConversationID: conversationID,
			Role:           string(role),
			Content:        content,
			Metadata:       meta,
		}).Error
	})
	return wrapErr("conversation.append", conversationID, err)
}

func (s *Store) UpdateConversation(ctx context.Context, conversationID int64, update domain.ConversationUpdate) error {
	fields := map[string]any{"updated_at": s.db.NowFunc()}
	if update.Status != nil {
		fields["status"] = string(*update.Status)
	}
	if update.Confidence != nil {
		fields["confidence"] = *update.Confidence
	}
	if update.LastMessagePreview != nil {
		fields["last_message_preview"] = *update.LastMessagePreview
	}
	db := s.db.WithContext(ctx)
	res := db.Model(&ConversationModel{}).Where("id = ?", conversationID).Updates(fields)
	if res.Error == nil && res.RowsAffected == 0 {
		return wrapErr("conversation.update", conversationID, mustExist(db, conversationID))
	}
	return wrapErr("conversation.update", conversationID, res.Error)
}

// mustExist tells a missing conversation apart from an update that changed
// nothing. MySQL counts changed rows, not matched ones, so an update that
// writes the values already stored reports zero rows.
func mustExist(db *gorm.DB, conversationID int64) error {
	var n int64
	if err := db.Model(&ConversationModel{}).Where("id = ?", conversationID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) CreateEscalationTicket(ctx context.Context, conversationID int64, reason string, payload map[string]any) (*domain.EscalationTicket, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := encodeJSON(payload)
	if err != nil {
		return nil, domain.StorageError("conversation.escalate", err)
	}
	var exists int64
	if err := s.db.WithContext(ctx).Model(&ConversationModel{}).Where("id = ?", conversationID).Count(&exists).Error; err != nil {
		return nil, domain.StorageError("conversation.escalate", err)
	}
	if exists == 0 {
		return nil, wrapErr("conversation.escalate", conversationID, gorm.ErrRecordNotFound)
	}
	m := EscalationTicketModel{ConversationID: conversationID, Reason: reason, Payload: raw}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, domain.StorageError("conversation.escalate", err)
	}
	out, err := decodeJSON(m.Payload)
	if err != nil {
		return nil, domain.StorageError("conversation.escalate", err)
	}
	return &domain.EscalationTicket{ID: m.ID, ConversationID: m.ConversationID, Reason: m.Reason, Payload: out, CreatedAt: m.CreatedAt}, nil
}

// ListConversations returns the most recently updated conversations with their latest message.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]domain.ConversationSummary, error) {
	var convs []ConversationModel
	q := s.db.WithContext(ctx).Order("updated_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, domain.StorageError("conversation.list", err)
	}
	out := make([]domain.ConversationSummary, 0, len(convs))
	for i := range convs {
		sum := domain.ConversationSummary{Conversation: *toConversation(&convs[i])}
		var last MessageLogModel
		err := s.db.WithContext(ctx).
			Where("conversation_id = ?", convs[i].ID).
			Order("id DESC").
			Take(&last).Error
		switch {
		case err == nil:
			content := last.Content
			sum.LastMessage = &content
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, domain.StorageError("conversation.list", err)
		}
		out = append(out, sum)
	}
	return out, nil
}

// Messages returns the transcript of a conversation in insertion order.
func (s *Store) Messages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	var rows []MessageLogModel
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, domain.StorageError("conversation.messages", err)
	}
	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		meta, err := decodeJSON(r.Metadata)
		if err != nil {
			return nil, domain.StorageError("conversation.messages", err)
		}
		out = append(out, domain.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Role:           domain.Role(r.Role),
			Content:        r.Content,
			Metadata:       meta,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toConversation(m *ConversationModel) *domain.Conversation {
	return &domain.Conversation{
		ID:                 m.ID,
		UserID:             m.UserID,
		Status:             domain.Status(m.Status),
		Confidence:         m.Confidence,
		LastMessagePreview: m.LastMessagePreview,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func encodeJSON(v map[string]any) (datatypes.JSON, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func decodeJSON(raw datatypes.JSON) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func wrapErr(op string, conversationID int64, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NotFoundError(op, fmt.Errorf("conversation %d", conversationID))
	default:
		return domain.StorageError(op, err)
	}
}
