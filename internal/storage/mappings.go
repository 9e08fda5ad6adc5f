package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/magisk317/napgram/internal/logger"
)

// ReplyMapping correlates one delivered message across platforms. Rows are
// insert-only: created once per successful delivery, never updated or
// deleted (retention is out of scope).
type ReplyMapping struct {
	ID         uint   `gorm:"primaryKey"`
	InstanceID int    `gorm:"index:idx_qq_seq;index:idx_qq_sender;index:idx_tg_msg"`
	QQRoomID   int64  `gorm:"index:idx_qq_seq;index:idx_qq_sender"`
	QQSenderID int64  `gorm:"index:idx_qq_sender"`
	QQSeq      int64  `gorm:"index:idx_qq_seq"`
	QQRand     int64
	TGChatID   int64 `gorm:"index:idx_tg_msg"`
	TGMsgID    int   `gorm:"index:idx_tg_msg"`
	TGSenderID int64
	Brief      string
	CreatedAt  time.Time
}

// MappingsRepository stores and resolves reply mappings.
type MappingsRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewMappingsRepository creates the repository.
func NewMappingsRepository(db *gorm.DB, log *logger.Logger) *MappingsRepository {
	return &MappingsRepository{db: db, log: log.Component("storage")}
}

// Record inserts a mapping after a successful delivery.
func (r *MappingsRepository) Record(ctx context.Context, m *ReplyMapping) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("record mapping: %w", err)
	}

	r.log.Debug().
		Int64("qq_room", m.QQRoomID).
		Int64("qq_seq", m.QQSeq).
		Int64("tg_chat", m.TGChatID).
		Int("tg_msg", m.TGMsgID).
		Msg("recorded mapping")

	return nil
}

// FindByQQSeq is the authoritative lookup: exact QQ sequence to the
// delivered Telegram message. Returns (nil, nil) on miss.
func (r *MappingsRepository) FindByQQSeq(ctx context.Context, instanceID int, roomID, seq int64) (*ReplyMapping, error) {
	var m ReplyMapping
	err := r.db.WithContext(ctx).
		Where("instance_id = ? AND qq_room_id = ? AND qq_seq = ?", instanceID, roomID, seq).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by qq seq: %w", err)
	}
	return &m, nil
}

// FindByQQSender returns the sender's most recent mapped message in the
// room. This is a best-effort heuristic used only when the exact sequence
// lookup misses; when a sender posts several messages in quick succession
// it can pick the wrong one. Returns (nil, nil) on miss.
func (r *MappingsRepository) FindByQQSender(ctx context.Context, instanceID int, roomID, senderID int64) (*ReplyMapping, error) {
	var m ReplyMapping
	err := r.db.WithContext(ctx).
		Where("instance_id = ? AND qq_room_id = ? AND qq_sender_id = ?", instanceID, roomID, senderID).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by qq sender: %w", err)
	}
	return &m, nil
}

// FindByTG resolves a Telegram message back to its QQ source.
// Returns (nil, nil) on miss.
func (r *MappingsRepository) FindByTG(ctx context.Context, instanceID int, chatID int64, msgID int) (*ReplyMapping, error) {
	var m ReplyMapping
	err := r.db.WithContext(ctx).
		Where("instance_id = ? AND tg_chat_id = ? AND tg_msg_id = ?", instanceID, chatID, msgID).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by tg msg: %w", err)
	}
	return &m, nil
}
