// Package cache keeps a best-effort local copy of merged messages so a
// reopened room renders instantly before the history fetch resolves.
// Failures are logged and swallowed; the cache is never authoritative.
package cache

import (
	"encoding/json"
	"sort"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/pkg/log"
)

type record struct {
	RoomID    string    `gorm:"primaryKey;column:room_id"`
	MessageID string    `gorm:"primaryKey;column:message_id"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_room_created"`
	Payload   []byte    `gorm:"column:payload"`
}

func (record) TableName() string { return "chat_messages" }

// Cache is the sqlite-backed message mirror.
type Cache struct {
	db *gorm.DB
}

// Open creates or opens the cache database at path and migrates the
// schema. Use ":memory:" for an ephemeral cache.
func Open(path string) (*Cache, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Put upserts one message. Best effort: errors are logged, not
// returned, so cache trouble never blocks live delivery.
func (c *Cache) Put(roomID string, msg domain.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	rec := record{
		RoomID:    roomID,
		MessageID: msg.ID,
		CreatedAt: msg.CreatedAt,
		Payload:   payload,
	}
	if err := c.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
		l := log.With("cache")
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Str(log.FieldMessageID, msg.ID).Msg("cache write failed")
	}
}

// WarmStart returns the newest cached messages for a room, oldest
// first, ready to merge into the store.
func (c *Cache) WarmStart(roomID string, limit int) []domain.Message {
	var recs []record
	err := c.db.
		Where("room_id = ?", roomID).
		Order("created_at DESC, message_id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		l := log.With("cache")
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("warm start failed")
		return nil
	}

	out := make([]domain.Message, 0, len(recs))
	for _, rec := range recs {
		var msg domain.Message
		if err := json.Unmarshal(rec.Payload, &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out
}

// Purge drops all cached messages for a room, e.g. after leaving it.
func (c *Cache) Purge(roomID string) {
	if err := c.db.Where("room_id = ?", roomID).Delete(&record{}).Error; err != nil {
		l := log.With("cache")
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("purge failed")
	}
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
