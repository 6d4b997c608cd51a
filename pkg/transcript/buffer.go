package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/incidentops/sopflow/pkg/db"
)

// BufferSeparator joins successive entries in a buffer.
const BufferSeparator = "\n"

// Buffer is the transient, append-only transcript kept per incident.
type Buffer interface {
	// Append adds text to the incident's buffer, creating it with banner
	// first when it does not exist yet.
	Append(ctx context.Context, incident, banner, text string) error
	// Get returns the buffer content and whether it exists.
	Get(ctx context.Context, incident string) (string, bool, error)
}

// RedisBuffer keeps buffers as Redis strings that expire after a period of
// inactivity.
type RedisBuffer struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisBuffer.
type RedisOption func(*RedisBuffer)

// WithKeyPrefix sets the key prefix. Default is "sopflow:transcript".
func WithKeyPrefix(prefix string) RedisOption {
	return func(b *RedisBuffer) {
		b.prefix = prefix
	}
}

// WithTTL sets how long an idle buffer is kept. Zero keeps it forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBuffer) {
		b.ttl = ttl
	}
}

// NewRedisBuffer creates a Redis-backed Buffer.
func NewRedisBuffer(client *redis.Client, opts ...RedisOption) *RedisBuffer {
	b := &RedisBuffer{
		client: client,
		prefix: "sopflow:transcript",
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBuffer) key(incident string) string {
	return b.prefix + ":" + incident
}

// Append seeds the key with the banner if absent and appends the text.
func (b *RedisBuffer) Append(ctx context.Context, incident, banner, text string) error {
	key := b.key(incident)
	if err := b.client.SetNX(ctx, key, banner, 0).Err(); err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	pipe := b.client.TxPipeline()
	pipe.Append(ctx, key, BufferSeparator+text)
	if b.ttl > 0 {
		pipe.Expire(ctx, key, b.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append failed: %w", err)
	}
	return nil
}

// Get returns the buffer content.
func (b *RedisBuffer) Get(ctx context.Context, incident string) (string, bool, error) {
	s, err := b.client.Get(ctx, b.key(incident)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return s, true, nil
}

// bufferRow stores one incident buffer in the SQL backend.
type bufferRow struct {
	IncidentNumber string    `gorm:"primaryKey;column:incident_number;size:50"`
	Content        string    `gorm:"column:content;type:text;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (bufferRow) TableName() string { return "transcript_buffer" }

// DBBuffer keeps buffers in a table of the workflow database. When the
// context carries a transaction (see db.ContextWithTx) the append joins it.
type DBBuffer struct {
	db *gorm.DB
}

// NewDBBuffer creates a SQL-backed Buffer.
func NewDBBuffer(gdb *gorm.DB) *DBBuffer {
	return &DBBuffer{db: gdb}
}

// Models lists the tables of the SQL backend.
func Models() []any {
	return []any{&bufferRow{}}
}

// Append creates the row with the banner if missing, then appends in place.
func (b *DBBuffer) Append(ctx context.Context, incident, banner, text string) error {
	tx := db.Conn(ctx, b.db)
	seed := &bufferRow{IncidentNumber: incident, Content: banner}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return fmt.Errorf("create transcript buffer: %w", err)
	}
	err := tx.Model(&bufferRow{}).
		Where("incident_number = ?", incident).
		Updates(map[string]any{
			"content":    gorm.Expr(db.ConcatExpr(tx, "content", "?"), BufferSeparator+text),
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("append transcript buffer: %w", err)
	}
	return nil
}

// Get returns the buffer content.
func (b *DBBuffer) Get(ctx context.Context, incident string) (string, bool, error) {
	var row bufferRow
	err := db.Conn(ctx, b.db).Where("incident_number = ?", incident).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get transcript buffer: %w", err)
	}
	return row.Content, true, nil
}
