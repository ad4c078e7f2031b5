package idempotency

import (
	"errors"

	"github.com/poimarket/market-api/internal/errs"
	"gorm.io/gorm"
)

// Record maps a client-supplied idempotency key to the ledger row the
// original command produced. Uniqueness per (actor, command, key) is the
// database's composite index, not application locking.
type Record struct {
	gorm.Model     `json:"-"`
	ActorID        string `gorm:"uniqueIndex:idx_idem_actor_command_key" json:"actor_id"`
	CommandType    string `gorm:"uniqueIndex:idx_idem_actor_command_key" json:"command_type"`
	IdempotencyKey string `gorm:"uniqueIndex:idx_idem_actor_command_key" json:"idempotency_key"`
	ResourceID     string `json:"resource_id"`
}

// Guard resolves idempotency keys against the store.
type Guard struct {
	db *gorm.DB
}

func NewGuard(db *gorm.DB) *Guard {
	return &Guard{db: db}
}

// Resolve looks up a prior command for the given actor, command type and
// key. A nil record with nil error means the command is new and the caller
// should proceed to create exactly one ledger row.
func (g *Guard) Resolve(actorID, commandType, key string) (*Record, error) {
	if key == "" {
		return nil, errs.Validation("idempotency key is required")
	}
	if actorID == "" {
		return nil, errs.Validation("actor is required")
	}

	var record Record
	err := g.db.Where(
		"actor_id = ? AND command_type = ? AND idempotency_key = ?",
		actorID, commandType, key,
	).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Register writes the record inside the caller's transaction so the key and
// the ledger row it guards commit atomically. Concurrent duplicates surface
// as gorm.ErrDuplicatedKey; callers catch it and re-resolve the winning row.
func (g *Guard) Register(tx *gorm.DB, actorID, commandType, key, resourceID string) error {
	record := Record{
		ActorID:        actorID,
		CommandType:    commandType,
		IdempotencyKey: key,
		ResourceID:     resourceID,
	}
	return tx.Create(&record).Error
}

// IsDuplicate reports whether err is the unique-constraint violation raised
// when a concurrent submission won the insert race.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
