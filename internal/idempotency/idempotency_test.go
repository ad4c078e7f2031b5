package idempotency

import (
	"path/filepath"
	"testing"

	"github.com/poimarket/market-api/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}))
	return db
}

func TestGuardResolve(t *testing.T) {
	db := newTestDB(t)
	guard := NewGuard(db)

	t.Run("absent key resolves to nil", func(t *testing.T) {
		record, err := guard.Resolve("client-1", "order.create", "k1")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("registered key resolves to the original resource", func(t *testing.T) {
		require.NoError(t, guard.Register(db, "client-1", "order.create", "k1", "ORD_1"))

		record, err := guard.Resolve("client-1", "order.create", "k1")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "ORD_1", record.ResourceID)
	})

	t.Run("key is scoped per actor and command type", func(t *testing.T) {
		record, err := guard.Resolve("client-2", "order.create", "k1")
		require.NoError(t, err)
		assert.Nil(t, record)

		record, err = guard.Resolve("client-1", "reserve.buyback", "k1")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("empty key is a validation error", func(t *testing.T) {
		_, err := guard.Resolve("client-1", "order.create", "")
		assert.True(t, errs.IsKind(err, errs.KindValidation))
	})

	t.Run("empty actor is a validation error", func(t *testing.T) {
		_, err := guard.Resolve("", "order.create", "k1")
		assert.True(t, errs.IsKind(err, errs.KindValidation))
	})
}

func TestGuardDuplicateRegistration(t *testing.T) {
	db := newTestDB(t)
	guard := NewGuard(db)

	require.NoError(t, guard.Register(db, "client-1", "order.create", "k1", "ORD_1"))

	// Losing side of a concurrent duplicate submission hits the composite
	// unique index.
	err := guard.Register(db, "client-1", "order.create", "k1", "ORD_2")
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))

	record, err := guard.Resolve("client-1", "order.create", "k1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "ORD_1", record.ResourceID)
}
