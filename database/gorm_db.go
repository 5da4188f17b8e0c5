package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/camden-git/collectionstore/logging"
)

// InitGormDB layers GORM over the pinned connection so that catalog writes
// share the savepoint of the operation that issues them.
func InitGormDB(conn gorm.ConnPool, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Dialector{Conn: conn}, &gorm.Config{
		Logger: logging.GormLogger(logger),
		// savepoints are managed by the session; gorm must not BEGIN its own
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GORM over store connection: %w", err)
	}
	return db, nil
}
