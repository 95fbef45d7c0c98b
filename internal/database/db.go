package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fitchat/config"
)

type Database struct {
	*gorm.DB
}

func NewDatabase(cfg *config.Config, log zerolog.Logger) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// SetMaxIdleConns sets the maximum number of connections in the idle connection pool.
	sqlDB.SetMaxIdleConns(10)

	// SetMaxOpenConns sets the maximum number of open connections to the database.
	sqlDB.SetMaxOpenConns(100)

	// SetConnMaxLifetime sets the maximum amount of time a connection may be reused.
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info().Msg("connected to database")

	return &Database{db}, nil
}

// SQLDB exposes the underlying pool for the raw-SQL repositories and
// the change feed listener.
func (db *Database) SQLDB() (*sql.DB, error) {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB, nil
}

// Migrate applies the chat schema and installs the change feed
// triggers.
func (db *Database) Migrate() error {
	err := db.AutoMigrate(
		&Profile{},
		&MoaiChannel{},
		&MoaiChannelMember{},
		&BuddyChannel{},
		&CoachConversation{},
		&CoachConversationMember{},
		&Message{},
		&Reaction{},
		&ReadReceipt{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := db.installChangeFeed(); err != nil {
		return fmt.Errorf("failed to install change feed: %w", err)
	}
	return nil
}

// installChangeFeed creates the trigger function and attaches it to the
// three feed tables. Every committed row mutation, whichever process
// wrote it, becomes a NOTIFY carrying {event_type, table, row}.
func (db *Database) installChangeFeed() error {
	statements := []string{
		`CREATE OR REPLACE FUNCTION fitchat_notify_change() RETURNS trigger AS $$
		DECLARE
			rec record;
		BEGIN
			IF TG_OP = 'DELETE' THEN
				rec := OLD;
			ELSE
				rec := NEW;
			END IF;
			PERFORM pg_notify('fitchat_changes', json_build_object(
				'event_type', lower(TG_OP),
				'table', TG_TABLE_NAME,
				'row', row_to_json(rec)
			)::text);
			RETURN rec;
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS fitchat_messages_feed ON messages`,
		`CREATE TRIGGER fitchat_messages_feed
			AFTER INSERT OR UPDATE OR DELETE ON messages
			FOR EACH ROW EXECUTE FUNCTION fitchat_notify_change()`,
		`DROP TRIGGER IF EXISTS fitchat_reactions_feed ON reactions`,
		`CREATE TRIGGER fitchat_reactions_feed
			AFTER INSERT OR UPDATE OR DELETE ON reactions
			FOR EACH ROW EXECUTE FUNCTION fitchat_notify_change()`,
		`DROP TRIGGER IF EXISTS fitchat_receipts_feed ON read_receipts`,
		`CREATE TRIGGER fitchat_receipts_feed
			AFTER INSERT OR UPDATE OR DELETE ON read_receipts
			FOR EACH ROW EXECUTE FUNCTION fitchat_notify_change()`,
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
