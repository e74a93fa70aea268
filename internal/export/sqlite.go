package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fakeyudi/termctx/internal/event"
)

// sessionRow is the single row of the sessions table. The typed columns
// are for ad-hoc queries; the JSON columns carry the lossless record.
type sessionRow struct {
	ID        string `gorm:"primaryKey"`
	Version   int
	Author    string
	WorkDir   string
	StartTime time.Time
	StopTime  *time.Time
	Session   string
	Summary   string
}

func (sessionRow) TableName() string { return "sessions" }

type eventRow struct {
	Sequence  uint64    `gorm:"primaryKey;autoIncrement:false"`
	SessionID string    `gorm:"index"`
	Timestamp time.Time `gorm:"index"`
	Kind      string    `gorm:"index"`
	Source    string
	Summary   string
	Data      string
}

func (eventRow) TableName() string { return "events" }

const sqliteBatchSize = 500

func openSQLite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WriteSQLite writes doc to a new SQLite database at path. The database is
// built in a temporary file next to path and renamed into place.
func WriteSQLite(path string, doc *Document) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".termctx-*.db")
	if err != nil {
		return fmt.Errorf("create temp database: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	db, err := openSQLite(tmpPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := writeRows(db, doc); err != nil {
		closeDB(db)
		return err
	}
	if err := closeDB(db); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func writeRows(db *gorm.DB, doc *Document) error {
	if err := db.AutoMigrate(&sessionRow{}, &eventRow{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	sessJSON, err := json.Marshal(doc.Session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	sumJSON, err := json.Marshal(doc.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	rows := make([]eventRow, 0, len(doc.Events))
	for _, e := range doc.Events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", e.Sequence, err)
		}
		rows = append(rows, eventRow{
			Sequence:  e.Sequence,
			SessionID: doc.Session.ID,
			Timestamp: e.Timestamp,
			Kind:      string(e.Kind),
			Source:    e.Source,
			Summary:   e.Summary(),
			Data:      string(data),
		})
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&sessionRow{
			ID:        doc.Session.ID,
			Version:   doc.Version,
			Author:    doc.Author,
			WorkDir:   doc.Session.WorkDir,
			StartTime: doc.Session.StartTime,
			StopTime:  doc.Session.StopTime,
			Session:   string(sessJSON),
			Summary:   string(sumJSON),
		}).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, sqliteBatchSize).Error; err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		return nil
	})
}

// ReadSQLite loads the Document stored at path by WriteSQLite.
func ReadSQLite(path string) (*Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer closeDB(db)

	if !db.Migrator().HasTable(&sessionRow{}) {
		return nil, fmt.Errorf("not a valid termctx export: no sessions table")
	}
	var srow sessionRow
	if err := db.First(&srow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("not a valid termctx export: no session recorded")
		}
		return nil, err
	}

	doc := &Document{Version: srow.Version, Author: srow.Author}
	if err := json.Unmarshal([]byte(srow.Session), &doc.Session); err != nil {
		return nil, fmt.Errorf("not a valid termctx export: session: %w", err)
	}
	if err := json.Unmarshal([]byte(srow.Summary), &doc.Summary); err != nil {
		return nil, fmt.Errorf("not a valid termctx export: summary: %w", err)
	}

	var rows []eventRow
	if err := db.Where("session_id = ?", srow.ID).Order("sequence").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	doc.Events = make([]event.Event, 0, len(rows))
	for _, r := range rows {
		var e event.Event
		if err := json.Unmarshal([]byte(r.Data), &e); err != nil {
			return nil, fmt.Errorf("not a valid termctx export: event %d: %w", r.Sequence, err)
		}
		doc.Events = append(doc.Events, e)
	}
	return doc, nil
}
