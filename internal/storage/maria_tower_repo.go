package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-tower/internal/tower"
	_ "github.com/go-sql-driver/mysql"
)

// MariaTowerRepo реализует TowerRepo для MariaDB/MySQL.
// Башня хранится единственной строкой (id = 1) таблицы tower_snapshots.
type MariaTowerRepo struct {
	db *sql.DB
}

// NewMariaTowerRepo создает репозиторий и при необходимости таблицу.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMariaTowerRepo(ctx context.Context, dsn string) (*MariaTowerRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo, err := newMariaTowerRepo(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// newMariaTowerRepo оборачивает открытое соединение и создаёт таблицу
func newMariaTowerRepo(ctx context.Context, db *sql.DB) (*MariaTowerRepo, error) {
	repo := &MariaTowerRepo{db: db}
	if err := repo.createTable(ctx); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return repo, nil
}

func (r *MariaTowerRepo) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS tower_snapshots (
			id         TINYINT     PRIMARY KEY,
			data       LONGBLOB    NOT NULL,
			saved_at   TIMESTAMP   NOT NULL
		) ENGINE=InnoDB
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы tower_snapshots: %w", err)
	}
	return nil
}

// Load реализует TowerRepo
func (r *MariaTowerRepo) Load(ctx context.Context) (*tower.Snapshot, bool, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM tower_snapshots WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения башни: %w", err)
	}

	snap, err := decodeRecord(data)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Save реализует TowerRepo через INSERT ... ON DUPLICATE KEY UPDATE
func (r *MariaTowerRepo) Save(ctx context.Context, snap *tower.Snapshot, timestamp time.Time) error {
	data, err := encodeRecord(snap, timestamp)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tower_snapshots (id, data, saved_at) VALUES (1, ?, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data), saved_at = VALUES(saved_at)
	`
	if _, err := r.db.ExecContext(ctx, query, data, timestamp.UTC()); err != nil {
		return fmt.Errorf("ошибка сохранения башни: %w", err)
	}
	return nil
}

// Close реализует TowerRepo
func (r *MariaTowerRepo) Close() error {
	return r.db.Close()
}
