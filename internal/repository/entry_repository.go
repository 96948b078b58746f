package repository

import (
	"gorm.io/gorm/clause"

	"debate_live/internal/models"
	"debate_live/internal/storage"
)

type EntryRepository interface {
	// CreateIfAbsent 寫入一條紀錄，EntryID 已存在時不做任何事並回傳 false
	CreateIfAbsent(entry *models.Entry) (bool, error)
	FindByRoomID(roomID string) ([]models.Entry, error)
}

type entryRepository struct {
	db *storage.PostgresDB
}

func NewEntryRepository(db *storage.PostgresDB) EntryRepository {
	return &entryRepository{db: db}
}

func (r *entryRepository) CreateIfAbsent(entry *models.Entry) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_id"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *entryRepository) FindByRoomID(roomID string) ([]models.Entry, error) {
	var entries []models.Entry
	err := r.db.Where("room_id = ?", roomID).Order("pos asc").Find(&entries).Error
	return entries, err
}
