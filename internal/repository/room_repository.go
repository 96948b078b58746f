package repository

import (
	"gorm.io/gorm"

	"debate_live/internal/models"
	"debate_live/internal/storage"
)

type RoomRepository interface {
	Create(room *models.Room) error
	FindByID(id string) (*models.Room, error)
	// Exists 只檢查房間是否存在，不載入對話紀錄
	Exists(id string) (bool, error)
	FindByCreator(createdBy string) ([]models.Room, error) // createdBy 為空時查詢全部
	// IncrementVote 原子地把某一方票數加一，回傳更新後的房間
	IncrementVote(id, column string) (*models.Room, error)
}

type roomRepository struct {
	db *storage.PostgresDB
}

func NewRoomRepository(db *storage.PostgresDB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(room *models.Room) error {
	return r.db.Create(room).Error
}

func (r *roomRepository) FindByID(id string) (*models.Room, error) {
	var room models.Room
	err := r.db.Preload("Entries", func(db *gorm.DB) *gorm.DB {
		return db.Order("pos asc")
	}).First(&room, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepository) Exists(id string) (bool, error) {
	var n int64
	err := r.db.Model(&models.Room{}).Where("id = ?", id).Limit(1).Count(&n).Error
	return n > 0, err
}

func (r *roomRepository) FindByCreator(createdBy string) ([]models.Room, error) {
	var rooms []models.Room
	q := r.db.Order("created_at DESC")
	if createdBy != "" {
		q = q.Where("created_by = ?", createdBy)
	}
	err := q.Find(&rooms).Error
	return rooms, err
}

func (r *roomRepository) IncrementVote(id, column string) (*models.Room, error) {
	var room models.Room
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Room{}).
			Where("id = ?", id).
			UpdateColumn(column, gorm.Expr(column+" + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&room, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}
