package repository

import (
	"errors"
	"time"

	"github.com/user/movielist/internal/model"
	"gorm.io/gorm"
)

type MovieRepository struct {
	db *gorm.DB
}

func NewMovieRepository(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// Create 创建电影条目
func (r *MovieRepository) Create(userID int, title string, year int, poster string) (*model.Movie, error) {
	movie := &model.Movie{
		Title:          title,
		PublishingYear: year,
		Poster:         poster,
		UserID:         userID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := r.db.Create(movie).Error; err != nil {
		return nil, err
	}
	return movie, nil
}

// ListByUser 获取用户的电影列表（按创建时间倒序）
func (r *MovieRepository) ListByUser(userID int) ([]*model.Movie, error) {
	movies := make([]*model.Movie, 0)
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&movies).Error
	return movies, err
}

// FindOwned 按 ID 和归属用户查找（未找到或不属于该用户均返回 nil）
func (r *MovieRepository) FindOwned(id, userID int) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// UpdateOwned 按 ID 和归属用户更新字段
// WHERE 条件同时包含 id 和 user_id，归属校验和更新是同一条语句
func (r *MovieRepository) UpdateOwned(id, userID int, updates map[string]interface{}) (*model.Movie, error) {
	updates["updated_at"] = time.Now()
	res := r.db.Model(&model.Movie{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindOwned(id, userID)
}

// DeleteOwned 按 ID 和归属用户删除，返回被删除的记录用于后续海报清理
func (r *MovieRepository) DeleteOwned(id, userID int) (*model.Movie, error) {
	movie, err := r.FindOwned(id, userID)
	if err != nil || movie == nil {
		return nil, err
	}
	res := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Movie{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return movie, nil
}

// CountByUser 统计用户的电影数量
func (r *MovieRepository) CountByUser(userID int) (int, error) {
	var count int64
	err := r.db.Model(&model.Movie{}).Where("user_id = ?", userID).Count(&count).Error
	return int(count), err
}
