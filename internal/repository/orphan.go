package repository

import (
	"time"

	"github.com/user/movielist/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrphanBlobRepository struct {
	db *gorm.DB
}

func NewOrphanBlobRepository(db *gorm.DB) *OrphanBlobRepository {
	return &OrphanBlobRepository{db: db}
}

// Add 登记一个删除失败的海报对象（重复登记忽略）
func (r *OrphanBlobRepository) Add(ref string) error {
	orphan := &model.OrphanBlob{
		Ref:       ref,
		CreatedAt: time.Now(),
	}
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(orphan).Error
}

// List 获取待回收列表（最早登记的优先）
func (r *OrphanBlobRepository) List(limit int) ([]*model.OrphanBlob, error) {
	orphans := make([]*model.OrphanBlob, 0)
	err := r.db.Order("created_at ASC").Limit(limit).Find(&orphans).Error
	return orphans, err
}

// Remove 回收成功后移除登记
func (r *OrphanBlobRepository) Remove(id int) error {
	return r.db.Delete(&model.OrphanBlob{}, id).Error
}

// Count 待回收数量
func (r *OrphanBlobRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.OrphanBlob{}).Count(&count).Error
	return count, err
}
