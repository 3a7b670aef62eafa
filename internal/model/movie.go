package model

import (
	"time"
)

// Movie 用户私有的电影条目
type Movie struct {
	ID             int       `json:"id" db:"id"`
	Title          string    `json:"title" db:"title"`
	PublishingYear int       `json:"publishingYear" db:"publishing_year"`
	Poster         string    `json:"poster" db:"poster"`
	UserID         int       `json:"user_id" db:"user_id" gorm:"index:idx_movies_user_created,priority:1"`
	CreatedAt      time.Time `json:"created_at" db:"created_at" gorm:"index:idx_movies_user_created,priority:2"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// OrphanBlob 删除失败、等待定时任务回收的海报对象
type OrphanBlob struct {
	ID        int       `json:"id" db:"id"`
	Ref       string    `json:"ref" db:"ref" gorm:"uniqueIndex"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
