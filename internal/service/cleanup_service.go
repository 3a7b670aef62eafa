package service

import (
	"context"
	"log"
	"time"

	"github.com/user/movielist/internal/repository"
	"github.com/user/movielist/internal/storage"
)

// CleanupService 清理服务：回收删除失败的海报对象
type CleanupService struct {
	repos *repository.Repositories
	store storage.Storage
}

// NewCleanupService 创建清理服务
func NewCleanupService(repos *repository.Repositories, store storage.Storage) *CleanupService {
	return &CleanupService{repos: repos, store: store}
}

// Start 启动定时清理任务
func (s *CleanupService) Start() {
	ticker := time.NewTicker(6 * time.Hour)

	// 启动时先运行一次
	go s.runCleanup()

	go func() {
		for range ticker.C {
			s.runCleanup()
		}
	}()
}

func (s *CleanupService) runCleanup() {
	orphans, err := s.repos.Orphan.List(100)
	if err != nil {
		log.Printf("[CleanupService] 获取待回收对象失败: %v", err)
		return
	}
	if len(orphans) == 0 {
		return
	}

	log.Printf("[CleanupService] 开始回收 %d 个海报对象...", len(orphans))

	reclaimed := 0
	for _, orphan := range orphans {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.store.Delete(ctx, orphan.Ref)
		cancel()
		if err != nil {
			// 下次继续重试
			log.Printf("[CleanupService] 回收失败 %s: %v", orphan.Ref, err)
			continue
		}
		if err := s.repos.Orphan.Remove(orphan.ID); err != nil {
			log.Printf("[CleanupService] 移除登记失败 %s: %v", orphan.Ref, err)
			continue
		}
		reclaimed++
	}

	log.Printf("[CleanupService] 已回收 %d 个海报对象", reclaimed)
}
