package service

import (
	"strconv"
	"time"

	"github.com/user/movielist/internal/model"
	"github.com/user/movielist/internal/repository"
	"github.com/user/movielist/internal/utils"
	"golang.org/x/sync/singleflight"
)

// MovieListService 带缓存的电影列表读取
type MovieListService struct {
	movies *repository.MovieRepository
	cache  *utils.ListCache[[]*model.Movie]
	sf     singleflight.Group // 防止并发重复查询同一用户的列表
}

// NewMovieListService 创建列表服务
func NewMovieListService(movies *repository.MovieRepository) *MovieListService {
	return &MovieListService{
		movies: movies,
		cache:  utils.NewListCache[[]*model.Movie](1000, 1*time.Minute),
		sf:     singleflight.Group{},
	}
}

// Get 获取用户的电影列表（命中缓存直接返回）
func (s *MovieListService) Get(userID int) ([]*model.Movie, error) {
	key := strconv.Itoa(userID)

	if movies, ok := s.cache.Get(key); ok {
		return movies, nil
	}

	// 使用 singleflight 合并同一用户的并发查询
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		// 等待期间可能已被其他 goroutine 写入
		if movies, ok := s.cache.Get(key); ok {
			return movies, nil
		}
		movies, err := s.movies.ListByUser(userID)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, movies)
		return movies, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*model.Movie), nil
}

// Invalidate 任何写操作后失效该用户的缓存
func (s *MovieListService) Invalidate(userID int) {
	s.cache.Delete(strconv.Itoa(userID))
}
