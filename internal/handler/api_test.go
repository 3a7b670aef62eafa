package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/movielist/internal/config"
	"github.com/user/movielist/internal/middleware"
	"github.com/user/movielist/internal/model"
	"github.com/user/movielist/internal/repository"
	"github.com/user/movielist/internal/storage"
	"github.com/user/movielist/internal/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeStorage 记录删除调用的内存对象存储
type fakeStorage struct {
	mu         sync.Mutex
	deleted    []string
	failDelete bool
}

func (f *fakeStorage) Put(ctx context.Context, r io.Reader, size int64, contentType, origName string) (*storage.BlobRef, error) {
	key := storage.ObjectKey(origName)
	return &storage.BlobRef{Key: key, URL: "http://blob.test/" + key}, nil
}

func (f *fakeStorage) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return fmt.Errorf("storage unavailable")
	}
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeStorage) deletedRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func newTestHandler(t *testing.T) (*Handler, *fakeStorage, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.InitCache()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Movie{}, &model.OrphanBlob{}); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}

	cfg := &config.Config{
		Env:           "test",
		AppSecret:     "test-secret",
		JWTExpiry:     time.Hour,
		SiteName:      "MovieList",
		SiteUrl:       "http://localhost:5005",
		MaxUploadSize: 10 << 20,
	}

	store := &fakeStorage{}
	h := NewHandler(repository.NewRepositories(db), cfg, store)

	r := gin.New()
	r.POST("/register", h.ApiRegister)
	r.POST("/upload", h.Upload)
	r.POST("/api/login", h.ApiLogin)
	movies := r.Group("/movies")
	movies.Use(middleware.RequireAuth(cfg.AppSecret))
	{
		movies.GET("", h.ListMovies)
		movies.POST("", h.CreateMovie)
		movies.PATCH("/:id", h.UpdateMovie)
		movies.DELETE("/:id", h.DeleteMovie)
	}

	return h, store, r
}

// newTestUser 创建用户并返回其 Token
func newTestUser(t *testing.T, h *Handler, email string) (*model.User, string) {
	t.Helper()
	user, err := h.Repos.User.Create(email, "测试用户", "secret123")
	if err != nil {
		t.Fatalf("创建用户失败: %v", err)
	}
	token, err := middleware.GenerateToken(user.ID, user.Email, user.Name, h.Config.AppSecret, time.Hour)
	if err != nil {
		t.Fatalf("生成 Token 失败: %v", err)
	}
	return user, token
}

func doJSON(r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeMovie(t *testing.T, w *httptest.ResponseRecorder) *model.Movie {
	t.Helper()
	var movie model.Movie
	if err := json.Unmarshal(w.Body.Bytes(), &movie); err != nil {
		t.Fatalf("解析响应失败: %v (%s)", err, w.Body.String())
	}
	return &movie
}

// ==================== 注册 / 登录 ====================

func TestApiRegister(t *testing.T) {
	_, _, r := newTestHandler(t)

	w := doJSON(r, http.MethodPost, "/register", "", gin.H{
		"name": "Alice", "email": "alice@example.com", "password": "secret123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("期望 201, 实际 %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		User model.User `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.User.ID == 0 || resp.User.Email != "alice@example.com" {
		t.Fatalf("用户信息不完整: %+v", resp.User)
	}
	// 密码哈希不得外泄
	if strings.Contains(w.Body.String(), "password_hash") {
		t.Fatal("响应不应包含密码哈希")
	}
}

func TestApiRegisterDuplicateEmail(t *testing.T) {
	h, _, r := newTestHandler(t)
	newTestUser(t, h, "alice@example.com")

	w := doJSON(r, http.MethodPost, "/register", "", gin.H{
		"name": "Clone", "email": "alice@example.com", "password": "secret123",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("重复邮箱期望 400, 实际 %d", w.Code)
	}

	count, _ := h.Repos.User.Count()
	if count != 1 {
		t.Fatalf("不应创建重复用户, 实际 %d 个", count)
	}
}

func TestApiRegisterMissingFields(t *testing.T) {
	_, _, r := newTestHandler(t)

	w := doJSON(r, http.MethodPost, "/register", "", gin.H{"email": "x@example.com"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("缺少字段期望 400, 实际 %d", w.Code)
	}
}

func TestApiLogin(t *testing.T) {
	h, _, r := newTestHandler(t)
	newTestUser(t, h, "alice@example.com")

	// 错误密码和不存在的邮箱提示一致
	w := doJSON(r, http.MethodPost, "/api/login", "", gin.H{"email": "alice@example.com", "password": "wrong1234"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("错误密码期望 401, 实际 %d", w.Code)
	}
	wrongPw := w.Body.String()

	w = doJSON(r, http.MethodPost, "/api/login", "", gin.H{"email": "nobody@example.com", "password": "whatever1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("未知邮箱期望 401, 实际 %d", w.Code)
	}
	if w.Body.String() != wrongPw {
		t.Fatal("两种失败不应返回不同提示")
	}

	w = doJSON(r, http.MethodPost, "/api/login", "", gin.H{"email": "alice@example.com", "password": "secret123"})
	if w.Code != http.StatusOK {
		t.Fatalf("登录期望 200, 实际 %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Token == "" {
		t.Fatal("登录应返回 Token")
	}
}

// ==================== 电影 CRUD ====================

func TestMoviesRequireAuth(t *testing.T) {
	_, _, r := newTestHandler(t)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/movies"},
		{http.MethodPost, "/movies"},
		{http.MethodPatch, "/movies/1"},
		{http.MethodDelete, "/movies/1"},
	} {
		w := doJSON(r, req.method, req.path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s 未登录期望 401, 实际 %d", req.method, req.path, w.Code)
		}
	}
}

func TestCreateAndListScopedToOwner(t *testing.T) {
	h, _, r := newTestHandler(t)
	_, tokenA := newTestUser(t, h, "a@example.com")
	_, tokenB := newTestUser(t, h, "b@example.com")

	w := doJSON(r, http.MethodPost, "/movies", tokenA, gin.H{
		"title": "Dune", "publishingYear": 1984, "poster": "http://blob.test/p1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("创建期望 201, 实际 %d: %s", w.Code, w.Body.String())
	}
	movie := decodeMovie(t, w)
	if movie.Title != "Dune" || movie.PublishingYear != 1984 {
		t.Fatalf("返回记录不完整: %+v", movie)
	}

	// A 的列表包含该记录
	w = doJSON(r, http.MethodGet, "/movies", tokenA, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("列表期望 200, 实际 %d", w.Code)
	}
	var listA struct {
		Movies []model.Movie `json:"movies"`
	}
	json.Unmarshal(w.Body.Bytes(), &listA)
	if len(listA.Movies) != 1 || listA.Movies[0].Title != "Dune" {
		t.Fatalf("A 的列表应包含 Dune: %+v", listA.Movies)
	}

	// B 的列表为空数组
	w = doJSON(r, http.MethodGet, "/movies", tokenB, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("空列表期望 200, 实际 %d", w.Code)
	}
	var listB struct {
		Movies []model.Movie `json:"movies"`
	}
	json.Unmarshal(w.Body.Bytes(), &listB)
	if len(listB.Movies) != 0 {
		t.Fatalf("B 的列表应为空: %+v", listB.Movies)
	}
	if !strings.Contains(w.Body.String(), "\"movies\"") {
		t.Fatalf("空列表应返回 movies 数组: %s", w.Body.String())
	}
}

func TestCreateMovieValidation(t *testing.T) {
	h, _, r := newTestHandler(t)
	_, token := newTestUser(t, h, "a@example.com")

	// 缺标题
	w := doJSON(r, http.MethodPost, "/movies", token, gin.H{"publishingYear": 1984, "poster": "p"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("缺标题期望 400, 实际 %d", w.Code)
	}

	// 年份不是整数
	req := httptest.NewRequest(http.MethodPost, "/movies",
		strings.NewReader(`{"title":"Dune","publishingYear":"一九八四","poster":"p"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("非法年份期望 400, 实际 %d", rec.Code)
	}
}

func TestUpdateMovieCrossOwnerNotFound(t *testing.T) {
	h, store, r := newTestHandler(t)
	userA, tokenA := newTestUser(t, h, "a@example.com")
	_, tokenB := newTestUser(t, h, "b@example.com")

	movie, err := h.Repos.Movie.Create(userA.ID, "Dune", 1984, "http://blob.test/p1")
	if err != nil {
		t.Fatalf("创建电影失败: %v", err)
	}

	// 跨用户更新：404，且不可区分于记录不存在
	w := doJSON(r, http.MethodPatch, fmt.Sprintf("/movies/%d", movie.ID), tokenB, gin.H{"title": "Hacked"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("跨用户更新期望 404, 实际 %d", w.Code)
	}
	missing := doJSON(r, http.MethodPatch, "/movies/99999", tokenA, gin.H{"title": "x"})
	if missing.Code != http.StatusNotFound {
		t.Fatalf("不存在记录期望 404, 实际 %d", missing.Code)
	}
	if w.Body.String() != missing.Body.String() {
		t.Fatal("跨用户访问和记录不存在的响应应一致")
	}

	// 没有任何海报被删
	if len(store.deletedRefs()) != 0 {
		t.Fatalf("失败的更新不应触发海报删除: %v", store.deletedRefs())
	}
}

func TestUpdateMoviePosterReplacement(t *testing.T) {
	h, store, r := newTestHandler(t)
	userA, tokenA := newTestUser(t, h, "a@example.com")

	movie, err := h.Repos.Movie.Create(userA.ID, "Dune", 1984, "http://blob.test/p1")
	if err != nil {
		t.Fatalf("创建电影失败: %v", err)
	}

	w := doJSON(r, http.MethodPatch, fmt.Sprintf("/movies/%d", movie.ID), tokenA,
		gin.H{"poster": "http://blob.test/p2"})
	if w.Code != http.StatusOK {
		t.Fatalf("更新期望 200, 实际 %d: %s", w.Code, w.Body.String())
	}
	updated := decodeMovie(t, w)
	if updated.Poster != "http://blob.test/p2" {
		t.Fatalf("海报未更新: %+v", updated)
	}

	// 记录更新成功后旧海报被删除
	refs := store.deletedRefs()
	if len(refs) != 1 || refs[0] != "http://blob.test/p1" {
		t.Fatalf("应删除旧海报 p1, 实际 %v", refs)
	}
}

func TestUpdateMoviePosterUnchangedKeepsBlob(t *testing.T) {
	h, store, r := newTestHandler(t)
	userA, tokenA := newTestUser(t, h, "a@example.com")

	movie, _ := h.Repos.Movie.Create(userA.ID, "Dune", 1984, "http://blob.test/p1")

	// 海报引用未变化时不触发删除
	w := doJSON(r, http.MethodPatch, fmt.Sprintf("/movies/%d", movie.ID), tokenA,
		gin.H{"title": "Dune 1984", "poster": "http://blob.test/p1"})
	if w.Code != http.StatusOK {
		t.Fatalf("更新期望 200, 实际 %d", w.Code)
	}
	if len(store.deletedRefs()) != 0 {
		t.Fatalf("海报未变化不应删除: %v", store.deletedRefs())
	}
}

func TestUpdateMovieBlobCleanupFailureSwallowed(t *testing.T) {
	h, store, r := newTestHandler(t)
	userA, tokenA := newTestUser(t, h, "a@example.com")

	movie, _ := h.Repos.Movie.Create(userA.ID, "Dune", 1984, "http://blob.test/p1")
	store.failDelete = true

	// 删除失败不影响更新结果
	w := doJSON(r, http.MethodPatch, fmt.Sprintf("/movies/%d", movie.ID), tokenA,
		gin.H{"poster": "http://blob.test/p2"})
	if w.Code != http.StatusOK {
		t.Fatalf("海报清理失败也应返回 200, 实际 %d", w.Code)
	}

	// 失败的引用被登记待回收
	count, _ := h.Repos.Orphan.Count()
	if count != 1 {
		t.Fatalf("应登记 1 条待回收, 实际 %d", count)
	}
}

func TestDeleteMovie(t *testing.T) {
	h, store, r := newTestHandler(t)
	userA, tokenA := newTestUser(t, h, "a@example.com")

	movie, _ := h.Repos.Movie.Create(userA.ID, "Dune", 1984, "http://blob.test/p2")

	w := doJSON(r, http.MethodDelete, fmt.Sprintf("/movies/%d", movie.ID), tokenA, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("删除期望 200, 实际 %d: %s", w.Code, w.Body.String())
	}
	deleted := decodeMovie(t, w)
	if deleted.ID != movie.ID {
		t.Fatalf("应返回被删除的记录: %+v", deleted)
	}

	// 记录删除成功后海报一并删除
	refs := store.deletedRefs()
	if len(refs) != 1 || refs[0] != "http://blob.test/p2" {
		t.Fatalf("应删除海报 p2, 实际 %v", refs)
	}

	// 记录已不存在
	if got, _ := h.Repos.Movie.FindOwned(movie.ID, userA.ID); got != nil {
		t.Fatalf("记录应已删除: %+v", got)
	}
}

func TestDeleteMovieNotFoundNoBlobDelete(t *testing.T) {
	h, store, r := newTestHandler(t)
	_, tokenA := newTestUser(t, h, "a@example.com")

	w := doJSON(r, http.MethodDelete, "/movies/99999", tokenA, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("不存在记录期望 404, 实际 %d", w.Code)
	}
	if len(store.deletedRefs()) != 0 {
		t.Fatalf("404 不应触发海报删除: %v", store.deletedRefs())
	}
}

func TestDeleteMovieCrossOwner(t *testing.T) {
	h, store, r := newTestHandler(t)
	userA, tokenA := newTestUser(t, h, "a@example.com")
	_, tokenB := newTestUser(t, h, "b@example.com")

	movie, _ := h.Repos.Movie.Create(userA.ID, "Dune", 1984, "http://blob.test/p1")

	w := doJSON(r, http.MethodDelete, fmt.Sprintf("/movies/%d", movie.ID), tokenB, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("跨用户删除期望 404, 实际 %d", w.Code)
	}
	if len(store.deletedRefs()) != 0 {
		t.Fatalf("跨用户删除不应触发海报删除: %v", store.deletedRefs())
	}

	// A 仍能看到记录
	w = doJSON(r, http.MethodGet, "/movies", tokenA, nil)
	if !strings.Contains(w.Body.String(), "Dune") {
		t.Fatalf("A 的记录应保留: %s", w.Body.String())
	}
}

// ==================== 上传 ====================

func TestUpload(t *testing.T) {
	_, _, r := newTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "poster.jpg")
	fw.Write([]byte("fake-image-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("上传期望 200, 实际 %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success  bool   `json:"success"`
		Filename string `json:"filename"`
		FileUrl  string `json:"fileUrl"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success || resp.Filename == "" || resp.FileUrl == "" {
		t.Fatalf("响应不完整: %s", w.Body.String())
	}
}

func TestUploadNoFile(t *testing.T) {
	_, _, r := newTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("没有文件期望 400, 实际 %d", w.Code)
	}
}
