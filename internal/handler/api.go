package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/user/movielist/internal/middleware"
	"github.com/user/movielist/internal/utils"
)

// ==================== 请求体 ====================

type registerReq struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type createMovieReq struct {
	Title          string `json:"title" binding:"required"`
	PublishingYear int    `json:"publishingYear" binding:"required"`
	Poster         string `json:"poster" binding:"required"`
}

type updateMovieReq struct {
	Title          *string `json:"title" binding:"omitempty,min=1"`
	PublishingYear *int    `json:"publishingYear"`
	Poster         *string `json:"poster" binding:"omitempty,min=1"`
}

// bindErrorMessage 将校验错误转成字段级提示
func bindErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " 不能为空"
		case "email":
			return "邮箱格式不正确"
		case "min":
			return fe.Field() + " 长度不足"
		}
		return fe.Field() + " 格式不正确"
	}
	return "请求参数有误"
}

// ==================== 认证 API ====================

// ApiRegister 注册
func (h *Handler) ApiRegister(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, bindErrorMessage(err))
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))

	// 检查邮箱是否已存在
	existing, err := h.Repos.User.FindByEmail(email)
	if err != nil {
		utils.InternalServerError(c, "")
		return
	}
	if existing != nil {
		utils.BadRequest(c, "该邮箱已被注册")
		return
	}

	user, err := h.Repos.User.Create(email, strings.TrimSpace(req.Name), req.Password)
	if err != nil {
		log.Printf("[API] 创建用户失败: %v", err)
		utils.InternalServerError(c, "")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "注册成功",
		"user":    user,
	})
}

// ApiLogin 登录，返回 Token 供 API 客户端使用
func (h *Handler) ApiLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, bindErrorMessage(err))
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))

	// 邮箱不存在和密码错误返回同样的提示
	user, err := h.Repos.User.FindByEmail(email)
	if err != nil {
		utils.InternalServerError(c, "")
		return
	}
	if user == nil || !h.Repos.User.CheckPassword(user, req.Password) {
		utils.Unauthorized(c, "邮箱或密码错误")
		return
	}

	token, err := h.generateToken(user)
	if err != nil {
		utils.InternalServerError(c, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

// ==================== 电影 API ====================

// ListMovies 获取当前用户的电影列表（按创建时间倒序）
func (h *Handler) ListMovies(c *gin.Context) {
	userID := middleware.GetUserID(c)

	movies, err := h.Lists.Get(userID)
	if err != nil {
		log.Printf("[API] 查询电影列表失败: %v", err)
		utils.InternalServerError(c, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"movies": movies})
}

// CreateMovie 创建电影条目
func (h *Handler) CreateMovie(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req createMovieReq
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, bindErrorMessage(err))
		return
	}

	movie, err := h.Repos.Movie.Create(userID, strings.TrimSpace(req.Title), req.PublishingYear, req.Poster)
	if err != nil {
		log.Printf("[API] 创建电影失败: %v", err)
		utils.InternalServerError(c, "")
		return
	}

	h.Lists.Invalidate(userID)
	c.JSON(http.StatusCreated, movie)
}

// UpdateMovie 更新电影条目
// 海报引用发生变化时，先完成记录更新、再删除旧海报，
// 保证更新失败时仍被引用的旧对象不会被误删
func (h *Handler) UpdateMovie(c *gin.Context) {
	userID := middleware.GetUserID(c)

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "无效的电影 ID")
		return
	}

	var req updateMovieReq
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, bindErrorMessage(err))
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = strings.TrimSpace(*req.Title)
	}
	if req.PublishingYear != nil {
		updates["publishing_year"] = *req.PublishingYear
	}
	if req.Poster != nil {
		updates["poster"] = *req.Poster
	}
	if len(updates) == 0 {
		utils.BadRequest(c, "没有需要更新的字段")
		return
	}

	// 更新前取一次旧记录，用于比对海报引用
	existing, err := h.Repos.Movie.FindOwned(id, userID)
	if err != nil {
		log.Printf("[API] 查询电影失败: %v", err)
		utils.InternalServerError(c, "")
		return
	}
	if existing == nil {
		utils.NotFound(c, "电影不存在")
		return
	}

	movie, err := h.Repos.Movie.UpdateOwned(id, userID, updates)
	if err != nil {
		log.Printf("[API] 更新电影失败: %v", err)
		utils.InternalServerError(c, "")
		return
	}
	if movie == nil {
		utils.NotFound(c, "电影不存在")
		return
	}

	// 记录已指向新海报，旧对象可以回收了
	if req.Poster != nil && existing.Poster != "" && existing.Poster != *req.Poster {
		h.reclaimPoster(c, existing.Poster)
	}

	h.Lists.Invalidate(userID)
	c.JSON(http.StatusOK, movie)
}

// DeleteMovie 删除电影条目及其海报
// 海报删除失败只记录待回收，不影响删除结果
func (h *Handler) DeleteMovie(c *gin.Context) {
	userID := middleware.GetUserID(c)

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "无效的电影 ID")
		return
	}

	movie, err := h.Repos.Movie.DeleteOwned(id, userID)
	if err != nil {
		log.Printf("[API] 删除电影失败: %v", err)
		utils.InternalServerError(c, "")
		return
	}
	if movie == nil {
		utils.NotFound(c, "电影不存在")
		return
	}

	if movie.Poster != "" {
		h.reclaimPoster(c, movie.Poster)
	}

	h.Lists.Invalidate(userID)
	c.JSON(http.StatusOK, movie)
}

// reclaimPoster 删除海报对象，失败时登记待回收
func (h *Handler) reclaimPoster(c *gin.Context, ref string) {
	if err := h.Store.Delete(c.Request.Context(), ref); err != nil {
		log.Printf("[API] 海报删除失败 %s: %v", ref, err)
		if err := h.Repos.Orphan.Add(ref); err != nil {
			log.Printf("[API] 登记待回收海报失败 %s: %v", ref, err)
		}
	}
}

// ==================== 上传 API ====================

// Upload 上传海报文件
func (h *Handler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "未找到上传文件"})
		return
	}
	defer file.Close()

	if header.Size > h.Config.MaxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "文件过大"})
		return
	}

	contentType := header.Header.Get("Content-Type")

	ref, err := h.Store.Put(c.Request.Context(), file, header.Size, contentType, header.Filename)
	if err != nil {
		log.Printf("[API] 上传失败 %s: %v", header.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "上传失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"filename": ref.Key,
		"fileUrl":  ref.URL,
	})
}
