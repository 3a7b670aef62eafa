package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/user/movielist/internal/config"
	"github.com/user/movielist/internal/middleware"
	"github.com/user/movielist/internal/model"
	"github.com/user/movielist/internal/repository"
	"github.com/user/movielist/internal/service"
	"github.com/user/movielist/internal/storage"
	"github.com/user/movielist/internal/utils"
)

// Handler HTTP 处理器
type Handler struct {
	Repos  *repository.Repositories
	Config *config.Config
	Store  storage.Storage
	Lists  *service.MovieListService
}

// NewHandler 创建处理器
func NewHandler(repos *repository.Repositories, cfg *config.Config, store storage.Storage) *Handler {
	return &Handler{
		Repos:  repos,
		Config: cfg,
		Store:  store,
		Lists:  service.NewMovieListService(repos.Movie),
	}
}

// RenderData 统一封装公共渲染数据
func (h *Handler) RenderData(c *gin.Context, data gin.H) gin.H {
	// 基础数据
	res := gin.H{
		"SiteName": h.Config.SiteName,
		"SiteUrl":  h.Config.SiteUrl,
		"Path":     c.Request.URL.Path,
	}

	// 注入用户信息
	session := sessions.Default(c)
	if userinfo := session.Get("userinfo"); userinfo != nil {
		if su, ok := userinfo.(model.SessionUser); ok {
			res["UserInfo"] = su
		}
	}

	// 合并传入的数据
	for k, v := range data {
		res[k] = v
	}

	return res
}

// currentUser 获取当前用户（带短期缓存）
func (h *Handler) currentUser(userID int) (*model.User, error) {
	key := "user:" + strconv.Itoa(userID)
	if v, ok := utils.CacheGet(key); ok {
		return v.(*model.User), nil
	}

	user, err := h.Repos.User.FindByID(userID)
	if err != nil || user == nil {
		return nil, err
	}

	utils.CacheSet(key, user, 5*time.Minute)
	return user, nil
}

// ==================== 页面 ====================

// Home 首页：登录后显示我的电影列表
func (h *Handler) Home(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		c.Redirect(http.StatusFound, "/auth/login")
		return
	}

	user, err := h.currentUser(userID)
	if err != nil || user == nil {
		c.Redirect(http.StatusFound, "/auth/login")
		return
	}

	movies, _ := h.Lists.Get(userID)

	c.HTML(http.StatusOK, "movies.html", h.RenderData(c, gin.H{
		"Title":  "我的电影 - " + h.Config.SiteName,
		"User":   user,
		"Movies": movies,
	}))
}

// NotFoundPage 404 页面
func (h *Handler) NotFoundPage(c *gin.Context) {
	if strings.Contains(c.GetHeader("Accept"), "text/html") {
		c.HTML(http.StatusNotFound, "404.html", h.RenderData(c, gin.H{
			"Title": "页面未找到 - " + h.Config.SiteName,
		}))
		return
	}
	utils.NotFound(c, "")
}

// ==================== 认证页面 ====================

// LoginPage 登录页面
func (h *Handler) LoginPage(c *gin.Context) {
	// 如果已经登录，直接跳转到首页
	if middleware.GetUserID(c) > 0 {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.HTML(http.StatusOK, "login.html", h.RenderData(c, gin.H{
		"Title":    "登录 - " + h.Config.SiteName,
		"Redirect": c.Query("redirect"),
	}))
}

// Login 登录处理
func (h *Handler) Login(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")
	redirect := c.PostForm("redirect")

	if redirect == "" || !strings.HasPrefix(redirect, "/") {
		redirect = "/"
	}

	// 查找用户
	user, err := h.Repos.User.FindByEmail(email)
	if err != nil || user == nil {
		c.HTML(http.StatusOK, "login.html", h.RenderData(c, gin.H{
			"Title": "登录 - " + h.Config.SiteName,
			"Error": "邮箱或密码错误",
		}))
		return
	}

	// 验证密码
	if !h.Repos.User.CheckPassword(user, password) {
		c.HTML(http.StatusOK, "login.html", h.RenderData(c, gin.H{
			"Title": "登录 - " + h.Config.SiteName,
			"Error": "邮箱或密码错误",
		}))
		return
	}

	// 生成 JWT
	token, err := h.generateToken(user)
	if err != nil {
		c.HTML(http.StatusInternalServerError, "login.html", h.RenderData(c, gin.H{
			"Title": "登录 - " + h.Config.SiteName,
			"Error": "登录失败，请重试",
		}))
		return
	}

	h.setLoginState(c, user, token)
	c.Redirect(http.StatusFound, redirect)
}

// RegisterPage 注册页面
func (h *Handler) RegisterPage(c *gin.Context) {
	// 如果已经登录，直接跳转到首页
	if middleware.GetUserID(c) > 0 {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.HTML(http.StatusOK, "register.html", h.RenderData(c, gin.H{
		"Title": "注册 - " + h.Config.SiteName,
	}))
}

// Register 注册处理
func (h *Handler) Register(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	email := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")
	confirmPassword := c.PostForm("confirm_password")

	renderError := func(msg string) {
		c.HTML(http.StatusOK, "register.html", h.RenderData(c, gin.H{
			"Title": "注册 - " + h.Config.SiteName,
			"Error": msg,
		}))
	}

	// 验证
	if name == "" || email == "" || password == "" {
		renderError("请填写完整的注册信息")
		return
	}

	if password != confirmPassword {
		renderError("两次输入的密码不一致")
		return
	}

	if len(password) < 6 {
		renderError("密码至少需要 6 个字符")
		return
	}

	// 检查邮箱是否已存在
	existing, _ := h.Repos.User.FindByEmail(email)
	if existing != nil {
		renderError("该邮箱已被注册")
		return
	}

	// 创建用户
	user, err := h.Repos.User.Create(email, name, password)
	if err != nil {
		c.HTML(http.StatusInternalServerError, "register.html", h.RenderData(c, gin.H{
			"Title": "注册 - " + h.Config.SiteName,
			"Error": "注册失败，请重试",
		}))
		return
	}

	// 生成 JWT 并登录
	token, _ := h.generateToken(user)
	h.setLoginState(c, user, token)

	c.Redirect(http.StatusFound, "/")
}

// Logout 登出
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie("token", "", -1, "/", "", false, true)

	// 清理 Session
	session := sessions.Default(c)
	session.Clear()
	session.Save()

	c.Redirect(http.StatusFound, "/auth/login")
}

// setLoginState 设置 Cookie 和 Session
func (h *Handler) setLoginState(c *gin.Context, user *model.User, token string) {
	c.SetCookie("token", token, int(h.Config.JWTExpiry.Seconds()), "/", "", false, true)

	session := sessions.Default(c)
	session.Set("userinfo", model.SessionUser{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
	})
	session.Save()
}

// generateToken 生成 JWT
func (h *Handler) generateToken(user *model.User) (string, error) {
	claims := &middleware.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(h.Config.JWTExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.Config.AppSecret))
}
