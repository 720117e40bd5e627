package handler

import (
	"net/http"
	"time"

	"os-downloads/app/auth"
	"os-downloads/app/config"
	"os-downloads/app/store"

	"github.com/gin-gonic/gin"
)

// AuthHandler 令牌和调用方身份接口，需挂在 JWT 中间件之后
type AuthHandler struct {
	config     *config.Config
	jwtService *auth.JWTService
	store      *store.TaskStore
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.Config, s *store.TaskStore) *AuthHandler {
	return &AuthHandler{
		config:     cfg,
		jwtService: auth.NewJWTService(cfg),
		store:      s,
	}
}

// RefreshToken 为当前调用方签发新令牌
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	uid := auth.CallerUID(c.Request.Context())
	token, err := h.jwtService.GenerateToken(uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, 500, "刷新令牌失败: "+err.Error())
		return
	}

	expireAt := time.Now().Add(time.Duration(h.config.JWT.ExpireTime) * time.Hour).Unix()
	success(c, gin.H{
		"token":     token,
		"expire_at": expireAt,
	}, "刷新成功")
}

// Me 当前调用方身份和名下的任务数
func (h *AuthHandler) Me(c *gin.Context) {
	uid := auth.CallerUID(c.Request.Context())
	count, err := h.store.Count(c.Request.Context(), store.OwnedBy(uid))
	if err != nil {
		failWithError(c, "查询任务数失败", err)
		return
	}
	success(c, gin.H{"uid": uid, "tasks": count}, "success")
}
