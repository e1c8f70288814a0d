package api

import (
	"Zhixue-Auto-Marking-Backend/internal/service"
	"Zhixue-Auto-Marking-Backend/internal/status"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type StartSessionRequest struct {
	LoginURL string `json:"login_url"`
}

type StartGradingRequest struct {
	APIKey   string `json:"api_key"`
	Rubric   string `json:"rubric"`
	MaxScore int    `json:"max_score"`
}

type DecisionRequest struct {
	Continue *bool `json:"continue" binding:"required"`
}

type GradingHandler struct {
	gradingService  *service.GradingService
	statusStore     *status.Store
	defaultLoginURL string
}

func NewGradingHandler(gradingService *service.GradingService, statusStore *status.Store, defaultLoginURL string) *GradingHandler {
	return &GradingHandler{
		gradingService:  gradingService,
		statusStore:     statusStore,
		defaultLoginURL: defaultLoginURL,
	}
}

func (h *GradingHandler) StartSessionHandler(c *gin.Context) {
	var req StartSessionRequest
	_ = c.ShouldBindJSON(&req)
	loginURL := req.LoginURL
	if loginURL == "" {
		loginURL = h.defaultLoginURL
	}

	if err := h.gradingService.StartSession(loginURL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "启动浏览器会话失败",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "浏览器已打开，请手动完成登录后确认。"})
}

func (h *GradingHandler) ConfirmLoginHandler(c *gin.Context) {
	if err := h.gradingService.ConfirmLogin(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "登录已确认，可以开始批改。"})
}

func (h *GradingHandler) StartGradingHandler(c *gin.Context) {
	var req StartGradingRequest
	_ = c.ShouldBindJSON(&req)

	err := h.gradingService.StartGrading(service.StartParams{
		APIKey:   req.APIKey,
		Rubric:   req.Rubric,
		MaxScore: req.MaxScore,
	})
	if err != nil {
		var cfgErr *service.ConfigError
		if errors.As(err, &cfgErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": cfgErr.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "批改任务已启动。"})
}

func (h *GradingHandler) StopGradingHandler(c *gin.Context) {
	h.gradingService.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "已请求终止批改任务。"})
}

func (h *GradingHandler) DecisionHandler(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数无效: " + err.Error()})
		return
	}

	if err := h.gradingService.Decide(*req.Continue); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "决定已提交。"})
}

func (h *GradingHandler) CloseSessionHandler(c *gin.Context) {
	if err := h.gradingService.CloseSession(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "会话已关闭。"})
}

// StatusHandler 返回流程快照和 since 之后的增量事件，供操作员界面轮询。
func (h *GradingHandler) StatusHandler(c *gin.Context) {
	since, err := strconv.Atoi(c.DefaultQuery("since", "0"))
	if err != nil || since < 0 {
		since = 0
	}

	snapshot := h.gradingService.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"state":          snapshot.State,
		"run_id":         snapshot.RunID,
		"pending_prompt": snapshot.PendingPrompt,
		"last_outcome":   snapshot.LastOutcome,
		"events":         h.statusStore.Since(since),
	})
}
