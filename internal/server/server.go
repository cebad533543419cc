// Package server 提供本地 HTTP 代理：包装上游模型返回 {mappings, error?, details?}，
// 并暴露处理队列、健康检查与 Prometheus 指标。
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"luarename/internal/diag"
	"luarename/internal/queue"
	"luarename/internal/rate"
	"luarename/pkg/contract"
)

// maxDetails: 502 响应中 details 的最大字节数。
const maxDetails = 512

// Options 为代理服务的可选依赖。
type Options struct {
	// Gate/GateKey: 上游调用前的限流（可选）。
	Gate    rate.Gate
	GateKey rate.LimitKey
	// Timeout: 单次上游调用超时；<=0 时取 60s。
	Timeout time.Duration
	// BytesPerToken: 限流 token 估算系数；<=0 时取 4。
	BytesPerToken int
}

// Server 持有上游客户端、解码器与队列；Queue 为空时不注册 /api/units。
type Server struct {
	llm     contract.LLMClient
	decoder contract.Decoder
	queue   *queue.Queue
	logger  *diag.Logger
	opts    Options

	// base: 后台处理任务的父 ctx（Shutdown 时取消）。
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RenameRequest: POST /api/rename-batch 请求体。Model 非空时覆盖上游客户端的默认模型。
type RenameRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// RenameResponse: 代理信封。失败时 mappings 为空对象。
type RenameResponse struct {
	Mappings contract.NameMapping `json:"mappings"`
	Error    string               `json:"error,omitempty"`
	Details  string               `json:"details,omitempty"`
}

// SubmitRequest: POST /api/units 请求体。
type SubmitRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// New 构造代理服务。llm 与 decoder 必需。
func New(llm contract.LLMClient, decoder contract.Decoder, q *queue.Queue, logger *diag.Logger, opts Options) (*Server, error) {
	if llm == nil || decoder == nil {
		return nil, errors.New("server: llm and decoder required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.BytesPerToken <= 0 {
		opts.BytesPerToken = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{llm: llm, decoder: decoder, queue: q, logger: logger, opts: opts, base: ctx, cancel: cancel}, nil
}

// Handler 构造 gin 路由。
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(diag.MetricsHandler()))

	api := r.Group("/api")
	api.POST("/rename-batch", s.handleRenameBatch)
	if s.queue != nil {
		units := api.Group("/units")
		units.POST("", s.handleSubmit)
		units.GET("", s.handleList)
		units.GET("/:id", s.handleGet)
		units.DELETE("/:id", s.handleRemove)
	}
	return r
}

// ListenAndServe 在 addr 上服务直到 ctx 取消，然后优雅关闭并等待后台任务结束。
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.StartWithKV("server", "listen", "", "", map[string]string{"addr": addr})

	select {
	case err := <-errc:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shCtx)
	s.Close()
	return err
}

// Close 取消后台处理并等待其结束。
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) accessLog() gin.HandlerFunc {
	var z *zap.Logger
	if s.logger != nil {
		z = s.logger.Zap()
	}
	return func(c *gin.Context) {
		t0 := time.Now()
		c.Next()
		if z == nil {
			return
		}
		z.Debug("http",
			zap.String("comp", "server"),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("dur_ms", time.Since(t0).Milliseconds()),
		)
	}
}

func (s *Server) handleRenameBatch(c *gin.Context) {
	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, RenameResponse{Mappings: contract.NameMapping{}, Error: "bad request", Details: truncate(err.Error())})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, RenameResponse{Mappings: contract.NameMapping{}, Error: "bad request", Details: "prompt is required"})
		return
	}

	t0 := time.Now()
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.Timeout)
	defer cancel()
	if s.opts.Gate != nil {
		ask := rate.Ask{Key: s.opts.GateKey, Requests: 1, Tokens: (len(req.Prompt) + s.opts.BytesPerToken - 1) / s.opts.BytesPerToken}
		if err := s.opts.Gate.Wait(ctx, ask); err != nil {
			s.upstreamFailure(c, "rate_limit", err, &t0)
			return
		}
	}
	raw, err := s.llm.Invoke(contract.WithModel(ctx, req.Model), contract.Batch{}, contract.TextPrompt(req.Prompt))
	if err != nil {
		s.upstreamFailure(c, "upstream", err, &t0)
		return
	}
	m, ok := s.decoder.Decode(raw)
	if !ok {
		s.upstreamFailure(c, "unparsable response", fmt.Errorf("%w: %s", contract.ErrResponseInvalid, raw.Text), &t0)
		return
	}
	if m == nil {
		m = contract.NameMapping{}
	}
	diag.IncOp("server", "rename_batch", "success")
	s.logger.InfoFinish("server", "rename-batch", t0, int64(len(m)))
	c.JSON(http.StatusOK, RenameResponse{Mappings: m})
}

func (s *Server) upstreamFailure(c *gin.Context, msg string, err error, t0 *time.Time) {
	code := diag.Classify(err)
	diag.IncOp("server", "rename_batch", "error")
	diag.IncError("server", string(code))
	s.logger.ErrorWithKV("server", string(code), msg, t0, "", "", map[string]string{"err": truncate(err.Error())})
	c.JSON(http.StatusBadGateway, RenameResponse{Mappings: contract.NameMapping{}, Error: msg, Details: truncate(err.Error())})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := s.queue.Submit(req.Name, req.Source)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrQueueFull) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.wg.Add(1)
	go func(id string) {
		defer s.wg.Done()
		if _, err := s.queue.Process(s.base, id); err != nil && !errors.Is(err, queue.ErrNotFound) {
			s.logger.ErrorWith("server", string(diag.Classify(err)), err.Error(), nil, id, "")
		}
	}(u.ID)
	c.JSON(http.StatusAccepted, gin.H{"unit": u})
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"units": s.queue.List()})
}

func (s *Server) handleGet(c *gin.Context) {
	u, ok := s.queue.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": queue.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit": u})
}

func (s *Server) handleRemove(c *gin.Context) {
	if err := s.queue.Remove(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func truncate(s string) string {
	if len(s) > maxDetails {
		return s[:maxDetails]
	}
	return s
}
