// Package server 提供可由 app.Application 管理的 HTTP 服务器组件.
//
// 示例：
//
//	srv := server.NewHTTP(collector.Mux(),
//	    server.WithHTTPName("metrics"),
//	    server.WithHTTPAddr(":9100"),
//	    server.WithHTTPLogger(log),
//	)
//	application.Use(srv)
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/Tsukikage7/delayjob/logger"
)

// HTTP HTTP 服务器.
type HTTP struct {
	opts    *httpOptions
	handler http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewHTTP 创建 HTTP 服务器.
func NewHTTP(handler http.Handler, opts ...HTTPOption) *HTTP {
	o := defaultHTTPOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &HTTP{
		opts:    o,
		handler: handler,
	}
}

// Start 启动 HTTP 服务器.
//
// 监听失败时立即返回错误，之后阻塞直到 ctx 结束或服务异常退出.
func (s *HTTP) Start(ctx context.Context) error {
	if s.handler == nil {
		return ErrNilHandler
	}
	if s.opts.addr == "" {
		return ErrAddrEmpty
	}

	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return ErrServerRunning
	}
	ln, err := net.Listen("tcp", s.opts.addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.readHeaderTimeout,
		WriteTimeout:      s.opts.writeTimeout,
		IdleTimeout:       s.opts.idleTimeout,
	}
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logDebugf("HTTP 服务器启动 [name:%s] [addr:%s]", s.opts.name, ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		// 上下文取消，正常退出
	}

	return nil
}

// Stop 停止 HTTP 服务器.
func (s *HTTP) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logDebug("HTTP 服务器停止中...")
	return srv.Shutdown(ctx)
}

// Name 返回服务器名称.
func (s *HTTP) Name() string {
	return s.opts.name
}

// Addr 返回服务器地址，启动后返回实际监听地址.
func (s *HTTP) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.addr
}

// Handler 返回 HTTP Handler.
func (s *HTTP) Handler() http.Handler {
	return s.handler
}

// 日志辅助方法.

func (s *HTTP) logger() logger.Logger {
	return s.opts.logger
}

func (s *HTTP) logDebug(msg string) {
	if log := s.logger(); log != nil {
		log.Debug("[HTTP] " + msg)
	}
}

func (s *HTTP) logDebugf(format string, args ...any) {
	if log := s.logger(); log != nil {
		log.Debugf("[HTTP] "+format, args...)
	}
}
