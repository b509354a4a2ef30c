// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/pkg/nacos"
)

const shutdownTimeout = 10 * time.Second

// Worker 是随应用一起运行、直到 ctx 取消才返回的后台任务
type Worker func(ctx context.Context) error

// ReadinessCheck 用于 /readyz
type ReadinessCheck func(ctx context.Context) error

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App 封装了服务的通用启动和优雅关停逻辑
type App struct {
	Name   string
	Port   int
	Mux    *http.ServeMux
	Config *Holder

	workers []Worker
	checks  []ReadinessCheck
	closers []closer
}

func NewApp(name string, holder *Holder) *App {
	a := &App{
		Name:   name,
		Port:   holder.Current().Service.HTTPPort,
		Mux:    http.NewServeMux(),
		Config: holder,
	}
	a.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	a.Mux.HandleFunc("/readyz", a.handleReady)
	a.Mux.Handle("/metrics", promhttp.Handler())
	return a
}

// Go 注册一个后台任务
func (a *App) Go(w Worker) { a.workers = append(a.workers, w) }

// Ready 注册一个就绪检查
func (a *App) Ready(c ReadinessCheck) { a.checks = append(a.checks, c) }

// OnShutdown 注册清理函数，关停时按注册的相反顺序执行
func (a *App) OnShutdown(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Run 启动 HTTP 服务与所有后台任务，收到 SIGINT/SIGTERM 或任一任务出错时退出
func (a *App) Run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{Addr: ":" + strconv.Itoa(a.Port), Handler: a.Mux}
	g.Go(func() error {
		logger.L().Info().Msgf("%s listening on :%d", a.Name, a.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	for _, w := range a.workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}

	err := g.Wait()
	logger.L().Info().Msgf("Shutting down service %s...", a.Name)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if cerr := c.fn(shutdownCtx); cerr != nil {
			logger.L().Error().Err(cerr).Msgf("Error closing %s", c.name)
		} else {
			logger.L().Info().Msgf("%s closed.", c.name)
		}
	}
	logger.L().Info().Msgf("Service %s gracefully shut down.", a.Name)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// ConnectConfigCenter 在配置了 Nacos 时拉取远程配置并监听变更。
// 远程配置不可用不影响启动，只记录警告。
func ConnectConfigCenter(holder *Holder) *nacos.Client {
	nc := holder.Current().Infra.Nacos
	if nc.ServerAddrs == "" {
		return nil
	}
	client, err := nacos.NewNacosClient(nc.ServerAddrs, nc.Namespace, nc.Group)
	if err != nil {
		logger.L().Warn().Err(err).Msg("nacos unavailable, continuing with local config")
		return nil
	}
	if content, err := client.GetConfig(nc.DataID); err != nil {
		logger.L().Warn().Err(err).Msg("could not load remote config")
	} else if content != "" {
		if err := holder.ApplyYAML([]byte(content)); err != nil {
			logger.L().Warn().Err(err).Msg("remote config rejected")
		}
	}
	if err := client.Watch(nc.DataID, func(data string) {
		if err := holder.ApplyYAML([]byte(data)); err != nil {
			logger.L().Warn().Err(err).Msg("remote config update rejected")
		}
	}); err != nil {
		logger.L().Warn().Err(err).Msg("could not watch remote config")
	}
	return client
}
