// Package main API Server 入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gitguide/internal/apiserver"
	"gitguide/internal/config"
	"gitguide/internal/fsbridge"
	"gitguide/internal/gitbridge"
	"gitguide/internal/metrics"
	"gitguide/internal/reconcile"
	"gitguide/internal/storage"
	"gitguide/internal/tasksession"
	"gitguide/internal/terminal"
	"gitguide/internal/verify"
	"gitguide/internal/workspace"
	"gitguide/pkg/auth"
	"gitguide/pkg/docker"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换配置文件）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化 SQL 存储（工作区、会话、项目元数据）
	store, err := storage.NewSQLStore(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}
	log.Println("Connected to database")

	// 初始化 Redis（验证缓存、提交去重、对账限频）
	redisStore, err := storage.NewRedisStoreFromURL(cfg.RedisURL, cfg.Verify.ReportTTL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisStore.Close()

	// 初始化 Docker 运行时
	runtime, err := docker.New()
	if err != nil {
		log.Fatalf("Failed to connect to Docker daemon: %v", err)
	}
	defer runtime.Close()
	log.Println("Connected to Docker daemon")

	// 工作区锁：多副本部署用 etcd，单机退化为进程内互斥
	var locker storage.Locker
	if cfg.Etcd.Enabled {
		etcdLocker, err := storage.NewEtcdLocker(storage.EtcdLockerConfig{
			Endpoints: cfg.Etcd.Endpoints,
			Prefix:    cfg.Etcd.Prefix,
		})
		if err != nil {
			log.Fatalf("Failed to connect to etcd: %v", err)
		}
		defer etcdLocker.Close()
		locker = etcdLocker
	} else {
		locker = storage.NewLocalLocker()
	}

	// 验证证据存档（可选）
	var evidence verify.Evidence
	if cfg.MinIO.Enabled {
		evidenceStore, err := storage.NewEvidenceStore(cfg.MinIO)
		if err != nil {
			log.Fatalf("Failed to connect to MinIO: %v", err)
		}
		if err := evidenceStore.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to ensure evidence bucket: %v", err)
		}
		evidence = evidenceStore
	}

	// 验证报告存档（可选）
	var archive *storage.ReportArchive
	if cfg.Mongo.Enabled {
		archive, err = storage.NewReportArchive(cfg.Mongo.URI, cfg.Mongo.Name)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer archive.Close()
	}

	// Prometheus 指标
	m := metrics.NewMetrics("gitguide", prometheus.DefaultRegisterer)

	// 领域服务
	workspaces := workspace.NewManager(store, runtime, locker, cfg.Docker)
	files := fsbridge.New(runtime)
	git := gitbridge.NewService(runtime, gitbridge.Author{
		Name:  cfg.Git.AuthorName,
		Email: cfg.Git.AuthorEmail,
	})
	terminals := terminal.NewManager(store, runtime, git)
	taskSessions := tasksession.NewService(store, git)
	reconciler := reconcile.NewService(store, git, redisStore)
	verifier := verify.NewOpenAIVerifier(cfg.LLM)
	pipeline := verify.NewPipeline(store, files, git, runtime, verifier).
		WithSinks(redisStore, archiveSink(archive), evidence)

	// 终端内识别到的提交推进工作区基线，Redis 跨副本去重
	terminals.SetCommitHook(
		func(workspaceID, sessionID, sha string) {
			hookCtx, hookCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer hookCancel()
			if err := store.UpdateLastPlatformCommit(hookCtx, workspaceID, sha); err != nil {
				log.Printf("[Main] Failed to record commit %.12s for workspace %s: %v", sha, workspaceID, err)
				return
			}
			m.CommitsDetected.Inc()
		},
		func(sessionID, sha string) bool {
			dedupCtx, dedupCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer dedupCancel()
			first, err := redisStore.MarkCommitSeen(dedupCtx, sessionID, sha)
			if err != nil {
				// Redis 故障时放行，进程内识别器兜底去重
				return true
			}
			return first
		},
	)

	authCfg := buildAuthConfig(cfg.Auth)
	if !authCfg.Enabled() {
		log.Println("[Main] JWT_SECRET not set, authentication disabled (dev mode)")
	}

	server := apiserver.NewServer(workspaces, files, git, terminals, taskSessions,
		reconciler, pipeline, authCfg).WithMetrics(m)
	if archive != nil {
		server.WithReports(archive)
	}

	srv := &http.Server{
		Addr:        cfg.Host + ":" + cfg.APIPort,
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		terminals.CloseAll(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on %s:%s", cfg.Host, cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}

// archiveSink 将可选的 Mongo 存档转为流水线依赖，未启用时保持 nil 接口
func archiveSink(archive *storage.ReportArchive) verify.Archive {
	if archive == nil {
		return nil
	}
	return archive
}

// buildAuthConfig 从配置构建认证参数
func buildAuthConfig(cfg config.AuthConfig) auth.Config {
	out := auth.DefaultConfig()
	out.JWTSecret = cfg.JWTSecret
	if cfg.AccessTokenTTL != "" {
		if ttl, err := time.ParseDuration(cfg.AccessTokenTTL); err == nil {
			out.AccessTokenTTL = ttl
		}
	}
	return out
}
