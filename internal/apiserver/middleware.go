package apiserver

import (
	"log"
	"net/http"
	"strings"
	"time"

	"gitguide/pkg/auth"
)

// publicRoutes 无需认证的路由
var publicRoutes = []string{
	"GET /healthz",
	"GET /metrics",
}

// isPublicRoute 判断请求是否命中公开路由
func isPublicRoute(method, path string) bool {
	key := method + " " + path
	for _, route := range publicRoutes {
		if key == route {
			return true
		}
	}
	return false
}

// authMiddleware 创建 JWT 认证中间件
//
// 平台端签发 HS256 JWT，本服务只做验证。未配置 JWT_SECRET 时
// 认证关闭（本地开发），所有请求以匿名开发用户放行。
func authMiddleware(cfg auth.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if !cfg.Enabled() {
				ctx := auth.WithAuthUser(r.Context(), &auth.AuthUser{ID: "dev-user"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token := bearerToken(r)
			if token == "" {
				http.Error(w, `{"error":"missing authorization token"}`, http.StatusUnauthorized)
				return
			}

			user, err := auth.VerifyToken(cfg, token)
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}

			ctx := auth.WithAuthUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken 从 Authorization 头提取 Bearer 令牌
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware 创建 HTTP 指标中间件
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.metrics.RecordHTTPRequest(r.Method, normalizeRoute(r.URL.Path), wrapped.statusCode, time.Since(start))
	})
}

// normalizeRoute 规范化路径，将 ID 替换为占位符，避免指标高基数
func normalizeRoute(path string) string {
	parts := strings.Split(path, "/")
	// /api/v1/<resource>/<id>/<rest...>
	if len(parts) >= 5 && parts[1] == "api" && parts[2] == "v1" {
		parts[4] = "{id}"
		if len(parts) >= 7 && parts[5] == "sessions" {
			parts[6] = "{id}"
		}
		return strings.Join(parts, "/")
	}
	return path
}

// requestLogMiddleware 请求日志中间件
func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Printf("[API] %s %s -> %d (%s)", r.Method, r.URL.Path, wrapped.statusCode, time.Since(start).Round(time.Millisecond))
	})
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Git-Token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
