// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//	.env 文件同时被 Docker Compose（--env-file）、Go 应用（godotenv）共用。
//
// 环境：
//   - 开发: APP_ENV=dev → configs/dev.yaml + .env.dev
//   - 测试: APP_ENV=test → configs/test.yaml + .env.test
//   - 生产: APP_ENV=prod → /etc/gitguide/prod.yaml（凭据由 systemd 注入）
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`   // HTTP 服务
	Database DatabaseConfig `yaml:"database"` // 数据库
	Redis    RedisConfig    `yaml:"redis"`    // Redis（验证缓存 + 提交去重）
	Etcd     EtcdConfig     `yaml:"etcd"`     // Etcd（跨副本工作区锁，可选）
	MinIO    MinIOConfig    `yaml:"minio"`    // MinIO（验证证据存档，可选）
	Mongo    MongoConfig    `yaml:"mongo"`    // MongoDB（验证报告存档，可选）
	Docker   DockerConfig   `yaml:"docker"`   // 工作区容器
	Git      GitConfig      `yaml:"git"`      // Git 作者兜底
	LLM      LLMConfig      `yaml:"llm"`      // LLM 验证器
	Auth     AuthConfig     `yaml:"auth"`     // 认证
	Verify   VerifyConfig   `yaml:"verify"`   // 验证流水线
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" 或 "sqlite"（默认 postgres）
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

// EtcdConfig Etcd 配置，未启用时工作区锁退化为进程内互斥
type EtcdConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"` // 验证证据桶
}

// MongoConfig MongoDB 配置（验证报告文档存档）
type MongoConfig struct {
	Enabled bool   `yaml:"enabled"`
	URI     string `yaml:"uri"`
	Name    string `yaml:"name"` // 数据库名
}

// DockerConfig 工作区容器配置
type DockerConfig struct {
	Image         string  `yaml:"image"`           // 工作区镜像
	MemoryLimitMB int64   `yaml:"memory_limit_mb"` // 内存限制
	CPULimit      float64 `yaml:"cpu_limit"`       // CPU 核数限制
	PidsLimit     int64   `yaml:"pids_limit"`      // 进程数限制
	StopTimeout   int     `yaml:"stop_timeout"`    // 停止超时（秒）
}

// GitConfig Git 作者信息兜底值，请求未携带时使用
type GitConfig struct {
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// LLMConfig LLM 验证器配置
type LLMConfig struct {
	BaseURL string        `yaml:"base_url"` // OpenAI 兼容端点
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"-"` // 只从 LLM_API_KEY 环境变量读取
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig 认证配置
// JWTSecret 只从 JWT_SECRET 环境变量读取，不存储在 YAML 中
type AuthConfig struct {
	JWTSecret      string `yaml:"-"`
	AccessTokenTTL string `yaml:"access_token_ttl"` // 例如 "15m"
}

// VerifyConfig 验证流水线配置
type VerifyConfig struct {
	ReportTTL    time.Duration `yaml:"report_ttl"`    // Redis 报告缓存 TTL
	StageTimeout time.Duration `yaml:"stage_timeout"` // 单阶段超时
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	Host           string
	APIPort        string
	DatabaseDriver string // "postgres" 或 "sqlite"
	DatabaseURL    string
	RedisURL       string
	Etcd           EtcdConfig
	MinIO          MinIOConfig
	Mongo          MongoConfig
	Docker         DockerConfig
	Git            GitConfig
	LLM            LLMConfig
	Auth           AuthConfig
	Verify         VerifyConfig
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
