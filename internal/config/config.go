package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// configDir 由外部通过 SetConfigDir 指定，优先级最高
var configDir string

// envSearchDirs .env 文件搜索目录（仅 dev/test 使用，生产环境由 systemd 注入）
var envSearchDirs = []string{
	".",
	"..",
}

// SetConfigDir 设置配置文件目录（用于 --config 命令行参数）
func SetConfigDir(dir string) {
	configDir = dir
}

// Load 加载配置
// 1. 加载 .env.{env}（敏感信息）
// 2. 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)
	// .env 可能改写 APP_ENV
	env = parseEnv(getEnv("APP_ENV", string(env)))

	yamlCfg := loadYAMLConfig(env)

	// 敏感信息只从环境变量读取
	yamlCfg.Database.Password = getEnv("DB_PASSWORD", "")
	yamlCfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	yamlCfg.MinIO.AccessKey = getEnv("MINIO_ROOT_USER", "")
	yamlCfg.MinIO.SecretKey = getEnv("MINIO_ROOT_PASSWORD", "")
	yamlCfg.LLM.APIKey = getEnv("LLM_API_KEY", "")
	yamlCfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")

	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(yamlCfg.Database, yamlCfg.Database.Password)
	}

	cfg := &Config{
		Env:            env,
		Host:           yamlCfg.Server.Host,
		APIPort:        yamlCfg.Server.Port,
		DatabaseDriver: detectDatabaseDriver(yamlCfg.Database.Driver, databaseURL),
		DatabaseURL:    databaseURL,
		RedisURL:       buildRedisURL(yamlCfg.Redis),
		Etcd:           yamlCfg.Etcd,
		MinIO:          yamlCfg.MinIO,
		Mongo:          yamlCfg.Mongo,
		Docker:         yamlCfg.Docker,
		Git:            yamlCfg.Git,
		LLM:            yamlCfg.LLM,
		Auth:           yamlCfg.Auth,
		Verify:         yamlCfg.Verify,
		ConfigFilePath: yamlCfg.loadedFrom,
	}

	cfg.Docker.validate()
	cfg.Verify.validate()

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	for _, base := range effectiveConfigPaths(env) {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, &cfg.YAMLConfig)
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths(env) {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, &cfg.YAMLConfig)
			cfg.loadedFrom = path
			break
		}
	}

	return cfg
}

// defaultYAMLConfig 返回硬编码默认配置
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		Server:   ServerConfig{Host: "0.0.0.0", Port: "8080"},
		Database: DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, User: "gitguide", Name: "gitguide", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Etcd:     EtcdConfig{Endpoints: []string{"localhost:2379"}, Prefix: "/gitguide"},
		MinIO:    MinIOConfig{Endpoint: "localhost:9000", Bucket: "gitguide-evidence"},
		Mongo:    MongoConfig{URI: "mongodb://localhost:27017", Name: "gitguide"},
		Docker: DockerConfig{
			Image:         "gitguide/workspace:latest",
			MemoryLimitMB: 1024,
			CPULimit:      1.0,
			PidsLimit:     256,
			StopTimeout:   10,
		},
		Git: GitConfig{AuthorName: "GitGuide Student", AuthorEmail: "student@gitguide.dev"},
		LLM: LLMConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
	}
}

// configPathsForEnv 根据环境返回配置文件搜索路径
func configPathsForEnv(env Environment) []string {
	if env == EnvProduction {
		return []string{"/etc/gitguide"}
	}
	return []string{"configs", "../configs", "../../configs"}
}

// effectiveConfigPaths 返回实际搜索路径
//
// 优先级：
//  1. --config 命令行参数（SetConfigDir）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径
func effectiveConfigPaths(env Environment) []string {
	if configDir != "" {
		return []string{configDir}
	}
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	return configPathsForEnv(env)
}

// loadEnvFiles 加载 .env 文件
//
// 生产环境不搜索 .env 文件（密码由 systemd EnvironmentFile 或 shell 环境注入）。
// dev/test 环境加载 .env.{env}，找不到时回退 .env。
// godotenv.Load 不覆盖已有环境变量，优先级低于 shell 环境变量。
func loadEnvFiles(env Environment) {
	if env == EnvProduction {
		return
	}

	envFileName := fmt.Sprintf(".env.%s", string(env))
	for _, dir := range envSearchDirs {
		if err := godotenv.Load(filepath.Join(dir, envFileName)); err == nil {
			return
		}
	}
	for _, dir := range envSearchDirs {
		if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
			return
		}
	}
}

// validate 填充容器配置默认值
func (d *DockerConfig) validate() {
	if d.Image == "" {
		d.Image = "gitguide/workspace:latest"
	}
	if d.MemoryLimitMB <= 0 {
		d.MemoryLimitMB = 1024
	}
	if d.CPULimit <= 0 {
		d.CPULimit = 1.0
	}
	if d.StopTimeout <= 0 {
		d.StopTimeout = 10
	}
}

// validate 填充验证流水线默认值
func (v *VerifyConfig) validate() {
	if v.ReportTTL == 0 {
		v.ReportTTL = 24 * time.Hour
	}
	if v.StageTimeout == 0 {
		v.StageTimeout = 2 * time.Minute
	}
}
