package util

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// LoadEnv 根据环境名加载对应的 .env 文件（.env.development / .env.production）
// 文件不存在不算错误，环境变量可以完全来自进程环境
func LoadEnv(env string) error {
	candidates := []string{fmt.Sprintf(".env.%s", env), ".env"}
	for _, name := range candidates {
		f, err := os.Open(name)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			v = strings.Trim(strings.TrimSpace(v), `"'`)
			// 进程环境优先于 .env 文件
			if _, exists := os.LookupEnv(k); !exists {
				_ = os.Setenv(k, v)
			}
		}
		_ = f.Close()
		return nil
	}
	return fmt.Errorf("no .env file found for env %q", env)
}

// GetEnv 获取字符串环境变量
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetEnvDefault 获取字符串环境变量，为空时返回默认值
func GetEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetIntEnv 获取整型环境变量，解析失败返回 0
func GetIntEnv(key string) int64 {
	return cast.ToInt64(os.Getenv(key))
}

// GetIntEnvDefault 获取整型环境变量，为空或解析失败时返回默认值
func GetIntEnvDefault(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return def
	}
	return n
}

// GetBoolEnv 获取布尔环境变量
func GetBoolEnv(key string) bool {
	return cast.ToBool(os.Getenv(key))
}

// GetFloatEnvDefault 获取浮点环境变量，为空或解析失败时返回默认值
func GetFloatEnvDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

// GetDurationEnvDefault 获取时长环境变量（如 "15s"、"5m"），为空或解析失败时返回默认值
func GetDurationEnvDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
