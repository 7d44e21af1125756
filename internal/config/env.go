package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Secret environment variables. A non-empty value wins over the file.
const (
	EnvBiliCookie    = "BILI_COOKIE"
	EnvDouyinCookie  = "DOUYIN_COOKIE"
	EnvWeiboCookie   = "WEIBO_COOKIE"
	EnvWeComCorpID   = "WECOM_CORPID"
	EnvWeComSecret   = "WECOM_SECRET"
	EnvWeComAgentID  = "WECOM_AGENTID"
	EnvTelegramToken = "TELEGRAM_TOKEN"
)

// Env resolves variables from the process environment first, then from
// optional dotenv files.
type Env struct {
	dotenv map[string]string
}

// LoadEnv reads the given dotenv files. Missing files are skipped; later
// files do not override earlier ones.
func LoadEnv(files ...string) (Env, error) {
	e := Env{dotenv: map[string]string{}}
	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Env{}, fmt.Errorf("dotenv %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := e.dotenv[k]; !ok {
				e.dotenv[k] = v
			}
		}
	}
	return e, nil
}

func (e Env) Get(key string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return e.dotenv[key]
}

// applyEnv overlays secrets onto cfg.
func applyEnv(cfg *Config, env Env) error {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(env.Get(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Fetch.Cookies.Bilibili, EnvBiliCookie)
	set(&cfg.Fetch.Cookies.Douyin, EnvDouyinCookie)
	set(&cfg.Fetch.Cookies.Weibo, EnvWeiboCookie)
	set(&cfg.WeCom.CorpID, EnvWeComCorpID)
	set(&cfg.WeCom.Secret, EnvWeComSecret)
	set(&cfg.Telegram.Token, EnvTelegramToken)

	if v := strings.TrimSpace(env.Get(EnvWeComAgentID)); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWeComAgentID, err)
		}
		cfg.WeCom.AgentID = id
	}
	return nil
}
