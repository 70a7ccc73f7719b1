package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// PORTFOLIO_GITHUB_TOKEN for github.token.
const EnvPrefix = "PORTFOLIO"

// Backend kinds, chosen by which credentials are present.
const (
	BackendFirestore = "firestore"
	BackendGitHub    = "github"
	BackendLocal     = "local"
)

type Config struct {
	Addr      string          `mapstructure:"addr"`
	SiteDir   string          `mapstructure:"siteDir"`
	BundleDir string          `mapstructure:"bundleDir"`
	CachePath string          `mapstructure:"cachePath"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
	GitHub    GitHubConfig    `mapstructure:"github"`
}

type AuthConfig struct {
	Secret      string        `mapstructure:"secret"`
	SessionKey  string        `mapstructure:"sessionKey"`
	SessionTTL  time.Duration `mapstructure:"sessionTTL"`
	MaxFailures int           `mapstructure:"maxFailures"`
	Lockout     time.Duration `mapstructure:"lockout"`
}

type FirestoreConfig struct {
	ProjectID      string `mapstructure:"projectID"`
	APIKey         string `mapstructure:"apiKey"`
	Database       string `mapstructure:"database"`
	Collection     string `mapstructure:"collection"`
	SiteCollection string `mapstructure:"siteCollection"`
}

type GitHubConfig struct {
	Token  string `mapstructure:"token"`
	Owner  string `mapstructure:"owner"`
	Repo   string `mapstructure:"repo"`
	Branch string `mapstructure:"branch"`
	Folder string `mapstructure:"folder"`
}

// SetDefaults registers every key, so environment overrides work for keys
// absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("siteDir", "site")
	v.SetDefault("bundleDir", "bundle")
	v.SetDefault("cachePath", "data/cache.db")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.sessionKey", "")
	v.SetDefault("auth.sessionTTL", "12h")
	v.SetDefault("auth.maxFailures", 3)
	v.SetDefault("auth.lockout", "30s")

	v.SetDefault("firestore.projectID", "")
	v.SetDefault("firestore.apiKey", "")
	v.SetDefault("firestore.database", "(default)")
	v.SetDefault("firestore.collection", "content")
	v.SetDefault("firestore.siteCollection", "site")

	v.SetDefault("github.token", "")
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.branch", "")
	v.SetDefault("github.folder", "content")
}

// Read loads configuration from cfgFile, or ./config.yaml when cfgFile is
// empty, then applies environment overrides. A missing default file is not an
// error. The returned string names the file used, if any.
func Read(cfgFile string) (Config, string, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	used := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return Config{}, "", fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		used = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return cfg, used, nil
}

// Backend picks the storage backend from the credentials present.
func (c Config) Backend() string {
	switch {
	case c.Firestore.ProjectID != "" && c.Firestore.APIKey != "":
		return BackendFirestore
	case c.GitHub.Token != "" && c.GitHub.Owner != "" && c.GitHub.Repo != "":
		return BackendGitHub
	default:
		return BackendLocal
	}
}
