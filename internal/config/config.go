package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed parameters.yaml
var parametersYAML []byte

type Config struct {
	Library    LibraryConfig
	Index      IndexConfig
	Embedding  EmbeddingConfig
	Detection  DetectionConfig
	Web        WebConfig
	Parameters ParametersConfig
}

type LibraryConfig struct {
	ImageDir string // base directory holding one folder of images per species
}

type IndexConfig struct {
	Dir string // directory with precomputed embedding index artifacts (optional)
}

type EmbeddingConfig struct {
	URL   string // embedding service base URL (defaults to http://localhost:8000)
	Model string // model identifier sent with embed requests (defaults to resnet18)
	Dim   int    // embedding vector dimension (defaults to 512)
}

type DetectionConfig struct {
	Workers         int // worker pool size for hashing and embedding (default 4)
	PreviewWarnSize int // queued files per species that trigger a preview warning (default 50)
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // exact origins allowed by CORS besides localhost
}

type ParametersConfig struct {
	Parameters []ParameterInfo `yaml:"parameters"`
}

// ParameterInfo describes one tunable analysis parameter for clients.
type ParameterInfo struct {
	Name        string  `yaml:"name" json:"name"`
	Label       string  `yaml:"label" json:"label"`
	Description string  `yaml:"description" json:"description"`
	Type        string  `yaml:"type" json:"type"`
	Min         float64 `yaml:"min" json:"min"`
	Max         float64 `yaml:"max" json:"max"`
	Default     float64 `yaml:"default" json:"default"`
	Step        float64 `yaml:"step" json:"step"`
}

// InRange reports whether a value is within the parameter's bounds.
func (p ParameterInfo) InRange(v float64) bool {
	return v >= p.Min && v <= p.Max
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envStr reads an environment variable with a fallback.
func envStr(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var params ParametersConfig
	if err := yaml.Unmarshal(parametersYAML, &params); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded parameters.yaml: " + err.Error())
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("WEB_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		Library: LibraryConfig{
			ImageDir: os.Getenv("CURATOR_IMAGE_DIR"),
		},
		Index: IndexConfig{
			Dir: os.Getenv("CURATOR_INDEX_DIR"),
		},
		Embedding: EmbeddingConfig{
			URL:   envStr("CURATOR_EMBEDDING_URL", "http://localhost:8000"),
			Model: envStr("CURATOR_EMBEDDING_MODEL", "resnet18"),
			Dim:   envInt("CURATOR_EMBEDDING_DIM", 512),
		},
		Detection: DetectionConfig{
			Workers:         envInt("CURATOR_WORKERS", 4),
			PreviewWarnSize: envInt("CURATOR_PREVIEW_WARN", 50),
		},
		Web: WebConfig{
			Host:           os.Getenv("WEB_HOST"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: origins,
		},
		Parameters: params,
	}
}

// Parameter returns the metadata for one analysis parameter by name.
func (c *Config) Parameter(name string) (ParameterInfo, bool) {
	for _, p := range c.Parameters.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterInfo{}, false
}
