package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider      string `yaml:"provider"`
	ImageProvider string `yaml:"imageProvider" split_words:"true"`
	APIKey        string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	BaseURL       string `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	EmbedModel    string `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ProjectID     string `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location      string `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	TextDim       int    `yaml:"textDim" envconfig:"TEXT_DIM"`
	ImageDim      int    `yaml:"imageDim" envconfig:"IMAGE_DIM"`
	ClipURL       string `yaml:"clipURL" envconfig:"CLIP_URL"`

	VectorStore     string `yaml:"vectorStore" split_words:"true"`
	QdrantURL       string `yaml:"qdrantURL" envconfig:"QDRANT_URL"`
	QdrantAPIKey    string `yaml:"qdrantApiKey" envconfig:"QDRANT_API_KEY"`
	Database        string `yaml:"database" envconfig:"DB_URL"`
	TextCollection  string `yaml:"textCollection" split_words:"true"`
	ImageCollection string `yaml:"imageCollection" split_words:"true"`

	DataDir            string        `yaml:"dataDir" split_words:"true"`
	MinParagraphLength int           `yaml:"minParagraphLength" split_words:"true"`
	FetchTimeout       time.Duration `yaml:"fetchTimeout" split_words:"true"`
	EmbedWorkers       int           `yaml:"embedWorkers" split_words:"true"`
	SourceDir          string        `yaml:"sourceDir" split_words:"true"`

	LogLevel string               `yaml:"logLevel" split_words:"true"`
	Port     int                  `yaml:"port" split_words:"true"`
	Auth     AuthSpecification    `yaml:"auth"`
	Archive  ArchiveSpecification `yaml:"archive"`

	flags *pflag.FlagSet `ignored:"true"`
}

type AuthSpecification struct {
	Enabled   bool   `yaml:"enabled"`
	JwtSecret string `yaml:"jwtSecret" split_words:"true"`
	Issuer    string `yaml:"issuer"`
}

type ArchiveSpecification struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey" split_words:"true"`
	SecretKey string `yaml:"secretKey" split_words:"true"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL" envconfig:"USE_SSL"`
}

const envPrefix = "MMKB"

// UploadDir holds raw uploaded files.
func (s Specification) UploadDir() string { return filepath.Join(s.DataDir, "uploads") }

// ExtractedDir holds the plain-text copy of every extraction.
func (s Specification) ExtractedDir() string { return filepath.Join(s.DataDir, "extracted") }

// ImageDir holds materialized images.
func (s Specification) ImageDir() string { return filepath.Join(s.DataDir, "images") }

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/mmkb.yaml",
				"config/config.yaml",
				"./mmkb.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (s Specification) Validate() error {
	switch strings.ToLower(s.VectorStore) {
	case "qdrant":
		if strings.TrimSpace(s.QdrantURL) == "" {
			return fmt.Errorf("%s_QDRANT_URL is required for the qdrant vector store (env/file/flag)", envPrefix)
		}
	case "postgres":
		if strings.TrimSpace(s.Database) == "" {
			return fmt.Errorf("%s_DB_URL is required for the postgres vector store (env/file/flag)", envPrefix)
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported vector store: %s", s.VectorStore)
	}
	if s.TextDim < 0 || s.ImageDim < 0 {
		return fmt.Errorf("embedding dimensions must not be negative")
	}
	if strings.TrimSpace(s.TextCollection) == "" || strings.TrimSpace(s.ImageCollection) == "" {
		return fmt.Errorf("collection names are required")
	}
	if s.TextCollection == s.ImageCollection {
		return fmt.Errorf("text and image collections must differ, both are %q", s.TextCollection)
	}
	if s.Auth.Enabled && s.Auth.JwtSecret == "" {
		return fmt.Errorf("%s_AUTH_JWT_SECRET is required when auth is enabled", envPrefix)
	}
	return nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Text embedding provider (stub|openai|vertexai)")
	fs.String("image-provider", c.ImageProvider, "Image embedding provider (stub|clip)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-base-url", c.BaseURL, "Provider base URL override")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.Int("text-dim", c.TextDim, "Text embedding dimensionality")
	fs.Int("image-dim", c.ImageDim, "Image embedding dimensionality")
	fs.String("clip-url", c.ClipURL, "CLIP inference server URL")

	fs.String("vector-store", c.VectorStore, "Vector store backend (qdrant|postgres|memory)")
	fs.String("qdrant-url", c.QdrantURL, "Qdrant REST URL")
	fs.String("qdrant-api-key", c.QdrantAPIKey, "Qdrant API key")
	fs.String("db-url", c.Database, "Database URL (DSN) for the postgres vector store")
	fs.String("text-collection", c.TextCollection, "Text collection name")
	fs.String("image-collection", c.ImageCollection, "Image collection name")

	fs.String("data-dir", c.DataDir, "Directory for uploads, extracted text and images")
	fs.Int("min-paragraph-length", c.MinParagraphLength, "Minimum characters per merged paragraph")
	fs.Duration("fetch-timeout", c.FetchTimeout, "Timeout for remote image downloads")
	fs.Int("embed-workers", c.EmbedWorkers, "Concurrent embedding calls")
	fs.String("source-dir", c.SourceDir, "Directory to ingest (indexer)")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	fs.Bool("auth-enabled", c.Auth.Enabled, "Require bearer tokens on the API")
	fs.String("auth-jwt-secret", c.Auth.JwtSecret, "JWT secret for signing tokens")
	fs.String("auth-issuer", c.Auth.Issuer, "JWT issuer")

	fs.Bool("archive-enabled", c.Archive.Enabled, "Mirror uploads and images to object storage")
	fs.String("archive-endpoint", c.Archive.Endpoint, "S3/MinIO endpoint")
	fs.String("archive-access-key", c.Archive.AccessKey, "S3/MinIO access key")
	fs.String("archive-secret-key", c.Archive.SecretKey, "S3/MinIO secret key")
	fs.String("archive-bucket", c.Archive.Bucket, "Archive bucket")
	fs.String("archive-region", c.Archive.Region, "Archive region")
	fs.Bool("archive-use-ssl", c.Archive.UseSSL, "Use TLS for the archive endpoint")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("image-provider", &c.ImageProvider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-base-url", &c.BaseURL)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setInt("text-dim", &c.TextDim)
	setInt("image-dim", &c.ImageDim)
	setStr("clip-url", &c.ClipURL)

	setStr("vector-store", &c.VectorStore)
	setStr("qdrant-url", &c.QdrantURL)
	setStr("qdrant-api-key", &c.QdrantAPIKey)
	setStr("db-url", &c.Database)
	setStr("text-collection", &c.TextCollection)
	setStr("image-collection", &c.ImageCollection)

	setStr("data-dir", &c.DataDir)
	setInt("min-paragraph-length", &c.MinParagraphLength)
	setDur("fetch-timeout", &c.FetchTimeout)
	setInt("embed-workers", &c.EmbedWorkers)
	setStr("source-dir", &c.SourceDir)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)

	setBool("auth-enabled", &c.Auth.Enabled)
	setStr("auth-jwt-secret", &c.Auth.JwtSecret)
	setStr("auth-issuer", &c.Auth.Issuer)

	setBool("archive-enabled", &c.Archive.Enabled)
	setStr("archive-endpoint", &c.Archive.Endpoint)
	setStr("archive-access-key", &c.Archive.AccessKey)
	setStr("archive-secret-key", &c.Archive.SecretKey)
	setStr("archive-bucket", &c.Archive.Bucket)
	setStr("archive-region", &c.Archive.Region)
	setBool("archive-use-ssl", &c.Archive.UseSSL)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.Provider = "stub"
	c.ImageProvider = "stub"
	c.Location = "us-central1"
	c.TextDim = 384
	c.ImageDim = 512
	c.VectorStore = "qdrant"
	c.QdrantURL = "http://localhost:6333"
	c.TextCollection = "text_chunks"
	c.ImageCollection = "image_chunks"
	c.DataDir = "data"
	c.MinParagraphLength = 50
	c.FetchTimeout = 10 * time.Second
	c.SourceDir = "."
	c.Port = 8000
	c.Auth.Enabled = false
	c.Auth.Issuer = "mmkb"
	c.Archive.Bucket = "mmkb"
	c.Archive.Region = "us-east-1"
}
