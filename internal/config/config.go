// Package config handles loading and parsing of the gateway's
// configuration, following the teacher's Load/defaultConfig/applyDefaults
// three-step shape over gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Gateway       GatewayConfig       `yaml:"gateway"`
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Storage       StorageConfig       `yaml:"storage"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// GatewayConfig holds the translation-engine settings enumerated by
// spec.md §6: the BS root, default durability, filename limit, XML
// rendering options, and the bidirectional storage-class/durability
// lookup tables.
type GatewayConfig struct {
	// BucketPath is the BS root directory all buckets are created under
	// (used by the local backend; ignored by cloud backends, which root
	// at the configured bucket/container instead).
	BucketPath string `yaml:"bucket_path"`
	// DefaultDurability is the durability level assigned when a PUT's
	// x-amz-storage-class is absent or unrecognized.
	DefaultDurability int `yaml:"default_durability"`
	// MaxFilenameLength bounds the length of a sanitized key and of the
	// full BS object path built from it. Single path segments are bounded
	// separately by pathcodec's 255-byte segment limit.
	MaxFilenameLength int `yaml:"max_filename_length"`
	// PrettyPrint indents rendered XML responses for readability.
	PrettyPrint bool `yaml:"pretty_print"`
	// S3Version is the schema version embedded in every XML response's
	// xmlns attribute (e.g. "2006-03-01").
	S3Version string `yaml:"s3_version"`
	// StorageClassToDurability maps S3 storage-class strings to BS
	// durability levels.
	StorageClassToDurability map[string]int `yaml:"storage_class_mapping_to_durability"`
	// DurabilityToStorageClass maps BS durability levels back to S3
	// storage-class strings.
	DurabilityToStorageClass map[int]string `yaml:"durability_mapping_to_storage_class"`
}

// ObservabilityConfig holds settings for metrics and health-check endpoints.
type ObservabilityConfig struct {
	Metrics     bool `yaml:"metrics"`
	HealthCheck bool `yaml:"health_check"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Region          string `yaml:"region"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"`
}

// AuthConfig holds the optional static SigV4 credential pair. Empty
// AccessKey disables request signing verification.
type AuthConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// StorageConfig selects and configures the bsclient.Client backend.
type StorageConfig struct {
	// Backend is one of "local", "aws", "gcp", "azure".
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
	AWS     AWSConfig   `yaml:"aws"`
	GCP     GCPConfig   `yaml:"gcp"`
	Azure   AzureConfig `yaml:"azure"`
}

// LocalConfig holds local-filesystem backend settings.
type LocalConfig struct {
	RootDir string `yaml:"root_dir"`
}

// AWSConfig holds AWS S3-backed backend settings.
type AWSConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GCPConfig holds GCS-backed backend settings.
type GCPConfig struct {
	Bucket          string `yaml:"bucket"`
	Project         string `yaml:"project"`
	CredentialsFile string `yaml:"credentials_file"`
}

// AzureConfig holds Azure Blob-backed backend settings.
type AzureConfig struct {
	Container          string `yaml:"container"`
	Account            string `yaml:"account"`
	AccountURL         string `yaml:"account_url"`
	ConnectionString   string `yaml:"connection_string"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
}

// Load reads a YAML configuration file from path and returns a parsed
// Config, falling back to mantagw.example.yaml alongside it, then in the
// parent directory, applying defaults for anything left unset.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "mantagw.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "mantagw.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			BucketPath:        "/",
			DefaultDurability: 2,
			MaxFilenameLength: 1024,
			PrettyPrint:       false,
			S3Version:         "2006-03-01",
			StorageClassToDurability: map[string]int{
				"STANDARD":           2,
				"REDUCED_REDUNDANCY": 1,
			},
			DurabilityToStorageClass: map[int]string{
				2: "STANDARD",
				1: "REDUCED_REDUNDANCY",
			},
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9000,
			Region:          "us-east-1",
			ShutdownTimeout: 30,
		},
		Storage: StorageConfig{
			Backend: "local",
			Local: LocalConfig{
				RootDir: "./data/buckets",
			},
			AWS: AWSConfig{
				Region: "us-east-1",
			},
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
	}
}

// applyDefaults fills in any fields still at their zero value after YAML
// unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.BucketPath == "" {
		cfg.Gateway.BucketPath = "/"
	}
	if cfg.Gateway.MaxFilenameLength == 0 {
		cfg.Gateway.MaxFilenameLength = 1024
	}
	if cfg.Gateway.S3Version == "" {
		cfg.Gateway.S3Version = "2006-03-01"
	}
	if cfg.Gateway.StorageClassToDurability == nil {
		cfg.Gateway.StorageClassToDurability = map[string]int{
			"STANDARD":           2,
			"REDUCED_REDUNDANCY": 1,
		}
	}
	if cfg.Gateway.DurabilityToStorageClass == nil {
		cfg.Gateway.DurabilityToStorageClass = map[int]string{
			2: "STANDARD",
			1: "REDUCED_REDUNDANCY",
		}
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Server.Region == "" {
		cfg.Server.Region = "us-east-1"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "./data/buckets"
	}
	if cfg.Storage.AWS.Region == "" {
		cfg.Storage.AWS.Region = "us-east-1"
	}
}
