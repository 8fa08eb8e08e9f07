package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"gopkg.in/yaml.v2"
)

// ParameterStorePrefix marks a config source that lives in AWS SSM Parameter Store
const ParameterStorePrefix = "ssm:"

// ServerConfig holds the listener settings
type ServerConfig struct {
	HTTPPort        int   `yaml:"http_port" json:"http_port" toml:"http_port"`
	GRPCPort        int   `yaml:"grpc_port" json:"grpc_port" toml:"grpc_port"`
	MaxUploadBytes  int64 `yaml:"max_upload_bytes" json:"max_upload_bytes" toml:"max_upload_bytes"`
	ShutdownTimeout int   `yaml:"shutdown_timeout" json:"shutdown_timeout" toml:"shutdown_timeout"`
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level  string `yaml:"level" json:"level" toml:"level"`
	Format string `yaml:"format" json:"format" toml:"format"`
}

// DocumentDBConfig describes the record store connection
type DocumentDBConfig struct {
	ConnectionString  string `yaml:"connection_string" json:"connection_string" toml:"connection_string"`
	PasswordSecretArn string `yaml:"password_secret_arn" json:"password_secret_arn" toml:"password_secret_arn"`
	DatabaseName      string `yaml:"database_name" json:"database_name" toml:"database_name"`
	Collection        string `yaml:"collection" json:"collection" toml:"collection"`
	AuthMechanism     string `yaml:"auth_mechanism" json:"auth_mechanism" toml:"auth_mechanism"`
	TLSCAFile         string `yaml:"tls_ca_file" json:"tls_ca_file" toml:"tls_ca_file"`
	SkipTLSVerify     bool   `yaml:"skip_tls_verify" json:"skip_tls_verify" toml:"skip_tls_verify"`
}

// S3Config describes the blob store bucket
type S3Config struct {
	BucketName     string `yaml:"bucket_name" json:"bucket_name" toml:"bucket_name"`
	Endpoint       string `yaml:"endpoint" json:"endpoint" toml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style" json:"force_path_style" toml:"force_path_style"`
}

// Config represents the server configuration
type Config struct {
	Server ServerConfig `yaml:"server" json:"server" toml:"server"`
	Log    LogConfig    `yaml:"log" json:"log" toml:"log"`
	AWS    struct {
		Region     string           `yaml:"region" json:"region" toml:"region"`
		DocumentDB DocumentDBConfig `yaml:"documentdb" json:"documentdb" toml:"documentdb"`
		S3         S3Config         `yaml:"s3" json:"s3" toml:"s3"`
	} `yaml:"aws" json:"aws" toml:"aws"`
}

// envBindings maps config keys to the environment variables that override them
var envBindings = map[string]string{
	"server.http_port":                   "PORT",
	"server.grpc_port":                   "GRPC_PORT",
	"log.level":                          "LOG_LEVEL",
	"log.format":                         "LOG_FORMAT",
	"aws.region":                         "AWS_REGION",
	"aws.documentdb.connection_string":   "MONGO_URI",
	"aws.documentdb.database_name":       "MONGO_DATABASE",
	"aws.documentdb.collection":          "MONGO_COLLECTION",
	"aws.documentdb.password_secret_arn": "DOCUMENTDB_PASSWORD_SECRET_ARN",
	"aws.s3.bucket_name":                 "S3_BUCKET",
	"aws.s3.endpoint":                    "S3_ENDPOINT",
}

// LoadConfig loads the configuration from source and applies environment
// and flag overrides bound in v. source may be empty, a YAML or TOML file
// path, or a Parameter Store name prefixed with "ssm:".
func LoadConfig(source string, v *viper.Viper) (*Config, error) {
	var (
		config *Config
		err    error
	)

	switch {
	case source == "":
		config = &Config{}
	case strings.HasPrefix(source, ParameterStorePrefix):
		config, err = loadConfigFromParameterStore(strings.TrimPrefix(source, ParameterStorePrefix))
	default:
		config, err = loadConfigFromFile(source)
	}
	if err != nil {
		return nil, err
	}

	if v == nil {
		v = viper.New()
	}
	if err := applyOverrides(config, v); err != nil {
		return nil, err
	}

	applyDefaults(config)

	return config, nil
}

// DefaultDotEnvFile is the env file read from the working directory
const DefaultDotEnvFile = ".env"

// LoadDotEnv reads KEY=VALUE pairs from path and registers the bound
// variables in v below the real environment and flags. A missing file is
// not an error.
func LoadDotEnv(path string, v *viper.Viper) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	dotenv := viper.New()
	dotenv.SetConfigFile(path)
	dotenv.SetConfigType("env")
	if err := dotenv.ReadInConfig(); err != nil {
		return newError(ErrConfiguration, err, "failed to read env file %s", path)
	}

	// Keys read from env files are lowercased
	for key, env := range envBindings {
		name := strings.ToLower(env)
		if dotenv.IsSet(name) {
			v.SetDefault(key, dotenv.GetString(name))
		}
	}

	return nil
}

// loadConfigFromFile loads the configuration from a YAML or TOML file
func loadConfigFromFile(path string) (*Config, error) {
	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, newError(ErrConfiguration, nil, "config file not found: %s", path)
	}

	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrConfiguration, err, "failed to read config file")
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, newError(ErrConfiguration, err, "failed to parse config file")
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, newError(ErrConfiguration, err, "failed to parse config file")
		}
	}

	return &config, nil
}

// loadConfigFromParameterStore loads the configuration from AWS Parameter Store
func loadConfigFromParameterStore(paramName string) (*Config, error) {
	// Create AWS session
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, newError(ErrConfiguration, err, "failed to create AWS session")
	}

	// Get parameter from Parameter Store
	param, err := ssm.New(sess).GetParameter(&ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, newError(ErrConfiguration, err, "failed to get parameter %s from Parameter Store", paramName)
	}

	return parseParameterValue(aws.StringValue(param.Parameter.Value))
}

// parseParameterValue decodes the JSON document stored in a parameter
func parseParameterValue(value string) (*Config, error) {
	var config Config
	if err := json.Unmarshal([]byte(value), &config); err != nil {
		return nil, newError(ErrConfiguration, err, "failed to parse parameter value as JSON")
	}
	return &config, nil
}

// applyOverrides copies every bound environment variable or changed flag into config
func applyOverrides(config *Config, v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return newError(ErrConfiguration, err, "failed to bind %s", env)
		}
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}

	setInt("server.http_port", &config.Server.HTTPPort)
	setInt("server.grpc_port", &config.Server.GRPCPort)
	setString("log.level", &config.Log.Level)
	setString("log.format", &config.Log.Format)
	setString("aws.region", &config.AWS.Region)
	setString("aws.documentdb.connection_string", &config.AWS.DocumentDB.ConnectionString)
	setString("aws.documentdb.database_name", &config.AWS.DocumentDB.DatabaseName)
	setString("aws.documentdb.collection", &config.AWS.DocumentDB.Collection)
	setString("aws.documentdb.password_secret_arn", &config.AWS.DocumentDB.PasswordSecretArn)
	setString("aws.s3.bucket_name", &config.AWS.S3.BucketName)
	setString("aws.s3.endpoint", &config.AWS.S3.Endpoint)

	return nil
}

// applyDefaults sets default values for the configuration
func applyDefaults(config *Config) {
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 3000
	}
	if config.Server.GRPCPort == 0 {
		config.Server.GRPCPort = 8081
	}
	if config.Server.MaxUploadBytes == 0 {
		config.Server.MaxUploadBytes = 32 << 20
	}
	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 30
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
	if config.AWS.DocumentDB.DatabaseName == "" {
		config.AWS.DocumentDB.DatabaseName = databaseFromURI(config.AWS.DocumentDB.ConnectionString)
	}
	if config.AWS.DocumentDB.Collection == "" {
		config.AWS.DocumentDB.Collection = "storedobjects"
	}
	// The region and bucket are left as configured. A missing bucket is
	// reported when an upload is attempted.
}

// databaseFromURI returns the database named in the connection string path, or "test"
func databaseFromURI(uri string) string {
	if uri == "" {
		return "test"
	}
	cs, err := connstring.Parse(uri)
	if err != nil || cs.Database == "" {
		return "test"
	}
	return cs.Database
}

// Validate checks the settings required to start the server
func (c *Config) Validate() error {
	if c.AWS.DocumentDB.ConnectionString == "" {
		return newError(ErrConfiguration, nil, "database connection string is required")
	}
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return newError(ErrConfiguration, nil, "invalid http port %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort < 1 || c.Server.GRPCPort > 65535 {
		return newError(ErrConfiguration, nil, "invalid grpc port %d", c.Server.GRPCPort)
	}
	if c.Server.HTTPPort == c.Server.GRPCPort {
		return newError(ErrConfiguration, nil, "http and grpc ports must differ")
	}
	return nil
}

// ShutdownTimeoutDuration returns the graceful shutdown budget
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}
