/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	DEFAULT_MWL_AET       = "MWL_SCP"
	DEFAULT_MWL_PORT      = 4243
	DEFAULT_MWL_DB_PATH   = "/var/lib/pacs/worklist.db"
	DEFAULT_PACS_AET      = "SCREENING_PACS"
	DEFAULT_PACS_PORT     = 4244
	DEFAULT_PACS_DB_PATH  = "/var/lib/pacs/pacs.db"
	DEFAULT_STORAGE_PATH  = "/var/lib/pacs/storage"
	DEFAULT_UPLOAD_URL    = "http://localhost:8000/api/dicom/upload"
	DEFAULT_COMMAND_QUEUE = "worklist-commands"
	DEFAULT_RELAY_KEY     = "RootManageSharedAccessKey"
)

var ConfigStore atomic.Value

type MWLConfig struct {
	AETitle string `json:"ae_title" envconfig:"MWL_AET"`
	Port    int    `json:"port" envconfig:"MWL_PORT"`
	DBPath  string `json:"db_path" envconfig:"MWL_DB_PATH"`
}

type PACSConfig struct {
	AETitle     string `json:"ae_title" envconfig:"PACS_AET"`
	Port        int    `json:"port" envconfig:"PACS_PORT"`
	DBPath      string `json:"db_path" envconfig:"PACS_DB_PATH"`
	StoragePath string `json:"storage_path" envconfig:"PACS_STORAGE_PATH"`
}

// DimseConfig selects the registered wire transport the MWL and PACS listeners run on.
type DimseConfig struct {
	Transport string `json:"transport" envconfig:"DIMSE_TRANSPORT"`
}

// UploadConfig drives the outbound upload engine. Durations are in seconds.
type UploadConfig struct {
	Endpoint          string  `json:"endpoint" envconfig:"CLOUD_API_ENDPOINT"`
	APIKey            string  `json:"api_key" envconfig:"CLOUD_API_KEY"`
	Method            string  `json:"method" envconfig:"UPLOAD_METHOD"`
	Timeout           float64 `json:"timeout" envconfig:"UPLOAD_TIMEOUT"`
	VerifySSL         *bool   `json:"verify_ssl" envconfig:"UPLOAD_VERIFY_SSL"`
	PollInterval      float64 `json:"poll_interval" envconfig:"UPLOAD_POLL_INTERVAL"`
	BatchSize         int     `json:"batch_size" envconfig:"UPLOAD_BATCH_SIZE"`
	MaxRetries        int     `json:"max_retries" envconfig:"MAX_UPLOAD_RETRIES"`
	InitialBackoff    float64 `json:"initial_backoff" envconfig:"UPLOAD_INITIAL_BACKOFF"`
	MaxBackoff        float64 `json:"max_backoff" envconfig:"UPLOAD_MAX_BACKOFF"`
	BackoffMultiplier float64 `json:"backoff_multiplier" envconfig:"UPLOAD_BACKOFF_MULTIPLIER"`
}

type RelayConfig struct {
	Namespace        string `json:"namespace" envconfig:"AZURE_RELAY_NAMESPACE"`
	HybridConnection string `json:"hybrid_connection" envconfig:"AZURE_RELAY_HYBRID_CONNECTION"`
	KeyName          string `json:"key_name" envconfig:"AZURE_RELAY_KEY_NAME"`
	SharedAccessKey  string `json:"shared_access_key" envconfig:"AZURE_RELAY_SHARED_ACCESS_KEY"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"GATEWAY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"GATEWAY_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	CommandsQueue string `json:"commands_queue" envconfig:"SERVICE_BUS_COMMANDS_QUEUE"`
	Concurrency   int    `json:"concurrency" envconfig:"GATEWAY_QUEUE_CONCURRENCY"`
}

type ServerConfig struct {
	Port      string `json:"port" envconfig:"GATEWAY_SERVER_PORT"`
	Secure    bool   `json:"secure" envconfig:"GATEWAY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"GATEWAY_SERVER_SECRET_KEY"`
}

type TransformConfig struct {
	Enabled      *bool `json:"enabled" envconfig:"TRANSFORM_ENABLED"`
	MaxDimension int   `json:"max_dimension" envconfig:"IMAGE_MAX_DIMENSION"`
}

// TracingConfig points span export at an OTLP/HTTP collector. Tracing is
// off when Endpoint is empty.
type TracingConfig struct {
	Endpoint string `json:"endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"GATEWAY_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string          `json:"project_name" envconfig:"GATEWAY_PROJECT_NAME"`
	LogLevel     string          `json:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat    string          `json:"log_format" envconfig:"LOG_FORMAT"`
	MWL          MWLConfig       `json:"mwl"`
	PACS         PACSConfig      `json:"pacs"`
	Dimse        DimseConfig     `json:"dimse"`
	Upload       UploadConfig    `json:"upload"`
	Relay        RelayConfig     `json:"relay"`
	Redis        RedisConfig     `json:"redis"`
	Queue        QueueConfig     `json:"queue"`
	Server       ServerConfig    `json:"server"`
	Transform    TransformConfig `json:"transform"`
	Notification Notification    `json:"notification"`
	Tracing      TracingConfig   `json:"tracing"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("gateway", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	configureLogging(&cnf)
	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded. Create a json file called gateway.json or set the environment variables")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Screening Gateway"
	}

	cnf.MWL.AETitle = strings.TrimSpace(cnf.MWL.AETitle)
	cnf.PACS.AETitle = strings.TrimSpace(cnf.PACS.AETitle)
	cnf.Upload.Endpoint = strings.TrimSpace(cnf.Upload.Endpoint)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)

	if cnf.MWL.AETitle == "" {
		cnf.MWL.AETitle = DEFAULT_MWL_AET
	}
	if cnf.MWL.Port == 0 {
		cnf.MWL.Port = DEFAULT_MWL_PORT
	}
	if cnf.MWL.DBPath == "" {
		cnf.MWL.DBPath = DEFAULT_MWL_DB_PATH
	}

	if cnf.PACS.AETitle == "" {
		cnf.PACS.AETitle = DEFAULT_PACS_AET
	}
	if cnf.PACS.Port == 0 {
		cnf.PACS.Port = DEFAULT_PACS_PORT
	}
	if cnf.PACS.DBPath == "" {
		cnf.PACS.DBPath = DEFAULT_PACS_DB_PATH
	}
	if cnf.PACS.StoragePath == "" {
		cnf.PACS.StoragePath = DEFAULT_STORAGE_PATH
	}

	if len(cnf.MWL.AETitle) > 16 || len(cnf.PACS.AETitle) > 16 {
		return errors.New("AE titles must be at most 16 characters")
	}

	if err := cnf.Upload.addDefaults(); err != nil {
		return err
	}

	if cnf.Relay.KeyName == "" {
		cnf.Relay.KeyName = DEFAULT_RELAY_KEY
	}
	if cnf.Queue.CommandsQueue == "" {
		cnf.Queue.CommandsQueue = DEFAULT_COMMAND_QUEUE
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 5
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Transform.Enabled == nil {
		enabled := true
		cnf.Transform.Enabled = &enabled
	}
	if cnf.Transform.MaxDimension <= 0 {
		cnf.Transform.MaxDimension = 512
	}

	if cnf.LogLevel == "" {
		cnf.LogLevel = "info"
	}
	if cnf.LogFormat == "" {
		cnf.LogFormat = "text"
	}
	return nil
}

func (u *UploadConfig) addDefaults() error {
	if u.Endpoint == "" {
		u.Endpoint = DEFAULT_UPLOAD_URL
	}
	u.Method = strings.ToUpper(strings.TrimSpace(u.Method))
	switch u.Method {
	case "":
		u.Method = "PUT"
	case "PUT", "POST":
	default:
		return errors.New("upload method must be PUT or POST")
	}
	if u.Timeout <= 0 {
		u.Timeout = 30
	}
	if u.VerifySSL == nil {
		verify := true
		u.VerifySSL = &verify
	}
	if u.PollInterval <= 0 {
		u.PollInterval = 2
	}
	if u.BatchSize <= 0 {
		u.BatchSize = 10
	}
	if u.MaxRetries <= 0 {
		u.MaxRetries = 3
	}
	if u.InitialBackoff <= 0 {
		u.InitialBackoff = 1
	}
	if u.MaxBackoff <= 0 {
		u.MaxBackoff = 60
	}
	if u.BackoffMultiplier <= 1 {
		u.BackoffMultiplier = 2
	}
	if u.MaxBackoff < u.InitialBackoff {
		return errors.New("upload max backoff must not be lower than the initial backoff")
	}
	return nil
}

// Seconds converts a fractional second value from the configuration into a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

// MockDefaults returns a configuration with every default applied, for tests.
func MockDefaults() *Configuration {
	cnf := &Configuration{}
	_ = cnf.validateAndAddDefaults()
	return cnf
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}

func configureLogging(cnf *Configuration) {
	level, err := logrus.ParseLevel(cnf.LogLevel)
	if err != nil {
		log.Printf("Warning: invalid log level %q, using info", cnf.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(cnf.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
