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
	"os"
	"testing"
	"time"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{}

	err := cnf.validateAndAddDefaults()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cnf.MWL.AETitle != DEFAULT_MWL_AET {
		t.Errorf("Expected MWL AE title %s, got %s", DEFAULT_MWL_AET, cnf.MWL.AETitle)
	}
	if cnf.MWL.Port != DEFAULT_MWL_PORT {
		t.Errorf("Expected MWL port %d, got %d", DEFAULT_MWL_PORT, cnf.MWL.Port)
	}
	if cnf.PACS.AETitle != DEFAULT_PACS_AET {
		t.Errorf("Expected PACS AE title %s, got %s", DEFAULT_PACS_AET, cnf.PACS.AETitle)
	}
	if cnf.PACS.Port != DEFAULT_PACS_PORT {
		t.Errorf("Expected PACS port %d, got %d", DEFAULT_PACS_PORT, cnf.PACS.Port)
	}
	if cnf.PACS.StoragePath != DEFAULT_STORAGE_PATH {
		t.Errorf("Expected storage path %s, got %s", DEFAULT_STORAGE_PATH, cnf.PACS.StoragePath)
	}
	if cnf.Upload.Method != "PUT" {
		t.Errorf("Expected upload method PUT, got %s", cnf.Upload.Method)
	}
	if cnf.Upload.MaxRetries != 3 || cnf.Upload.BatchSize != 10 {
		t.Errorf("Unexpected upload defaults: retries=%d batch=%d", cnf.Upload.MaxRetries, cnf.Upload.BatchSize)
	}
	if cnf.Upload.InitialBackoff != 1 || cnf.Upload.MaxBackoff != 60 || cnf.Upload.BackoffMultiplier != 2 {
		t.Errorf("Unexpected backoff defaults: %+v", cnf.Upload)
	}
	if cnf.Upload.VerifySSL == nil || !*cnf.Upload.VerifySSL {
		t.Errorf("Expected SSL verification to default to true")
	}
	if cnf.Queue.CommandsQueue != DEFAULT_COMMAND_QUEUE {
		t.Errorf("Expected commands queue %s, got %s", DEFAULT_COMMAND_QUEUE, cnf.Queue.CommandsQueue)
	}
	if cnf.Relay.KeyName != DEFAULT_RELAY_KEY {
		t.Errorf("Expected relay key name %s, got %s", DEFAULT_RELAY_KEY, cnf.Relay.KeyName)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
}

func TestValidateAndAddDefaults_Errors(t *testing.T) {
	cnf := Configuration{Upload: UploadConfig{Method: "DELETE"}}
	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "upload method must be PUT or POST" {
		t.Errorf("Expected upload method error, got %v", err)
	}

	cnf = Configuration{Upload: UploadConfig{InitialBackoff: 10, MaxBackoff: 5}}
	err = cnf.validateAndAddDefaults()
	if err == nil {
		t.Errorf("Expected backoff range error, got nil")
	}

	cnf = Configuration{PACS: PACSConfig{AETitle: "A_TITLE_THAT_IS_TOO_LONG"}}
	err = cnf.validateAndAddDefaults()
	if err == nil {
		t.Errorf("Expected AE title length error, got nil")
	}

	cnf = Configuration{Upload: UploadConfig{Method: " post "}}
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cnf.Upload.Method != "POST" {
		t.Errorf("Expected method to be normalised to POST, got %s", cnf.Upload.Method)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "gateway.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		MWL:         MWLConfig{DBPath: "/tmp/worklist-from-file.db"},
		Upload:      UploadConfig{Endpoint: "https://file.example/upload"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	t.Setenv("MWL_AET", "ENV_MWL")
	t.Setenv("UPLOAD_POLL_INTERVAL", "0.5")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if loadedConfig.MWL.AETitle != "ENV_MWL" {
		t.Errorf("Expected MWL AE title to be 'ENV_MWL', got '%s'", loadedConfig.MWL.AETitle)
	}
	if loadedConfig.MWL.DBPath != "/tmp/worklist-from-file.db" {
		t.Errorf("Expected MWL db path from file, got '%s'", loadedConfig.MWL.DBPath)
	}
	if loadedConfig.Upload.Endpoint != "https://file.example/upload" {
		t.Errorf("Expected upload endpoint from file, got '%s'", loadedConfig.Upload.Endpoint)
	}
	if Seconds(loadedConfig.Upload.PollInterval) != 500*time.Millisecond {
		t.Errorf("Expected poll interval of 500ms, got %v", Seconds(loadedConfig.Upload.PollInterval))
	}
}

func TestInitConfig_MissingFile(t *testing.T) {
	if err := InitConfig("/nonexistent/gateway.json"); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if loadedConfig.PACS.DBPath != DEFAULT_PACS_DB_PATH {
		t.Errorf("Expected default PACS db path, got '%s'", loadedConfig.PACS.DBPath)
	}
}

func TestMockConfig(t *testing.T) {
	mock := MockDefaults()
	mock.ProjectName = "Mocked"
	MockConfig(mock)

	cnf, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if cnf.ProjectName != "Mocked" {
		t.Errorf("Expected mocked project name, got %s", cnf.ProjectName)
	}
}
