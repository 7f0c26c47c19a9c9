/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package server

import (
	"net"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// ticksPerSecond is the fixed simulation rate.
const ticksPerSecond = 66

// TickInterval is the target duration of one server tick.
const TickInterval = time.Second / ticksPerSecond

// DefaultMetricInterval is how often counters are snapshotted for the
// monitoring endpoint when no interval is configured.
const DefaultMetricInterval = time.Minute

// Config is a server config structure
type Config struct {
	IP             net.IP
	Port           int
	LogLevel       string
	MonitoringPort int
	MetricInterval time.Duration
	ConfigFile     string
	MapName        string
	MapPath        string

	// ShowErrorsToClients puts the real error text in ConnectReject
	// replies. This may expose internal information about the server
	// or other clients; for debugging you probably want it on.
	ShowErrorsToClients bool

	DynamicConfig
}

// DynamicConfig holds the server identity settings a YAML config file
// may override.
type DynamicConfig struct {
	HostName    string `yaml:"hostname"`
	GameDir     string `yaml:"gamedir"`
	SkyName     string `yaml:"skyname"`
	Greeting    string `yaml:"greeting"`
	Protocol    int16  `yaml:"protocol"`
	MaxClients  uint8  `yaml:"maxclients"`
	MaxClasses  uint16 `yaml:"maxclasses"`
	ServerCount int32  `yaml:"servercount"`
}

// ReadDynamicConfig reads the config file into dc. Keys absent from
// the file keep whatever dc already holds, so defaults survive a
// partial config.
func ReadDynamicConfig(path string, dc *DynamicConfig) error {
	cData, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(cData, dc)
}
