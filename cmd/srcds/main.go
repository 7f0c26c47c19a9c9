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

package main

import (
	"flag"
	"net"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sourcelayer/srcds/bsp"
	"github.com/sourcelayer/srcds/server"
	"github.com/sourcelayer/srcds/stats"
)

func main() {
	c := &server.Config{
		DynamicConfig: server.DynamicConfig{
			HostName:   "srcds-go server",
			GameDir:    "tf",
			SkyName:    "sky_day01_01",
			Greeting:   "This is a srcds-go server",
			Protocol:   24,
			MaxClients: 16,
			MaxClasses: 200,
		},
	}

	var ipaddr string
	var statsType string

	flag.IntVar(&c.Port, "port", 6666, "UDP port to listen on")
	flag.IntVar(&c.MonitoringPort, "monitoringport", 8888, "Port to run monitoring server on")
	flag.DurationVar(&c.MetricInterval, "metricinterval", server.DefaultMetricInterval, "How often to snapshot monitoring counters")
	flag.StringVar(&c.ConfigFile, "config", "", "Path to a config with dynamic settings")
	flag.StringVar(&c.LogLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&ipaddr, "ip", "0.0.0.0", "IP to bind on")
	flag.StringVar(&statsType, "stats", "json", "Stats reporter. Can be: json, prometheus")
	flag.BoolVar(&c.ShowErrorsToClients, "showerrors", true, "Put real error text in ConnectReject replies")
	flag.Parse()

	switch c.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", c.LogLevel)
	}

	if flag.NArg() != 1 {
		log.Fatal("Expected exactly one positional argument: the map's BSP file")
	}
	c.MapPath = flag.Arg(0)
	c.MapName = strings.TrimSuffix(filepath.Base(c.MapPath), filepath.Ext(c.MapPath))

	if c.ConfigFile != "" {
		if err := server.ReadDynamicConfig(c.ConfigFile, &c.DynamicConfig); err != nil {
			log.Fatal(err)
		}
	}

	c.IP = net.ParseIP(ipaddr)
	if c.IP == nil {
		log.Fatalf("Invalid IP: %v", ipaddr)
	}

	f, err := os.Open(c.MapPath)
	if err != nil {
		log.Fatal(err)
	}
	m, err := bsp.Parse(f)
	f.Close()
	if err != nil {
		log.Fatalf("Parsing %s: %v", c.MapPath, err)
	}

	var st stats.Stats
	switch statsType {
	case "json":
		st = stats.NewJSONStats()
	case "prometheus":
		st = stats.NewPromStats()
	default:
		log.Fatalf("Unrecognized stats reporter: %v", statsType)
	}
	go st.Start(c.MonitoringPort)

	s := &server.Server{
		Config: c,
		Stats:  st,
		Map:    m,
	}

	if err := s.Start(); err != nil {
		log.Fatal(err)
	}
}
