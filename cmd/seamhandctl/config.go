package main

import (
	"encoding/json"
	"os"
)

// Config mirrors the flag set below; a -c JSON file overrides whatever the
// shell passed in, the same override order kcptun's server/client use.
type Config struct {
	Mode         string `json:"mode"`
	Addr         string `json:"addr"`
	UpgradeAddr  string `json:"upgrade-addr"`
	Label        string `json:"label"`
	UpgradeAfter int    `json:"upgrade-after"`
	Log          string `json:"log"`
	Quiet        bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
