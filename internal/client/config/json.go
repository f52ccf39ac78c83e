package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/flagx"
	"github.com/Masparrito/lactokeeper-sub001/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	DataDir             string         `json:"data_dir"`
	OperationTimeout    timex.Duration `json:"operation_timeout"`
	StatusDebounce      timex.Duration `json:"status_debounce"`
	SweepBase           timex.Duration `json:"sweep_base"`
	SweepMax            timex.Duration `json:"sweep_max"`
	Kinds               []string       `json:"kinds"`
	AuditKind           string         `json:"audit_kind"`
	BridgeAddr          string         `json:"bridge_addr"`
	LogFile             string         `json:"log_file"`
	LogLevel            string         `json:"log_level"`
}

// parseJson overlays Config with values loaded from a JSON file whose path
// comes from -c or -config. Fields absent from the file keep their value.
// Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setString(&cfg.DataDir, jc.DataDir)
	setDuration(&cfg.OperationTimeout, jc.OperationTimeout)
	setDuration(&cfg.StatusDebounce, jc.StatusDebounce)
	setDuration(&cfg.SweepBase, jc.SweepBase)
	setDuration(&cfg.SweepMax, jc.SweepMax)
	if jc.Kinds != nil {
		cfg.Kinds = jc.Kinds
	}
	setString(&cfg.AuditKind, jc.AuditKind)
	setString(&cfg.BridgeAddr, jc.BridgeAddr)
	setString(&cfg.LogFile, jc.LogFile)
	setString(&cfg.LogLevel, jc.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
