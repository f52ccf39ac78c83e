package config

import "time"

// Operation timeouts outside this range are clamped.
const (
	MinOperationTimeout = 10 * time.Second
	MaxOperationTimeout = 30 * time.Second
)

// Config holds runtime settings of the farm client.
//
// Fields:
//   - ServerEndpointAddr: host:port of the sync server gRPC endpoint.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - DataDir: directory holding one SQLite file per owner plus accounts.db.
//   - OperationTimeout: bound of a single remote push.
//   - StatusDebounce: quiet window before the status settles to idle.
//   - SweepBase, SweepMax: reconcile sweep backoff.
//   - Kinds: entity kinds subscribed at login.
//   - AuditKind: when set, every mutation also writes an audit record there.
//   - BridgeAddr: when set, session events are served over a websocket.
//   - LogFile, LogLevel: client logs go to a rotated file (default
//     DataDir/client.log) so the REPL stays readable.
type Config struct {
	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration
	DataDir             string
	OperationTimeout    time.Duration
	StatusDebounce      time.Duration
	SweepBase           time.Duration
	SweepMax            time.Duration
	Kinds               []string
	AuditKind           string
	BridgeAddr          string
	LogFile             string
	LogLevel            string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.DataDir = "lactokeeper-data"
	c.OperationTimeout = 15 * time.Second
	c.StatusDebounce = 2 * time.Second
	c.SweepBase = 5 * time.Second
	c.SweepMax = 5 * time.Minute
	c.Kinds = []string{"animals", "weighings", "lots", "events"}
	c.AuditKind = ""
	c.BridgeAddr = ""
	c.LogFile = ""
	c.LogLevel = "info"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	cfg.clamp()
	return cfg
}

func (c *Config) clamp() {
	c.OperationTimeout = min(max(c.OperationTimeout, MinOperationTimeout), MaxOperationTimeout)
	if c.SweepMax < c.SweepBase {
		c.SweepMax = c.SweepBase
	}
}
