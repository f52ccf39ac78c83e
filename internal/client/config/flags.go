package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the sync server
//	-i int      online check interval in seconds
//	-d string   data directory
//	-t int      remote operation timeout in seconds
//	-k string   comma separated entity kinds
//	-audit string  audit kind
//	-w string   websocket event bridge address
//	-log string log file
//	-v string   log level
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-i", "-d", "-t", "-k", "-audit", "-w", "-log", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "local data directory")
	timeout := fs.Int("t", int(cfg.OperationTimeout.Seconds()), "remote operation timeout (in seconds)")
	kinds := fs.String("k", strings.Join(cfg.Kinds, ","), "entity kinds, comma separated")
	fs.StringVar(&cfg.AuditKind, "audit", cfg.AuditKind, "audit kind (empty disables auditing)")
	fs.StringVar(&cfg.BridgeAddr, "w", cfg.BridgeAddr, "websocket event bridge address (empty disables it)")
	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file")
	fs.StringVar(&cfg.LogLevel, "v", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.OperationTimeout = time.Duration(*timeout) * time.Second
	cfg.Kinds = splitKinds(*kinds)
}

func splitKinds(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
