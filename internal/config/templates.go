package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "node", "":
		return nodeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const nodeTemplate = `node_id = 0
listen_addr = "127.0.0.1:7400"
metrics_addr = "127.0.0.1:7490"
metrics_token = ""
chunk_size = 8192
connect_timeout = "5s"
write_timeout = "15s"
dial_attempts = 5
threads = [0, 1]

[[peers]]
id = 1
addr = "127.0.0.1:7401"

[[peers]]
id = 2
addr = "127.0.0.1:7402"

[[groups]]
id = 0
name = "global"
members = [
  { thread = 0, node = 0 },
  { thread = 1, node = 0 },
  { thread = 2, node = 1 },
  { thread = 3, node = 2 },
]
`
