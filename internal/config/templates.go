package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Template renders a starter config for uin.
func Template(uin uint32) string {
	return strings.Replace(clientTemplate, "{{uin}}", strconv.FormatUint(uint64(uin), 10), 1)
}

func WriteTemplate(path string, uin uint32, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template(uin)), 0o600)
}

const clientTemplate = `uin = {{uin}}
platform = "android"

# host and port pin a gateway; leave host empty to use the directory service.
host = ""
port = 8080

heartbeat_interval = "30s"
call_timeout = "5s"
reconnect = true
reconnect_interval = "500ms"
data_dir = "data"
`
