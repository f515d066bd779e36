// vk-masscan monitors configured network ranges for open-port and
// service changes and reports them to Telegram.
package main

import (
	"github.com/GarussMisha/VK-masscan/cmd/cli"
)

// Build information set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
