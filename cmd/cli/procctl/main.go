package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	sprintflogging "github.com/core-tools/hsu-procsup/pkg/logging/sprintf"

	"github.com/core-tools/hsu-procsup/pkg/config"
	"github.com/core-tools/hsu-procsup/pkg/control"
	"github.com/core-tools/hsu-procsup/pkg/controlserver"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Address     string        `long:"address" short:"a" description:"Supervisor control address (host:port)" default:"127.0.0.1:30000"`
	Timeout     time.Duration `long:"timeout" short:"t" description:"How long to wait for the reply" default:"3s"`
	CheckConfig string        `long:"check-config" description:"Validate a configuration file and print its summary"`
	Verbose     bool          `long:"verbose" short:"v" description:"Log what is being sent"`

	Positional struct {
		Words []string `positional-arg-name:"command" description:"Command words; put -- before them when they carry --options, e.g. -- start adc --rate 48000"`
	} `positional-args:"yes"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	logger := sprintflogging.NewStdSprintfLogger()
	logger.SetDebug(opts.Verbose)

	if opts.CheckConfig != "" {
		os.Exit(checkConfig(opts.CheckConfig))
	}

	if len(opts.Positional.Words) == 0 {
		fmt.Println("Command is required, e.g. procctl status processes")
		os.Exit(1)
	}

	line := control.FormatCommand(opts.Positional.Words)
	logger.Debugf("Sending %q to %s", line, opts.Address)

	reply, err := controlserver.SendCommand(context.Background(), opts.Address, line, opts.Timeout)
	if err != nil {
		logger.Errorf("Failed to send command: %v", err)
		os.Exit(1)
	}

	fmt.Println(reply)
	if controlserver.IsErrorReply(reply) {
		os.Exit(1)
	}
}

func checkConfig(configFile string) int {
	cfg, err := config.ValidateConfigFile(configFile)
	if err != nil {
		fmt.Printf("Configuration is invalid: %v\n", err)
		return 1
	}

	data, err := json.MarshalIndent(config.GetConfigSummary(cfg), "", "  ")
	if err != nil {
		fmt.Printf("Failed to render configuration summary: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
