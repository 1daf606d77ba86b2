package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/GiGurra/boa/pkg/boa"
	"github.com/spf13/cobra"

	"mpdris/internal/config"
)

type Params struct {
	Config  string `name:"config" short:"c" optional:"true" help:"Path to the config file. Defaults to $XDG_CONFIG_HOME/mpdris/mpdris.toml."`
	Addr    string `name:"addr" short:"a" optional:"true" help:"MPD host or socket path, may be password@host."`
	Port    int    `name:"port" short:"p" optional:"true" help:"MPD port."`
	Retries int    `name:"retries" short:"r" optional:"true" help:"Reconnect attempts before giving up, -1 retries forever."`
	Level   string `name:"level" short:"l" optional:"true" help:"Log level: debug, info, warn or error."`
}

func main() {
	boa.CmdT[Params]{
		Use:         "mpdris",
		Short:       "Expose MPD as an MPRIS media player",
		Long:        "mpdris keeps a connection to the Music Player Daemon and publishes its playback state on the D-Bus session bus, so desktop media controls work with MPD.",
		Version:     appVersion(),
		ParamEnrich: defaultParamEnricher(),
		RunFunc: func(params *Params, cmd *cobra.Command, args []string) {
			if err := run(configPath(params), overrides(params, cmd)); err != nil {
				fmt.Fprintf(os.Stderr, "mpdris: %v\n", err)
				os.Exit(1)
			}
		},
	}.Run()
}

func defaultParamEnricher() boa.ParamEnricher {
	return boa.ParamEnricherCombine(
		boa.ParamEnricherBool,
		boa.ParamEnricherName,
		boa.ParamEnricherShort,
	)
}

func configPath(params *Params) string {
	if params.Config != "" {
		return config.ExpandPath(params.Config)
	}
	return config.DefaultPath()
}

// overrides collects the flags given on the command line; unset flags leave
// the file and environment values alone
func overrides(params *Params, cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	flags := cmd.Flags()
	if flags.Changed("addr") {
		o.Host = params.Addr
	}
	if flags.Changed("port") {
		o.Port = params.Port
	}
	if flags.Changed("retries") {
		retries := params.Retries
		o.Retries = &retries
	}
	if flags.Changed("level") {
		o.Level = params.Level
	}
	return o
}

func appVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown-(no build info)"
	}

	version := bi.Main.Version
	if version == "" {
		version = "unknown-(no version)"
	}
	return version
}
