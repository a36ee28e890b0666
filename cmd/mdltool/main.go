// mdltool is a CLI utility for inspecting and posing studio model files.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/internal/assets"
	"github.com/Faultbox/studiobones/internal/config"
	"github.com/Faultbox/studiobones/internal/logger"
	"github.com/Faultbox/studiobones/pkg/bonecache"
)

// errUsage reports bad arguments; the command has already printed its usage.
var errUsage = errors.New("usage")

// env is what every command runs against.
type env struct {
	cfg    *config.Config
	assets *assets.Manager
	cache  *bonecache.Cache
	log    *zap.Logger
	out    io.Writer
}

type command func(e *env, args []string) error

var commands = map[string]command{
	"info":    cmdInfo,
	"bones":   cmdBones,
	"seqs":    cmdSeqs,
	"pose":    cmdPose,
	"trace":   cmdTrace,
	"export":  cmdExport,
	"convert": cmdConvert,
	"vpk":     cmdVPK,
}

func main() {
	flag.Usage = printUsage
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, logger.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}, true)
	defer logger.Sync()
	logger.Sugar.Debugf("Config: %+v", cfg)

	if p := config.WriteConfigPath(); p != "" {
		if err := cfg.SaveTo(p); err != nil {
			logger.Error("failed to write config", zap.Error(err))
			os.Exit(1)
		}
		fmt.Printf("Wrote config: %s\n", p)
		if flag.NArg() == 0 {
			return
		}
	}

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	name := flag.Arg(0)
	if name == "help" {
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage()
		os.Exit(1)
	}

	m, err := assets.NewFromConfig(cfg.Assets, logger.Named("assets"))
	if err != nil {
		logger.Error("failed to set up assets", zap.Error(err))
		os.Exit(1)
	}
	defer m.Close()

	cache := bonecache.New(
		bonecache.WithModelSlots(cfg.Cache.ModelSlots),
		bonecache.WithBoneEntries(cfg.Cache.BoneEntries),
		bonecache.WithLogger(logger.Named("bonecache")),
	)

	e := &env{cfg: cfg, assets: m, cache: cache, log: logger.Log, out: os.Stdout}
	if err := cmd(e, flag.Args()[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		logger.Sync()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `mdltool - studio model inspection utility

Usage:
  mdltool [global options] <command> [options]

Global options:
  -config <file>        Config file (default: ./studiobones.yaml)
  -search <dirs>        Comma-separated asset search paths
  -vpk <archives>       Comma-separated VPK _dir archives
  -debug                Debug logging
  -log-file <file>      Also log to a rotating file
  -write-config <file>  Write the effective config and exit

Commands:
  info <model>                        Show header information
  bones <model>                       List bones
  seqs <model>                        List sequences
  pose <model> [options]              Evaluate a pose and print bone origins
  trace <model> [options]             Trace rays against posed hitboxes
  export <model> <out.glb|.gltf>      Export the posed skeleton as glTF
  convert <model> <out.mdl>           Rewrite a model in another layout
  vpk info <archive>                  Show VPK archive information
  vpk list <archive> [pattern]        List files in a VPK archive
  vpk extract <archive> <path> [dir]  Extract file(s) from a VPK archive

Examples:
  mdltool info models/player.mdl
  mdltool -search ./game pose -seq run -cycle 0.25 -param move_yaw=45 models/player.mdl
  mdltool trace -ray 0,-64,40:0,64,40 -ray 0,-64,60:0,64,60 models/player.mdl
  mdltool export -seq idle models/player.mdl player.glb
  mdltool vpk list pak01_dir.vpk "*.mdl"`)
}
