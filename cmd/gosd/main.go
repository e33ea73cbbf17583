package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/gos.go/pkg/config"
	fx "github.com/robotalks/gos.go/pkg/framework"
	"github.com/robotalks/gos.go/pkg/node"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file, defaults to $"+config.EnvConfig+".")
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := loadConfig()
	if err != nil {
		glog.Exitf("load config: %v", err)
	}
	config.ApplyEnv(cfg)
	if err = config.Validate(cfg); err != nil {
		glog.Exitf("invalid config: %v", err)
	}
	config.Normalize(cfg)
	glog.Infof("node %q starting", cfg.Node.Name)

	runner := fx.NewRunner().HandleSignals()
	for {
		n, err := node.New(cfg)
		if err != nil {
			glog.Exitf("node: %v", err)
		}
		err = n.Run(runner.Context)
		n.Close()
		if err == node.ErrReset {
			glog.Info("node: restarting")
			continue
		}
		if err != nil && runner.Context.Err() == nil {
			glog.Exitf("node: %v", err)
		}
		return
	}
}
