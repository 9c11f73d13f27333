/*
Command line host for the device. It boots the configured host driver,
replays a scripted guest scenario and keeps serving until it is stopped.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spaghettifunk/vmsvga3d/engine/config"
	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/spaghettifunk/vmsvga3d/engine/renderer/host"
	"github.com/spaghettifunk/vmsvga3d/testbed"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the configuration file")
	scenario := flag.String("scenario", "cross-context", "scenario to run: "+strings.Join(testbed.Names(), ", "))
	serve := flag.Bool("serve", false, "keep running after the scenario until interrupted")
	flag.Parse()

	if err := run(*configPath, *scenario, *serve); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, name string, serve bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	s, err := testbed.Get(name)
	if err != nil {
		return err
	}

	// capture sigterm and other system calls here
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	e, err := host.Boot(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = e.Shutdown()
	}()

	if _, statErr := os.Stat(configPath); statErr == nil {
		if err := e.WatchConfig(configPath); err != nil {
			core.LogWarn("config %s will not be reloaded: %s", configPath, err)
		}
	}

	core.LogInfo("running scenario %s: %s", s.Name, s.Description)
	if err := s.Run(e); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	core.LogInfo("scenario %s passed", s.Name)

	if !serve {
		return nil
	}
	return e.Run(ctx, nil)
}
