// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command incload drives an incremental install against a directory-backed
// filesystem stand-in. The install set comes from a JSON manifest; staged
// files resolve against the source directory, piped inputs against stdin,
// and streaming files against the channel socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/thejerf/suture/v4"

	"github.com/incload/incload/lib/atrace"
	"github.com/incload/incload/lib/incfs"
	"github.com/incload/incload/lib/loader"
	"github.com/incload/incload/lib/logger"
	"github.com/incload/incload/lib/shell"
	"github.com/incload/incload/lib/svcutil"
)

var l = logger.DefaultLogger.NewFacility("main", "Main")

type CLI struct {
	Target        string `name:"target" required:"" placeholder:"DIR" help:"Directory receiving the installed files"`
	Source        string `name:"source" default:"." placeholder:"DIR" help:"Directory staged local files resolve against"`
	Channel       string `name:"channel" placeholder:"PATH" help:"Unix socket serving streaming blocks"`
	MetricsListen string `name:"metrics-listen" placeholder:"ADDR" help:"Serve Prometheus metrics on this address"`
	TracefsRoot   string `name:"tracefs-root" placeholder:"DIR" help:"Override the tracefs mount point"`
	Manifest      string `arg:"" placeholder:"MANIFEST" help:"Install manifest (JSON)"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("incload"),
		kong.Description("Incremental package install data loader"),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(run(cli))
}

type loggingStatusListener struct{}

func (loggingStatusListener) ReportStatus(status loader.Status) {
	l.Infoln("Loader status:", status)
}

func run(cli CLI) error {
	if cli.TracefsRoot != "" {
		atrace.SetRoot(cli.TracefsRoot)
	}

	files, err := loadManifest(cli.Manifest)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cli.Target, 0o755); err != nil {
		return err
	}
	connector := incfs.NewDirConnector(cli.Target)
	defer connector.Close()

	pipe := os.Stdin
	if cli.Channel != "" {
		if pipe, err = dialChannel(cli.Channel); err != nil {
			return fmt.Errorf("connecting to channel: %w", err)
		}
		defer pipe.Close()
	}

	const args = "incload"
	registry := shell.NewRegistry()
	registry.Add(args, shell.NewLocalCommand(cli.Source, pipe))

	installSet := make([]loader.InstallationFile, 0, len(files))
	for _, entry := range files {
		file, err := entry.installationFile()
		if err != nil {
			return fmt.Errorf("manifest entry %q: %w", entry.Name, err)
		}
		connector.Register(file.Id, file.Name)
		installSet = append(installSet, file)
	}

	dl, err := loader.New(loader.Params{
		Type:      loader.TypeIncremental,
		Arguments: args,
	}, connector, loggingStatusListener{}, registry)
	if err != nil {
		return err
	}
	if err := dl.OnCreate(); err != nil {
		return err
	}
	defer dl.OnDestroy()
	defer atrace.StopWatcher()
	if err := dl.OnStart(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mainService := suture.New("main", svcutil.SpecWithInfoLogger(l))
	if cli.MetricsListen != "" {
		mainService.Add(newMetricsService(cli.MetricsListen))
	}
	mainService.Add(svcutil.AsService(func(ctx context.Context) error {
		if err := dl.OnPrepareImage(installSet); err != nil {
			return svcutil.AsFatalErr(err, svcutil.ExitError)
		}
		if !dl.Streaming() {
			// All inputs were staged or piped; nothing left to serve.
			cancel()
			return nil
		}
		select {
		case <-ctx.Done():
		case <-dl.Done():
			cancel()
		}
		dl.OnStop()
		return nil
	}, "loader"))

	err = <-mainService.ServeBackground(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
