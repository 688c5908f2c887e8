package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"keybridge/internal/app"
	"keybridge/internal/cli"
	"keybridge/internal/device"
)

const daemonEnv = "KEYBRIDGE_DAEMONIZED"

func main() {
	opts, err := cli.Parse(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keybridge: %v\n", err)
		os.Exit(1)
	}

	if opts.ShowHelp {
		fmt.Println(cli.Usage())
		return
	}

	if opts.ListDevices {
		if err := listDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "keybridge: %v\n", err)
			os.Exit(1)
		}
		return
	}

	spawned, err := daemonizeIfNeeded(opts.Daemonize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keybridge: failed to daemonize: %v\n", err)
		os.Exit(1)
	}
	if spawned {
		return
	}

	if err := app.NewRuntime(opts).Run(); err != nil {
		var detectionErr device.DetectionError
		if errors.As(err, &detectionErr) {
			fmt.Fprintf(os.Stderr, "keybridge: %s\n", detectionErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "keybridge: %v\n", err)
		}
		os.Exit(1)
	}
}

func listDevices() error {
	devices, err := device.ListDevices()
	if err != nil {
		return err
	}
	for _, dev := range devices {
		kind := "pointer"
		switch {
		case dev.Keyboard && dev.Pointer:
			kind = "keyboard+pointer"
		case dev.Keyboard:
			kind = "keyboard"
		}
		fmt.Printf("%s\t%s\t%s\n", dev.Path, kind, dev.Name)
	}
	return nil
}

func daemonizeIfNeeded(enabled bool) (bool, error) {
	if !enabled {
		return false, nil
	}
	if os.Getenv(daemonEnv) == "1" {
		return false, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return false, err
	}

	devNull, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		return false, err
	}
	defer devNull.Close()

	attrs := &os.ProcAttr{
		Files: []*os.File{devNull, devNull, devNull},
		Env:   append(os.Environ(), daemonEnv+"=1"),
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	proc, err := os.StartProcess(exe, os.Args, attrs)
	if err != nil {
		return false, err
	}
	if err := proc.Release(); err != nil {
		return false, err
	}
	return true, nil
}
