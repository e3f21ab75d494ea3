//
// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Command vmio-demo exercises the bus registry, I/O manager and interrupt
// manager end to end against an in-memory hypervisor backend, the same
// "wire it up from the CLI" role virtcontainers/hack/virtc/main.go plays
// for the pod/container API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/urfave/cli"

	"github.com/kata-containers/vmm-io/pkg/bus"
	"github.com/kata-containers/vmm-io/pkg/hypervisor"
	"github.com/kata-containers/vmm-io/pkg/iomanager"
	"github.com/kata-containers/vmm-io/pkg/irq"
	"github.com/kata-containers/vmm-io/pkg/irqmanager"
	"github.com/kata-containers/vmm-io/pkg/metrics"
	"github.com/kata-containers/vmm-io/pkg/resource"
	"github.com/kata-containers/vmm-io/pkg/tracing"
)

var demoLog = logrus.New()

// serialDevice is a minimal MmioHandler/PioHandler standing in for a real
// device model. Only PIO writes do anything: each is logged and raises the
// device's legacy interrupt.
type serialDevice struct {
	group irq.Group
}

func (d *serialDevice) MmioRead(base, offset uint64, data []byte)  {}
func (d *serialDevice) MmioWrite(base, offset uint64, data []byte) {}

func (d *serialDevice) PioRead(base, offset uint16, data []byte) {}
func (d *serialDevice) PioWrite(base, offset uint16, data []byte) {
	demoLog.WithFields(logrus.Fields{"base": base, "offset": offset}).Info("pio write")
	if d.group != nil {
		_ = d.group.Trigger(0, 0)
	}
}

var runCommand = cli.Command{
	Name:  "run",
	Usage: "register a demo serial device, dispatch one PIO write, and trigger its legacy interrupt",
	Action: func(cliCtx *cli.Context) error {
		reg := prometheus.NewRegistry()
		collector, err := metrics.NewCollector(reg)
		if err != nil {
			return err
		}

		backend := &hypervisor.MockBackend{}
		backend.On("InstallRouting", mock.Anything).Return(nil)
		backend.On("RegisterTrigger", mock.Anything, mock.Anything).Return(nil)

		irqMgr := irqmanager.New(backend, func() (hypervisor.Notifier, error) {
			return hypervisor.NewEventfdNotifier()
		}).WithMetrics(collector)
		if err := irqMgr.Initialize(); err != nil {
			return fmt.Errorf("initialize interrupt manager: %w", err)
		}

		group, err := irqMgr.CreateGroup(irq.Legacy, 4, 1)
		if err != nil {
			return fmt.Errorf("create legacy group: %w", err)
		}
		if err := group.Enable([]irq.SourceConfig{irq.LegacySourceConfig{}}); err != nil {
			return fmt.Errorf("enable legacy group: %w", err)
		}

		dev := &serialDevice{group: group}
		ioMgr := iomanager.New().WithMetrics(collector)

		resources := resource.Set{resource.NewPioRange(0x3F8, 8)}
		if err := ioMgr.RegisterPioResources(dev, resources); err != nil {
			return fmt.Errorf("register serial device: %w", err)
		}

		if err := ioMgr.PioWrite(bus.PioAddress(0x3F8), []byte{'O', 'K'}); err != nil {
			return fmt.Errorf("dispatch pio write: %w", err)
		}

		fmt.Println("dispatched pio write and raised legacy interrupt on gsi 4")
		return nil
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "vmio-demo"
	app.Usage = "exercise the VM device-model bus and interrupt subsystems"
	app.Version = "0.0.1"

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug output for logging",
		},
		cli.BoolFlag{
			Name:  "tracing",
			Usage: "export a span per dispatch and routing-table commit to Jaeger",
		},
	}

	app.Commands = []cli.Command{runCommand}

	app.Before = func(cliCtx *cli.Context) error {
		if cliCtx.GlobalBool("debug") {
			demoLog.Level = logrus.DebugLevel
		}
		tracing.SetTracing(cliCtx.GlobalBool("tracing"))
		_, err := tracing.CreateTracer("vmio-demo", &tracing.JaegerConfig{})
		return err
	}

	app.After = func(cliCtx *cli.Context) error {
		tracing.Shutdown(context.Background())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		demoLog.Fatal(err)
	}
}
