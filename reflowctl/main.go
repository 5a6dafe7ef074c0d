package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/controller"
	"github.com/itohio/goreflow/pkg/flash"
	"github.com/itohio/goreflow/pkg/oven"
	"github.com/itohio/goreflow/pkg/reflow"
)

const usage = `Usage: reflowctl [flags] <command> [args]

Commands:
  import <dir>    import every profile file found under dir
  list            list stored profiles
  dump <name>     print the instructions of a profile
  delete <name>   delete a profile
  reflow <name>   run a reflow profile
  bake            run the configured bake
  reset           erase every profile
  test            switch each output on in turn and cycle the door
  ports           list serial ports
  init            write the configuration file with defaults

Flags:
`

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated oven instead of serial port")
		flashFlag  = flag.String("flash", "", "Flash image path (overrides config, empty = in-memory)")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override serial port if provided via command line
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *flashFlag != "" {
		cfg.Flash.Path = *flashFlag
	}

	if err := run(cfg, *configFlag, *mockFlag, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config, configPath string, mock bool, cmd string, args []string) error {
	switch cmd {
	case "ports":
		return listPorts()
	case "test":
		return testOutputs(cfg, mock)
	case "init":
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", configPath)
		return nil
	}

	dev, closeFlash, err := openFlash(cfg.Flash)
	if err != nil {
		return err
	}
	defer closeFlash()

	switch cmd {
	case "reflow", "bake":
		return runOven(cfg, dev, mock, cmd, args)
	}

	// Storage commands never touch the oven.
	ctl, err := controller.Open(cfg, dev, nil, nil, nil, nil)
	if err != nil {
		return err
	}

	switch cmd {
	case "import":
		if len(args) != 1 {
			return errors.New("import needs a directory")
		}
		rep, err := ctl.Import(os.DirFS(args[0]), ".")
		if err != nil {
			return err
		}
		for _, p := range rep.Imported {
			fmt.Printf("Imported %q (peak %dC)\n", p.Name, p.PeakTemperature)
		}
		for _, f := range rep.Failed {
			fmt.Printf("Failed: %v\n", f)
		}
		return nil
	case "list":
		for i, p := range ctl.Directory().Profiles() {
			fmt.Printf("%2d  %-32s  peak %3dC  block %d\n", i, p.Name, p.PeakTemperature, p.StartBlock)
		}
		return nil
	case "dump":
		if len(args) != 1 {
			return errors.New("dump needs a profile name")
		}
		return ctl.Dump(args[0], os.Stdout)
	case "delete":
		if len(args) != 1 {
			return errors.New("delete needs a profile name")
		}
		return ctl.Delete(args[0])
	case "reset":
		return ctl.FactoryReset()
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// runOven connects to the oven, runs a reflow or bake and waits for it to
// finish. Ctrl-C aborts the run and the outputs are switched off.
func runOven(cfg *config.Config, dev flash.Device, mock bool, cmd string, args []string) error {
	if cmd == "reflow" && len(args) != 1 {
		return errors.New("reflow needs a profile name")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	chain, err := connect(cfg, mock)
	if err != nil {
		return err
	}
	defer chain.close()

	ctl, err := controller.Open(cfg, dev, chain.bank, chain.monitor, reflow.LogDisplay{}, reflow.SystemClock{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ctl.Abort()
	}()

	if err := chain.waitForSample(ctx); err != nil {
		return err
	}
	tr := newTrace(chain.monitor)

	var res reflow.Result
	if cmd == "bake" {
		res, err = ctl.Bake(ctx)
	} else {
		res, err = ctl.Reflow(ctx, args[0])
	}
	tr.print()
	fmt.Printf("%s %q: %s after %s, %d instructions, peak %.1fC (oven peak %.1fC)\n",
		res.Mode, res.Name, res.Phase, res.Elapsed.Round(time.Second), res.Instructions, res.Peak, chain.monitor.Peak())
	return err
}

func openFlash(cfg config.FlashConfig) (flash.Device, func(), error) {
	if cfg.Path == "" {
		log.Printf("Using in-memory flash, profiles are lost on exit")
		return flash.NewMemory(cfg.TotalBlocks), func() {}, nil
	}
	f, err := flash.OpenFile(cfg.Path, cfg.TotalBlocks)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func listPorts() error {
	ports, err := oven.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Printf("%s\t%s\n", p.Name, p.Description)
	}
	return nil
}
