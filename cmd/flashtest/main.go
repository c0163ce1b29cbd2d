package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"pulpspim/config"
	"pulpspim/core"
	"pulpspim/flash"
	"pulpspim/host/serial"
	"pulpspim/sim"
	"pulpspim/spibus"
)

var (
	configPath = flag.String("config", "", "JSON configuration file (defaults to the reference board)")
	console    = flag.String("console", "", "Serial device to send the log to")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	skipQuad   = flag.Bool("skip-quad", false, "Skip the quad mode pass")
	ticked     = flag.Bool("ticked", false, "Run the simulated bus from a ticker instead of inline")
	dumpTrace  = flag.Bool("trace", false, "Dump the driver trace ring at the end")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	fmt.Println("SPIM flash regression")
	fmt.Println("=====================")

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	defer cancel()

	dev := sim.NewFlash(cfg.Flash.Size,
		sim.WithBusyPolls(cfg.Sim.EraseBusyPolls, cfg.Sim.ProgramBusyPolls),
		sim.WithFlashLogger(log.Named("flash")))

	mode := sim.Immediate
	if *ticked {
		mode = sim.Manual
	}
	soc := sim.New(
		sim.WithLogger(log.Named("soc")),
		sim.WithFreq(cfg.Bus.PeriphHz),
		sim.WithMode(mode),
		sim.WithDevice(cfg.Bus.SPIM, dev),
	)

	events := core.NewEventTable()
	reg, err := core.NewRegistry(soc.Platform(), events,
		core.WithLogger(log.Named("spim")),
		core.WithInstances(cfg.Bus.SPIM+1))
	if err != nil {
		log.Error("registry setup failed", zap.Error(err))
		return 1
	}
	soc.SetTrap(events.Handle)
	if *ticked {
		soc.Start(ctx, 10*time.Microsecond, 64)
	}

	bus, err := reg.Driver(cfg.Bus.SPIM)
	if err != nil {
		log.Error("no such SPIM", zap.Int("spim", cfg.Bus.SPIM), zap.Error(err))
		return 1
	}

	if err := probe(bus, cfg, log); err != nil {
		log.Error("bus probe failed", zap.Error(err))
		return 1
	}

	var completions atomic.Uint32
	if err := bus.Initialize(func(uint32) { completions.Add(1) }); err != nil {
		log.Error("initialize failed", zap.Error(err))
		return 1
	}
	defer bus.Uninitialize()

	if _, err := bus.Control(cfg.Bus.ControlWord(), cfg.Bus.BaudHz); err != nil {
		log.Error("bus configuration failed", zap.Error(err))
		return 1
	}
	speed, _ := bus.Control(core.ControlGetBusSpeed, 0)
	log.Info("bus configured",
		zap.Int("spim", cfg.Bus.SPIM),
		zap.Uint32("speed_hz", speed),
		zap.Int("bits", cfg.Bus.Bits),
		zap.Int("mode", cfg.Bus.Mode))

	fd := flash.New(bus, flash.Geometry{
		Size:       cfg.Flash.Size,
		SectorSize: cfg.Flash.SectorSize,
		PageSize:   cfg.Flash.PageSize,
	}, flash.WithLogger(log.Named("client")), flash.WithTimeout(cfg.Timeout()))

	rep, err := flash.SelfTest(ctx, fd, flash.SelfTestConfig{
		ExpectedID: cfg.Flash.ExpectedID,
		Address:    cfg.Flash.Address,
		Quad:       !cfg.SkipQuad,
	})

	printReport(rep)
	fmt.Printf("Transfers completed: %d\n", completions.Load())
	if *dumpTrace {
		reg.Trace().Dump(log)
	}

	if err != nil || !rep.Passed() {
		fmt.Println("FAIL")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	fmt.Println("PASS")
	return 0
}

// probe reads the JEDEC id through the periph.io port before the driver is
// handed to the flash client. The port uninitializes the instance on Close.
func probe(bus core.SPI, cfg *config.Test, log *zap.Logger) error {
	port, err := spibus.NewPort(bus, fmt.Sprintf("SPIM%d", cfg.Bus.SPIM),
		spibus.WithLogger(log.Named("probe")), spibus.WithTimeout(cfg.Timeout()))
	if err != nil {
		return err
	}
	defer port.Close()

	mode := spi.Mode(cfg.Bus.Mode & 3)
	if cfg.Bus.LSBFirst {
		mode |= spi.LSBFirst
	}
	c, err := port.Connect(physic.Frequency(cfg.Bus.BaudHz)*physic.Hertz, mode, 8)
	if err != nil {
		return err
	}
	var id [3]byte
	err = c.TxPackets([]spi.Packet{
		{W: []byte{flash.CmdReadID}, KeepCS: true},
		{R: id[:]},
	})
	if err != nil {
		return err
	}
	log.Info("JEDEC id", zap.Binary("id", id[:]))
	return nil
}

func loadConfig() (*config.Test, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if *console != "" {
		cfg.Console.Device = *console
		if cfg.Console.Baud == 0 {
			cfg.Console.Baud = serial.DefaultConfig(*console).Baud
		}
	}
	if *debug {
		cfg.Debug = true
	}
	if *skipQuad {
		cfg.SkipQuad = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the tool logger. With a console device the log goes to
// the serial port as well as stderr.
func newLogger(cfg *config.Test) (*zap.Logger, func(), error) {
	level := zap.InfoLevel
	if cfg.Debug {
		level = zap.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	enc := zapcore.NewConsoleEncoder(encCfg)
	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level),
	}

	var port serial.Port
	if cfg.Console.Device != "" {
		sc := serial.DefaultConfig(cfg.Console.Device)
		sc.Baud = cfg.Console.Baud
		p, err := serial.Open(sc)
		if err != nil {
			return nil, nil, err
		}
		p.Flush()
		port = p
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.Lock(port), level))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.WithCaller(cfg.Debug))
	return log, func() {
		log.Sync()
		if port != nil {
			port.Close()
		}
	}, nil
}

func printReport(rep *flash.Report) {
	if rep == nil {
		return
	}
	if rep.ID != nil {
		fmt.Printf("Device ID: % X\n", rep.ID[:min(8, len(rep.ID))])
		fmt.Printf("ID fingerprint (CRC-8/MAXIM): %02X\n", rep.Fingerprint)
	}
	for _, s := range rep.Steps {
		lanes := "single"
		if s.Quad {
			lanes = "quad"
		}
		status := "ok"
		if s.Err != nil {
			status = s.Err.Error()
		}
		fmt.Printf("  %-12s %-6s %10s  %s\n", s.Name, lanes, s.Elapsed.Round(time.Microsecond), status)
	}
}
