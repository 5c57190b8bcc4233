// Command tcpmeter is a TCP throughput measurement tool. In server mode it
// accepts connections and measures the bytes each one delivers; in client
// mode it streams filler data to a server over one or more parallel
// connections and reports the transfer rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/netmeasure/tcpmeter/internal/config"
	"github.com/netmeasure/tcpmeter/internal/netx"
	"github.com/netmeasure/tcpmeter/internal/server"
	"github.com/netmeasure/tcpmeter/pkg/client"
	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
	"github.com/netmeasure/tcpmeter/pkg/transfer/spec"
	"github.com/netmeasure/tcpmeter/pkg/version"
)

var (
	flagServerMode bool
	flagClientMode bool
	flagBind       string
	flagPort       int
	flagFormat     string
	flagNum        string
	flagServerIP   string
	flagTime       int
	flagInterval   int
	flagParallel   int
	flagDataDir    string
	flagVerbose    bool
)

func init() {
	flag.BoolVar(&flagServerMode, "s", false, "Run in server mode")
	flag.BoolVar(&flagServerMode, "server", false, "Run in server mode")
	flag.BoolVar(&flagClientMode, "c", false, "Run in client mode")
	flag.BoolVar(&flagClientMode, "client", false, "Run in client mode")
	flag.StringVar(&flagBind, "b", "", "Address to bind the server to")
	flag.StringVar(&flagBind, "bind", "", "Address to bind the server to")
	flag.IntVar(&flagPort, "p", spec.DefaultPort, "Port to listen on or connect to")
	flag.IntVar(&flagPort, "port", spec.DefaultPort, "Port to listen on or connect to")
	flag.StringVar(&flagFormat, "f", "MB", "Display format for byte counts (B, KB or MB)")
	flag.StringVar(&flagFormat, "format", "MB", "Display format for byte counts (B, KB or MB)")
	flag.StringVar(&flagNum, "n", "", "Total bytes to send, with a B, KB or MB suffix")
	flag.StringVar(&flagNum, "num", "", "Total bytes to send, with a B, KB or MB suffix")
	flag.StringVar(&flagServerIP, "I", "127.0.0.1", "Server address to connect to")
	flag.StringVar(&flagServerIP, "serverip", "127.0.0.1", "Server address to connect to")
	flag.IntVar(&flagTime, "t", 0, "Transfer duration in seconds")
	flag.IntVar(&flagTime, "time", 0, "Transfer duration in seconds")
	flag.IntVar(&flagInterval, "i", 0, "Seconds between interval reports")
	flag.IntVar(&flagInterval, "interval", 0, "Seconds between interval reports")
	flag.IntVar(&flagParallel, "P", 1, "Number of parallel connections")
	flag.IntVar(&flagParallel, "parallel", 1, "Number of parallel connections")
	flag.StringVar(&flagDataDir, "datadir", "", "Directory to archive results in (server mode)")
	flag.BoolVar(&flagVerbose, "v", false, "Enable debug logging")
	flag.BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")
}

// fatalUsage prints a usage error and exits. No socket has been opened at
// this point.
func fatalUsage(err error) {
	fmt.Fprintf(flag.CommandLine.Output(), "%s: %v\n", os.Args[0], err)
	flag.Usage()
	os.Exit(1)
}

func main() {
	// An optional .env file can provide flag values via the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env file", "err", err)
	}
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "failed to read args from env")

	log.SetReportCaller(true)
	log.SetReportTimestamp(true)
	if flagVerbose {
		log.SetLevel(log.DebugLevel)
	}

	byteLimit, err := config.ParseSize(flagNum)
	if err != nil {
		fatalUsage(err)
	}
	format, err := model.ParseFormat(flagFormat)
	if err != nil {
		fatalUsage(err)
	}
	cfg := config.Config{
		Server:         flagServerMode,
		Client:         flagClientMode,
		BindAddr:       flagBind,
		ServerAddr:     flagServerIP,
		Port:           flagPort,
		Format:         format,
		ByteLimit:      byteLimit,
		Duration:       time.Duration(flagTime) * time.Second,
		ReportInterval: time.Duration(flagInterval) * time.Second,
		Streams:        flagParallel,
		DataDir:        flagDataDir,
	}
	if err := cfg.Validate(); err != nil {
		fatalUsage(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server {
		runServer(ctx, &cfg)
		return
	}
	runClient(ctx, &cfg)
}

func runServer(ctx context.Context, cfg *config.Config) {
	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	listener, err := netx.Listen(cfg.ListenAddr())
	rtx.Must(err, "failed to create listener")
	defer listener.Close()
	log.Info("Starting tcpmeter server", "addr", cfg.ListenAddr(),
		"version", version.Version, "commit", prometheusx.GitShortCommit)

	srv := server.New(cfg.Format, cfg.DataDir)
	rtx.Must(srv.Serve(ctx, listener), "server failed")
}

func runClient(ctx context.Context, cfg *config.Config) {
	c := client.New(client.Config{
		Server:         cfg.DialAddr(),
		Streams:        cfg.Streams,
		Duration:       cfg.Duration,
		ByteLimit:      cfg.ByteLimit,
		ReportInterval: cfg.ReportInterval,
		Format:         cfg.Format,
		Emitter:        client.NewHumanReadable(cfg.Format, flagVerbose),
	})
	if err := c.Run(ctx); err != nil {
		log.Error("Measurement failed", "err", err)
		os.Exit(1)
	}
}
