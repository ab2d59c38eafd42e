// csi - the client/server interpreter command: serves interpreter sessions
// over Connect, or runs and prints encoded message streams locally.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/clientserver/builtin"
	"github.com/chazu/clientserver/config"
	"github.com/chazu/clientserver/directory"
	"github.com/chazu/clientserver/interp"
	"github.com/chazu/clientserver/server"
	"github.com/chazu/clientserver/stream"
)

var log = commonlog.GetLogger("clientserver.csi")

func main() {
	serveMode := flag.Bool("serve", false, "Start the interpreter server")
	configPath := flag.String("config", "", "Path to clientserver.toml (default: search upward from the working directory)")
	addr := flag.String("addr", "", "Listen address, overriding the configuration (e.g. :4567)")
	verbosity := flag.Int("v", -1, "Log verbosity, overriding the configuration (0 = errors only)")
	runFile := flag.String("run", "", "Process an encoded stream file with the builtin classes and print the last result")
	dumpFile := flag.String("dump", "", "Print an encoded stream file")
	trace := flag.Bool("trace", false, "Trace requests and replies to stderr (with -run)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: csi [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  csi -serve                     # Serve on the configured address\n")
		fmt.Fprintf(os.Stderr, "  csi -serve -addr :8080 -v 4    # Serve on :8080 with debug logging\n")
		fmt.Fprintf(os.Stderr, "  csi -run build.cbor -trace     # Run a stream locally\n")
		fmt.Fprintf(os.Stderr, "  csi -dump build.cbor           # Show a stream's messages\n")
	}
	flag.Parse()

	var err error
	switch {
	case *dumpFile != "":
		err = dump(*dumpFile)
	case *runFile != "":
		commonlog.Configure(max(*verbosity, 0), nil)
		err = run(*runFile, *trace)
	case *serveMode:
		err = serve(*configPath, *addr, *verbosity)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dump(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := stream.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	s.Print(os.Stdout)
	return nil
}

func run(path string, trace bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var opts []interp.Option
	if trace {
		opts = append(opts, interp.WithLog(os.Stderr))
	}
	in := interp.New(opts...)
	defer in.Close()
	builtin.Library().Install(in)

	procErr := in.ProcessBytes(data)
	in.LastResult().Print(os.Stdout, 0)
	return procErr
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil || cfg != nil {
		return cfg, err
	}
	return config.Default(), nil
}

func serve(configPath, addr string, verbosity int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Address = addr
	}
	if verbosity >= 0 {
		cfg.Log.Verbosity = verbosity
	}

	var logFile *string
	if f := cfg.LogFile(); f != "" {
		logFile = &f
	}
	commonlog.Configure(cfg.Log.Verbosity, logFile)
	if cfg.Dir != "" {
		log.Infof("configuration loaded from %s", cfg.Dir)
	}

	opts := []server.Option{
		server.WithSessionTTL(cfg.Server.SessionTTL.Duration, cfg.Server.SweepInterval.Duration),
	}
	if cfg.Directory.Enabled {
		dir, err := directory.Open(cfg.DirectoryPath())
		if err != nil {
			return err
		}
		defer dir.Close()
		opts = append(opts, server.WithDirectory(dir))
	}
	if path := cfg.TraceFile(); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("opening trace file: %w", err)
		}
		defer f.Close()
		opts = append(opts, server.WithTrace(f))
	}

	srv := server.New(opts...)
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Server.Address)
	})
	g.Go(func() error {
		reportSessions(ctx, srv, cfg.Server.SweepInterval.Duration)
		return nil
	})
	err = g.Wait()
	log.Notice("interpreter server stopped")
	return err
}

// reportSessions logs the number of open sessions until ctx is done.
func reportSessions(ctx context.Context, srv *server.Server, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Infof("%d open sessions", srv.Sessions().Len())
		}
	}
}
