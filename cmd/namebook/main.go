package main

/*
* namebook: serve or query a shared list of names
 */

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"typed-rpc/client"
	"typed-rpc/codec"
	"typed-rpc/example/names"
	"typed-rpc/logging"
	"typed-rpc/middleware"
	"typed-rpc/server"
)

func PrintFatal(msg string, args ...interface{}) {
	os.Stderr.WriteString(color.RedString(msg, args...) + "\n")
	os.Exit(1)
}

var (
	addrFlag = cli.StringFlag{
		Name:   "addr",
		Value:  "127.0.0.1:5858",
		Usage:  "server address",
		EnvVar: "NAMEBOOK_ADDR",
	}
	codecFlag = cli.StringFlag{
		Name:   "codec",
		Value:  "msgpack",
		Usage:  "payload codec: msgpack or json",
		EnvVar: "NAMEBOOK_CODEC",
	}
	logLevelFlag = cli.StringFlag{
		Name:   "log-level",
		Value:  "info",
		Usage:  "debug, info, warn or error",
		EnvVar: "NAMEBOOK_LOG_LEVEL",
	}
	timeoutFlag = cli.DurationFlag{
		Name:   "timeout",
		Value:  5 * time.Second,
		Usage:  "per-call timeout",
		EnvVar: "NAMEBOOK_TIMEOUT",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "namebook"
	app.Usage = "keep a shared list of names behind a typed RPC server"
	app.Flags = []cli.Flag{addrFlag, codecFlag, logLevelFlag}
	app.Commands = []cli.Command{
		{
			Name:   "server",
			Usage:  "Start the server",
			Action: serverCommand,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:   "max-frame",
					Value:  1 << 20,
					Usage:  "maximum frame size in bytes",
					EnvVar: "NAMEBOOK_MAX_FRAME",
				},
				cli.DurationFlag{
					Name:   "read-timeout",
					Usage:  "close connections idle for this long (0 disables)",
					EnvVar: "NAMEBOOK_READ_TIMEOUT",
				},
				cli.Float64Flag{
					Name:   "rate",
					Usage:  "requests per second across all connections (0 disables)",
					EnvVar: "NAMEBOOK_RATE",
				},
				cli.StringFlag{
					Name:   "debug-addr",
					Usage:  "serve /debug/rpc on this address",
					EnvVar: "NAMEBOOK_DEBUG_ADDR",
				},
			},
		},
		{
			Name:   "add-name",
			Usage:  "Add a name to the server",
			Action: addNameCommand,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "name, n",
					Usage: "name to add",
				},
				timeoutFlag,
			},
		},
		{
			Name:   "get-names",
			Usage:  "Print every name the server holds",
			Action: getNamesCommand,
			Flags:  []cli.Flag{timeoutFlag},
		},
		{
			Name:   "list",
			Usage:  "List the RPCs of the namebook protocol",
			Action: listCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		PrintFatal("%s", err)
	}
}

func serverCommand(c *cli.Context) error {
	logger, err := logging.New(c.GlobalString("log-level"), false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cdc, err := codec.Parse(c.GlobalString("codec"))
	if err != nil {
		return err
	}

	srv := server.New(names.State{},
		server.WithCodec(cdc),
		server.WithMaxFrameSize(c.Int("max-frame")),
		server.WithReadTimeout(c.Duration("read-timeout")),
		server.WithLogger(logger),
	)
	if err := names.Register(srv); err != nil {
		return err
	}
	srv.Use(middleware.LoggingMiddleware(logger, names.Catalog))
	if rate := c.Float64("rate"); rate > 0 {
		srv.Use(middleware.RateLimitMiddleware(rate, int(rate)+1))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Listen("tcp", c.GlobalString("addr")); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if debugAddr := c.String("debug-addr"); debugAddr != "" {
		debugSrv := &http.Server{Addr: debugAddr, Handler: srv.DebugHandler()}
		g.Go(func() error {
			logger.Info("debug endpoint", zap.String("addr", debugAddr))
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
			defer cancel()
			return debugSrv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func callOptions(c *cli.Context) ([]client.Option, error) {
	cdc, err := codec.Parse(c.GlobalString("codec"))
	if err != nil {
		return nil, err
	}
	return []client.Option{client.WithCodec(cdc), client.WithTimeout(c.Duration("timeout"))}, nil
}

func addNameCommand(c *cli.Context) error {
	name := c.String("name")
	if name == "" {
		return errors.New("--name is required")
	}
	opts, err := callOptions(c)
	if err != nil {
		return err
	}

	if _, err := client.Call(context.Background(), c.GlobalString("addr"), names.AddName, name, opts...); err != nil {
		return err
	}
	color.Green("added %q", name)
	return nil
}

func getNamesCommand(c *cli.Context) error {
	opts, err := callOptions(c)
	if err != nil {
		return err
	}

	list, err := client.Call(context.Background(), c.GlobalString("addr"), names.GetNames, names.Empty{}, opts...)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		color.Yellow("no names yet")
		return nil
	}
	for i, n := range list {
		fmt.Printf("%s %s\n", color.CyanString("%3d", i+1), n)
	}
	return nil
}

func listCommand(c *cli.Context) error {
	for _, d := range names.Catalog.Descriptors() {
		fmt.Printf("%s %s\n", color.CyanString("%4d", uint32(d.ID())), d.Name())
	}
	return nil
}
