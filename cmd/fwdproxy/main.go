package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/op/go-logging"
	"github.com/urfave/cli"

	krlog "github.com/An7ar35/fwdproxy/common/log"
	"github.com/An7ar35/fwdproxy/common/version"
	"github.com/An7ar35/fwdproxy/internal/client"
	"github.com/An7ar35/fwdproxy/internal/rendezvous"
)

func useSyslog() bool {
	env := os.Getenv("FWDPROXY_LOG_SYSLOG")
	if env != "" {
		return env == "true"
	}
	return false
}

var log = krlog.SetupLogging("fwdproxy", logging.INFO, useSyslog())

func main() {
	defer func() {
		if x := recover(); x != nil {
			log.Errorf("run time panic: %v", x)
			log.Error(string(debug.Stack()))
			panic(x)
		}
	}()

	app := cli.NewApp()
	app.Name = "fwdproxy"
	app.Usage = "rendezvous forwarding proxy and companion client"
	app.Version = version.CURRENT_VERSION.String()
	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "Run the rendezvous proxy server",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "port, p",
					Usage: "Port to listen on",
					Value: 9595,
				},
				cli.IntFlag{
					Name:  "pending-cap",
					Usage: "Maximum concurrent unpaired connections held in memory",
					Value: rendezvous.DefaultPendingCap,
				},
			},
			Action: serveCommand,
		},
		{
			Name:  "talk",
			Usage: "Connect to a rendezvous proxy and exchange data with your paired peer",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "addr, a",
					Usage: "host:port of the rendezvous proxy",
				},
				cli.StringFlag{
					Name:  "secret, s",
					Usage: "Shared secret identifying your pairing",
				},
				cli.BoolFlag{
					Name:  "generate-secret, g",
					Usage: "Generate a random secret and copy it to the clipboard",
				},
				cli.BoolFlag{
					Name:  "no-clipboard",
					Usage: "Do not copy the generated secret to the clipboard",
				},
				cli.BoolFlag{
					Name:  "prompt-secret",
					Usage: "Prompt for the secret on the terminal without echoing it",
				},
			},
			Action: talkCommand,
		},
		{
			Name:   "version",
			Usage:  "Print the version",
			Action: versionCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveCommand runs the rendezvous proxy until an interrupt or
// termination signal arrives, modeled on krd/main.go's signal-driven
// shutdown.
func serveCommand(c *cli.Context) error {
	srv := rendezvous.NewServer(log, rendezvous.Config{
		Port:       c.Int("port"),
		PendingCap: c.Int("pending-cap"),
	})
	if err := srv.Start(); err != nil {
		return err
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-stopSignal
	log.Noticef("stopping on signal %v", sig)
	return srv.Stop()
}

func talkCommand(c *cli.Context) error {
	addr := c.String("addr")
	secret := c.String("secret")

	if addr == "" {
		cachedAddr, cachedSecret, ok := client.LastSession()
		if !ok {
			return fmt.Errorf("--addr is required (no previous session cached)")
		}
		addr = cachedAddr
		if secret == "" {
			secret = cachedSecret
		}
		log.Noticef("reusing last session: %s", addr)
	}

	opts := client.Options{
		Addr:           addr,
		Secret:         secret,
		GenerateSecret: c.Bool("generate-secret"),
		NoClipboard:    c.Bool("no-clipboard"),
		PromptSecret:   c.Bool("prompt-secret"),
	}
	return client.Run(log, opts, os.Stdin, os.Stdout)
}

func versionCommand(c *cli.Context) error {
	fmt.Println(version.CURRENT_VERSION.String())
	return nil
}
