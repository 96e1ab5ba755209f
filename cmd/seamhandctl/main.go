package main

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	seamhand "github.com/xtaci/seamhand"
	"github.com/xtaci/seamhand/transport"
	"go.uber.org/zap"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "seamhandctl"
	myApp.Usage = "bridge stdio over a seamhand stream, demonstrating a live transport handover"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "mode",
			Value: "dial",
			Usage: "listen or dial for the primary transport",
		},
		cli.StringFlag{
			Name:  "addr",
			Value: "127.0.0.1:7000",
			Usage: "primary transport address",
		},
		cli.StringFlag{
			Name:  "upgrade-addr",
			Value: "127.0.0.1:7001",
			Usage: "upgrade transport address, listened or dialed the same way as addr",
		},
		cli.StringFlag{
			Name:  "label",
			Value: "seamhandctl",
			Usage: "human label attached to the stream's transports",
		},
		cli.IntFlag{
			Name:  "upgrade-after",
			Value: 0,
			Usage: "seconds to wait before establishing the upgrade transport, 0 to disable",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress handshake progress messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Mode = c.String("mode")
		config.Addr = c.String("addr")
		config.UpgradeAddr = c.String("upgrade-addr")
		config.Label = c.String("label")
		config.UpgradeAfter = c.Int("upgrade-after")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		logger := zap.NewNop()
		if !config.Quiet {
			zc := zap.NewDevelopmentConfig()
			zc.DisableStacktrace = true
			built, err := zc.Build()
			checkError(err)
			logger = built
		}
		defer logger.Sync()

		log.Println("version:", VERSION)
		log.Println("mode:", config.Mode, "addr:", config.Addr, "upgrade-addr:", config.UpgradeAddr)

		conn, err := acceptOrDial(config.Mode, config.Addr)
		checkError(err)

		primary := transport.FromConn(conn, 1, config.Label)
		notifier, stream := seamhand.New(config.Label, primary, seamhand.WithLogger(logger))

		if config.UpgradeAfter > 0 {
			go func() {
				time.Sleep(time.Duration(config.UpgradeAfter) * time.Second)
				upConn, err := acceptOrDial(config.Mode, config.UpgradeAddr)
				if err != nil {
					log.Println("upgrade transport failed:", err)
					notifier.Close()
					return
				}
				log.Println("upgrade transport ready, handing it to the coordinator")
				notifier.Notify(transport.FromConn(upConn, 2, config.Label+"-upgrade"))
			}()
		} else {
			notifier.Close()
		}

		errOut, errIn := bridge(os.Stdout, os.Stdin, stream)
		if errOut != nil && errOut != io.EOF {
			log.Println("stream -> stdout:", errOut)
		}
		if errIn != nil && errIn != io.EOF {
			log.Println("stdin -> stream:", errIn)
		}
		return nil
	}
	myApp.Run(os.Args)
}

// acceptOrDial stands up one connection on addr: a listener that accepts a
// single peer in "listen" mode, or a direct dial otherwise.
func acceptOrDial(mode, addr string) (net.Conn, error) {
	if mode == "listen" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, errors.Wrap(err, "listen")
		}
		defer lis.Close()
		return lis.Accept()
	}
	return net.Dial("tcp", addr)
}

// bridge pipes stream to stdout and stdin to stream until both directions
// finish, the same shape as kcptun's std.Pipe but fixed to stdio at one end.
func bridge(stdout io.Writer, stdin io.Reader, stream *seamhand.Stream) (errOut, errIn error) {
	done := make(chan struct{}, 2)
	go func() {
		_, errOut = io.Copy(stdout, stream)
		done <- struct{}{}
	}()
	go func() {
		_, errIn = io.Copy(stream, stdin)
		done <- struct{}{}
	}()
	<-done
	<-done
	return errOut, errIn
}

func checkError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(-1)
	}
}
