// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/urfave/cli"
	"github.com/xtaci/smux"

	"github.com/rdtproto/rdt/rconn"
	"github.com/rdtproto/rdt/std"
)

const (
	// maxSmuxVer guards against negotiating unsupported smux protocol versions.
	maxSmuxVer = 2
)

const (
	TGT_UNIX = iota
	TGT_TCP
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// Enable timestamps + file:line to simplify debugging self-built binaries.
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "rdttun"
	myApp.Usage = "server(with SMUX)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: ":29900",
			Usage: `server listen address, eg: "IP:29900"`,
		},
		cli.StringFlag{
			Name:  "target, t",
			Value: "127.0.0.1:12948",
			Usage: "target server address, or path/to/unix_socket",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "it's a secrect",
			Usage:  "pre-shared identifier between client and server; accepted but not used",
			EnvVar: "RDTTUN_KEY",
		},
		cli.StringFlag{
			Name:  "mode",
			Value: "fast",
			Usage: "RTO profiles: fast3, fast2, fast, normal",
		},
		cli.IntFlag{
			Name:  "mtu",
			Value: 1350,
			Usage: "bytes per packet, used with rcvwnd to size the receive buffer",
		},
		cli.IntFlag{
			Name:  "sndwnd",
			Value: 1024,
			Usage: "send window size(num of packets); logged only, not applied",
		},
		cli.IntFlag{
			Name:  "rcvwnd",
			Value: 1024,
			Usage: "set receive window size(num of packets)",
		},
		cli.BoolFlag{
			Name:  "nocomp",
			Usage: "disable compression",
		},
		cli.IntFlag{
			Name:  "sockbuf",
			Value: 4194304, // socket buffer size in bytes
			Usage: "per-socket buffer in bytes; logged only, not applied",
		},
		cli.IntFlag{
			Name:  "smuxver",
			Value: 2,
			Usage: "specify smux version, available 1,2",
		},
		cli.IntFlag{
			Name:  "smuxbuf",
			Value: 4194304,
			Usage: "the overall de-mux buffer in bytes",
		},
		cli.IntFlag{
			Name:  "framesize",
			Value: 8192,
			Usage: "smux max frame size",
		},
		cli.IntFlag{
			Name:  "streambuf",
			Value: 2097152,
			Usage: "per stream receive buffer in bytes, smux v2+",
		},
		cli.IntFlag{
			Name:  "keepalive",
			Value: 10, // nat keepalive interval in seconds
			Usage: "seconds between heartbeats",
		},
		cli.IntFlag{
			Name:  "closewait",
			Value: 30,
			Usage: "the seconds to wait before tearing down a connection",
		},
		cli.StringFlag{
			Name:  "snmplog",
			Value: "",
			Usage: "collect snmp to file, aware of timeformat in golang, like: ./snmp-20060102.log",
		},
		cli.IntFlag{
			Name:  "snmpperiod",
			Value: 60,
			Usage: "snmp collect period, in seconds",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the 'stream open/close' messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when set, the JSON file must exist on disk
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Listen = c.String("listen")
		config.Target = c.String("target")
		config.Key = c.String("key")
		config.Mode = c.String("mode")
		config.MTU = c.Int("mtu")
		config.SndWnd = c.Int("sndwnd")
		config.RcvWnd = c.Int("rcvwnd")
		config.NoComp = c.Bool("nocomp")
		config.SockBuf = c.Int("sockbuf")
		config.SmuxBuf = c.Int("smuxbuf")
		config.FrameSize = c.Int("framesize")
		config.StreamBuf = c.Int("streambuf")
		config.SmuxVer = c.Int("smuxver")
		config.KeepAlive = c.Int("keepalive")
		config.Log = c.String("log")
		config.SnmpLog = c.String("snmplog")
		config.SnmpPeriod = c.Int("snmpperiod")
		config.Pprof = c.Bool("pprof")
		config.Quiet = c.Bool("quiet")
		config.CloseWait = c.Int("closewait")

		if c.String("c") != "" {
			// Only JSON configuration files are supported at the moment.
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		// Redirect logs when the user supplied a dedicated log file.
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		rtoMS := modeToRTO(config.Mode)

		log.Println("version:", VERSION)
		log.Println("smux version:", config.SmuxVer)
		log.Println("listening on:", config.Listen)
		log.Println("target:", config.Target)
		log.Println("mode:", config.Mode, "initial_rto(ms):", rtoMS)
		log.Println("sndwnd:", config.SndWnd, "rcvwnd:", config.RcvWnd)
		log.Println("compression:", !config.NoComp)
		log.Println("mtu:", config.MTU)
		log.Println("sockbuf:", config.SockBuf)
		log.Println("smuxbuf:", config.SmuxBuf)
		log.Println("framesize:", config.FrameSize)
		log.Println("streambuf:", config.StreamBuf)
		log.Println("keepalive:", config.KeepAlive)
		log.Println("snmplog:", config.SnmpLog)
		log.Println("snmpperiod:", config.SnmpPeriod)
		log.Println("pprof:", config.Pprof)
		log.Println("quiet:", config.Quiet)

		// Guard against negotiating unsupported smux protocol versions.
		if config.SmuxVer > maxSmuxVer {
			log.Fatal("unsupported smux version:", config.SmuxVer)
		}

		// Start the SNMP logger if the feature is enabled.
		go std.SnmpLogger(config.SnmpLog, config.SnmpPeriod)

		// Start the pprof server if the feature is enabled.
		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		rcfg := rconn.DefaultConfig()
		rcfg.InitialRTO = rtoMS
		rcfg.Capacity = windowBytes(config.RcvWnd, config.MTU)

		// Exactly one peer is ever accepted per bound UDP socket, so the
		// accept loop serves clients sequentially: bind, accept one,
		// serve it to completion, then rebind for the next.
		for {
			lis, pc, err := listen(&config, rcfg)
			if err != nil {
				log.Printf("%+v", err)
				continue
			}
			log.Println("awaiting connection on:", pc.LocalAddr())

			sock, err := lis.Accept()
			if err != nil {
				log.Printf("%+v", err)
				pc.Close()
				continue
			}
			log.Println("remote address:", sock.RemoteAddr())

			if config.NoComp {
				handleMux(sock, &config)
			} else {
				handleMux(std.NewCompStream(sock), &config)
			}
			pc.Close()
		}
	}
	myApp.Run(os.Args)
}

// modeToRTO maps a named profile to the sender's initial_RTO, the one
// retransmission knob this protocol core exposes in place of kcp-go's
// nodelay/interval/resend/nc tuple.
func modeToRTO(mode string) uint32 {
	switch mode {
	case "fast3":
		return 200
	case "fast2":
		return 400
	case "fast":
		return 700
	default: // "normal" and anything unrecognized
		return 1000
	}
}

// windowBytes converts a packet-count receive window into the byte
// capacity rconn.Config expects, capped at the protocol's 65535-byte
// advertised-window ceiling.
func windowBytes(rcvWndPackets, mtu int) int {
	if rcvWndPackets <= 0 {
		rcvWndPackets = 1
	}
	if mtu <= 0 {
		mtu = 1350
	}
	bytes := rcvWndPackets * mtu
	if bytes > 65535 {
		bytes = 65535
	}
	return bytes
}

// handleMux terminates one connection, accepts smux streams over it, and
// forwards each stream to the configured TCP or UNIX target.
func handleMux(conn net.Conn, config *Config) {
	targetType := TGT_TCP
	if _, _, err := net.SplitHostPort(config.Target); err != nil {
		targetType = TGT_UNIX
	}
	log.Println("smux version:", config.SmuxVer, "on connection:", conn.LocalAddr(), "->", conn.RemoteAddr())

	smuxConfig, err := std.BuildSmuxConfig(config.SmuxVer, config.SmuxBuf, config.StreamBuf, config.FrameSize, config.KeepAlive)
	if err != nil {
		log.Println(err)
		conn.Close()
		return
	}

	mux, err := smux.Server(conn, smuxConfig)
	if err != nil {
		log.Println(err)
		return
	}
	defer mux.Close()

	for {
		stream, err := mux.AcceptStream()
		if err != nil {
			log.Println(err)
			return
		}

		go func(p1 *smux.Stream) {
			var p2 net.Conn
			var err error

			switch targetType {
			case TGT_TCP:
				p2, err = net.Dial("tcp", config.Target)
			case TGT_UNIX:
				p2, err = net.Dial("unix", config.Target)
			}
			if err != nil {
				log.Println(err)
				p1.Close()
				return
			}
			handleClient(p1, p2, config.Quiet, config.CloseWait)
		}(stream)
	}
}

// handleClient bridges one smux stream to the upstream target until either
// side closes or closeWait elapses after the first side finishes.
func handleClient(p1 *smux.Stream, p2 net.Conn, quiet bool, closeWait int) {
	logln := func(v ...any) {
		if !quiet {
			log.Println(v...)
		}
	}

	defer p1.Close()
	defer p2.Close()
	std.Snmp.AddStreamOpened()

	logln("stream opened", "in:", fmt.Sprint(p1.RemoteAddr(), "(", p1.ID(), ")"), "out:", p2.RemoteAddr())
	defer logln("stream closed", "in:", fmt.Sprint(p1.RemoteAddr(), "(", p1.ID(), ")"), "out:", p2.RemoteAddr())

	var s1, s2 io.ReadWriteCloser = p1, p2

	err1, err2 := std.Pipe(s1, s2, closeWait)

	if err1 != nil && err1 != io.EOF {
		logln("pipe:", err1, "in:", p1.RemoteAddr(), "out:", p2.RemoteAddr())
	}
	if err2 != nil && err2 != io.EOF {
		logln("pipe:", err2, "in:", p1.RemoteAddr(), "out:", p2.RemoteAddr())
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
