package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/square/ltcnet/addrcodec"
	"github.com/square/ltcnet/callbackbus"
	"github.com/square/ltcnet/configstore"
	"github.com/square/ltcnet/netmgr"
	"github.com/square/ltcnet/reporter"
	"github.com/square/ltcnet/serveraddr"
	"github.com/square/ltcnet/synchronizer"
	"github.com/square/ltcnet/txcodec"
	"github.com/square/ltcnet/utils"
	"github.com/square/ltcnet/walletstore"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("ltcnet", "A lightweight-wallet network manager for Electrum-protocol blockchains.")

	network = app.Flag("network", "mainnet | testnet").Default("mainnet").Enum("mainnet", "testnet")
	server  = app.Flag("server", "Server to connect to, host:port:s|t. Defaults to auto-selection.").PlaceHolder("HOST:PORT:PROTO").String()
	proxy   = app.Flag("proxy", "SOCKS proxy, mode:host:port[:user:pw], or \"none\".").PlaceHolder("SPEC").String()
	certDir = app.Flag("cert-dir", "Directory to pin server TLS certificates in.").Default("./ltcnet-certs").String()
	config  = app.Flag("config", "Config file for persisted settings (recent servers, auto-connect, default server).").Default("./ltcnet-config.json").String()

	monitor     = app.Command("monitor", "Subscribe a set of addresses and report their sync status until interrupted.")
	monitorAddr = monitor.Arg("address", "Address to watch.").Required().Strings()

	broadcast     = app.Command("broadcast", "Broadcast a raw signed transaction and wait for its txid.")
	broadcastHex  = broadcast.Arg("rawtx", "Raw transaction hex.").Required().String()
	broadcastWait = broadcast.Flag("timeout", "How long to wait for broadcast confirmation.").Default("30s").Duration()
)

func main() {
	app.Version("0.1.0")
	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case monitor.FullCommand():
		doMonitor()
	case broadcast.FullCommand():
		doBroadcast()
	default:
		panic("unreachable")
	}
}

func buildNetwork() (utils.Network, error) {
	switch *network {
	case "mainnet":
		return utils.Mainnet, nil
	case "testnet":
		return utils.Testnet, nil
	default:
		return "", errors.Errorf("unknown network %q", *network)
	}
}

func parseProxy() *serveraddr.ProxySpec {
	if *proxy == "" {
		return nil
	}
	spec, ok := serveraddr.DeserializeProxy(*proxy)
	if !ok {
		return nil
	}
	return &spec
}

func newManager(bus *callbackbus.Bus, net utils.Network, codec txcodec.TxCodec) (*netmgr.NetworkManager, error) {
	cfg, err := configstore.NewFileStore(*config, false)
	if err != nil {
		return nil, errors.Wrap(err, "opening config store")
	}

	m, err := netmgr.New(cfg, bus, netmgr.Options{
		Network: net,
		CertDir: *certDir,
		TxCodec: codec,
		LogFunc: func(format string, args ...interface{}) { fmt.Fprintf(os.Stderr, format+"\n", args...) },
	})
	if err != nil {
		return nil, errors.Wrap(err, "building network manager")
	}

	if *server != "" {
		addr, err := serveraddr.Deserialize(*server)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing --server %q", *server)
		}
		m.SetParameters(addr, parseProxy(), false)
	}

	return m, nil
}

func doMonitor() {
	net, err := buildNetwork()
	utils.PanicOnError(err)

	bus := callbackbus.New()
	codec := txcodec.NewWireCodec()

	m, err := newManager(bus, net, codec)
	utils.PanicOnError(err)

	wallet := walletstore.NewMemStore(*monitorAddr)
	addrs := addrcodec.NewScriptHashCodec(net.ChainConfig())
	synchro := synchronizer.New(wallet, m, bus, addrs, codec)
	reporter.New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	m.Start(ctx)
	synchro.Start(ctx)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
monitorLoop:
	for {
		select {
		case <-ctx.Done():
			break monitorLoop
		case <-ticker.C:
			printStatus(m, synchro)
		}
	}

	synchro.Stop()
	m.Stop()
	printStatus(m, synchro)
}

func printStatus(m *netmgr.NetworkManager, s *synchronizer.Synchronizer) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Server", "Connected", "Local Height", "Server Height", "Up To Date", "Time"})
	table.Append([]string{
		m.DefaultServer(),
		fmt.Sprintf("%v", m.IsConnected()),
		fmt.Sprintf("%d", m.GetLocalHeight()),
		fmt.Sprintf("%d", m.GetServerHeight()),
		fmt.Sprintf("%v", s.IsUpToDate()),
		time.Now().Format(time.RFC822),
	})
	table.Render()
}

func doBroadcast() {
	net, err := buildNetwork()
	utils.PanicOnError(err)

	bus := callbackbus.New()
	codec := txcodec.NewWireCodec()

	m, err := newManager(bus, net, codec)
	utils.PanicOnError(err)

	ctx, cancel := context.WithTimeout(context.Background(), *broadcastWait)
	defer cancel()

	m.Start(ctx)
	defer m.Stop()

	deadline := time.Now().Add(*broadcastWait)
	for !m.IsConnected() {
		if time.Now().After(deadline) {
			fmt.Fprintln(os.Stderr, "timed out waiting for a connection")
			os.Exit(1)
		}
		time.Sleep(100 * time.Millisecond)
	}

	ok, result := m.BroadcastTransaction(ctx, *broadcastHex, *broadcastWait)
	if !ok {
		fmt.Fprintf(os.Stderr, "broadcast failed: %s\n", result)
		os.Exit(1)
	}
	fmt.Printf("broadcast ok: %s\n", result)
}
