package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	homedir "github.com/mitchellh/go-homedir"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/textileio/filsync/buildinfo"
	"github.com/textileio/filsync/chainsync"
	"github.com/textileio/filsync/fchost"
	"github.com/textileio/filsync/health"
	"github.com/textileio/filsync/node"
	"go.opentelemetry.io/otel/exporters/metric/prometheus"
)

var (
	log    = logging.Logger("syncd")
	config = viper.New()
)

func main() {
	// Configure flags.
	if err := setupFlags(); err != nil {
		log.Fatalf("configuring flags: %s", err)
	}

	// Create configuration from flags/envs.
	conf, err := configFromFlags()
	if err != nil {
		log.Fatalf("creating config from flags: %s", err)
	}

	// Configure logging.
	if err := setupLogging(conf.RepoPath); err != nil {
		log.Fatalf("configuring up logging: %s", err)
	}

	log.Infof("starting syncd:\n%s", buildinfo.Summary())

	// Configuring Prometheus exporter.
	mux := http.NewServeMux()
	closeInstr, err := setupInstrumentation(mux)
	if err != nil {
		log.Fatalf("starting instrumentation: %s", err)
	}
	confJSON, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		log.Fatalf("marshaling configuration: %s", err)
	}
	log.Infof("%s", confJSON)

	// Start node.
	log.Info("starting node...")
	n, err := node.New(context.Background(), conf)
	if err != nil {
		log.Fatalf("starting node: %s", err)
	}
	mux.Handle("/health", healthHandler(n.Health()))
	log.Info("node started.")

	// Wait for Ctrl+C and close.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	log.Info("Closing...")
	closeInstr()
	n.Close()
	log.Info("Closed")
}

func configFromFlags() (node.Config, error) {
	repoPath, err := getRepoPath()
	if err != nil {
		return node.Config{}, fmt.Errorf("getting repo path: %s", err)
	}

	var lotusAddr ma.Multiaddr
	var lotusToken string
	if host := config.GetString("lotushost"); host != "" {
		if lotusAddr, err = ma.NewMultiaddr(host); err != nil {
			return node.Config{}, fmt.Errorf("parsing lotus api multiaddr: %s", err)
		}
		if lotusToken, err = getLotusToken(); err != nil {
			return node.Config{}, fmt.Errorf("getting lotus auth token: %s", err)
		}
	}

	syncConf := chainsync.DefaultConfig()
	syncConf.BlockDelay = config.GetDuration("blockdelay")
	syncConf.AllowableClockDrift = config.GetDuration("clockdrift")
	syncConf.FetchTimeout = config.GetDuration("fetchtimeout")
	syncConf.FetchRetries = config.GetUint64("fetchretries")
	syncConf.MaxFetchLength = config.GetUint64("maxfetchlength")
	syncConf.MaxForkLength = config.GetUint64("maxforklength")
	syncConf.AcceptIncomplete = config.GetBool("acceptincomplete")

	return node.Config{
		RepoPath:    repoPath,
		GenesisPath: config.GetString("genesis"),
		Host: fchost.Config{
			ListenAddrs: config.GetStringSlice("listenaddr"),
			Network:     config.GetString("network"),
			Bootstrap:   config.GetStringSlice("bootstrap"),
			DHT:         !config.GetBool("nodht"),
		},
		Sync:           syncConf,
		LotusAddress:   lotusAddr,
		LotusAuthToken: lotusToken,
	}, nil
}

func setupInstrumentation(mux *http.ServeMux) (func(), error) {
	exporter, err := prometheus.InstallNewPipeline(prometheus.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating the prometheus metrics exporter: %v", err)
	}
	mux.Handle("/metrics", exporter)
	srv := &http.Server{Addr: config.GetString("metricsaddr"), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("running prometheus scrape endpoint: %v", err)
		}
	}()
	closeFunc := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("shutting down prometheus server: %s", err)
		}
	}

	return closeFunc, nil
}

func healthHandler(m *health.Module) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, messages, err := m.Check(r.Context())
		res := struct {
			Status   string   `json:"status"`
			Messages []string `json:"messages,omitempty"`
			Error    string   `json:"error,omitempty"`
		}{Status: status.String(), Messages: messages}
		if err != nil {
			res.Error = err.Error()
		}
		if status != health.Ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(res); err != nil {
			log.Errorf("writing health response: %s", err)
		}
	})
}

func setupLogging(repoPath string) error {
	if err := os.MkdirAll(repoPath, os.ModePerm); err != nil {
		return fmt.Errorf("creating repo folder: %s", err)
	}
	cfg := logging.Config{
		Level:  logging.LevelError,
		Stdout: true,
		File:   filepath.Join(repoPath, "syncd.log"),
	}
	logging.SetupLogging(cfg)
	loggers := []string{
		// Top-level
		"syncd",
		"node",
		"fchost",

		// Chain
		"chainstore",
		"chainsync",
		"syncmanager",
		"signaler",

		// Protocols
		"exchange",
		"hello",

		// Lotus client
		"lotus",
	}

	// syncd registered loggers get info level by default.
	for _, l := range loggers {
		if err := logging.SetLogLevel(l, "info"); err != nil {
			return fmt.Errorf("setting up logger %s: %s", l, err)
		}
	}
	debugLevel := config.GetBool("debug")
	if debugLevel {
		for _, l := range loggers {
			if err := logging.SetLogLevel(l, "debug"); err != nil {
				return err
			}
		}
	}
	return nil
}

func getRepoPath() (string, error) {
	repoPath := config.GetString("repopath")
	if repoPath == "~/.filsync" {
		expandedPath, err := homedir.Expand(repoPath)
		if err != nil {
			return "", fmt.Errorf("expanding homedir: %s", err)
		}
		repoPath = expandedPath
	}
	return repoPath, nil
}

func getLotusToken() (string, error) {
	token := config.GetString("lotustoken")
	if token != "" {
		return token, nil
	}

	path := config.GetString("lotustokenfile")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("lotus auth token can't be empty")
	}
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading token file from lotus")
	}
	return string(b), nil
}

func setupFlags() error {
	pflag.Bool("debug", false, "Enable debug log level in all loggers.")
	pflag.String("repopath", "~/.filsync", "Path of the repository where the chain will be saved.")
	pflag.String("genesis", "", "Path of a file with the encoded genesis block header. Mandatory on a fresh repo.")
	pflag.StringSlice("listenaddr", fchost.DefaultConfig.ListenAddrs, "libp2p host listening multiaddresses.")
	pflag.String("network", "", "Known network whose bootstrap peers are dialed (e.g. calibrationnet).")
	pflag.StringSlice("bootstrap", nil, "Bootstrap peer multiaddresses. Overrides --network peers.")
	pflag.Bool("nodht", false, "Disable DHT peer routing.")
	pflag.String("metricsaddr", ":8888", "Prometheus scrape endpoint listening address.")
	pflag.String("lotushost", "", "Lotus client API endpoint multiaddress. (Optional, enables state checks)")
	pflag.String("lotustoken", "", "Lotus API authorization token. This flag or --lotustokenfile are mandatory if --lotushost is set.")
	pflag.String("lotustokenfile", "", "Path of a file that contains the Lotus API authorization token.")
	pflag.Duration("blockdelay", chainsync.DefaultConfig().BlockDelay, "Expected time between epochs.")
	pflag.Duration("clockdrift", chainsync.DefaultConfig().AllowableClockDrift, "Allowed block timestamp drift into the future.")
	pflag.Duration("fetchtimeout", chainsync.DefaultConfig().FetchTimeout, "Timeout of a single chain fetch request.")
	pflag.Uint64("fetchretries", chainsync.DefaultConfig().FetchRetries, "Retries of a chain fetch against an unreachable peer.")
	pflag.Uint64("maxfetchlength", chainsync.DefaultConfig().MaxFetchLength, "Maximum tipsets requested per chain fetch.")
	pflag.Uint64("maxforklength", chainsync.DefaultConfig().MaxForkLength, "Maximum depth below the head a synced chain can fork.")
	pflag.Bool("acceptincomplete", false, "Adopt tipsets whose validation couldn't run every check.")
	pflag.Parse()

	config.SetEnvPrefix("SYNCD")
	config.AutomaticEnv()
	if err := config.BindPFlags(pflag.CommandLine); err != nil {
		return fmt.Errorf("binding pflags: %s", err)
	}
	return nil
}
