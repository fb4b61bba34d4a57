package cmd

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // pprof handler
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/core/storage"
	"github.com/evcc-io/idconnect/server"
	"github.com/evcc-io/idconnect/server/public"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/vehicle"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd runs the connector as a service
var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Run the connector service",
	Version: fmt.Sprintf("%s (%s)", server.Version, server.Commit),
	Run:     runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.PersistentFlags().StringP(
		"uri", "u",
		defaults.URI,
		"Listen address",
	)
	bind(runCmd, "uri")

	runCmd.PersistentFlags().Bool(
		"metrics",
		false,
		"Expose metrics",
	)
	bind(runCmd, "metrics")

	runCmd.PersistentFlags().Bool(
		"profile",
		false,
		"Expose pprof profiles",
	)
	bind(runCmd, "profile")
}

func runRun(cmd *cobra.Command, args []string) {
	conf, err := configure()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	addr, err := public.SetListener(conf.URI)
	if err != nil {
		log.WARN.Printf("cannot determine public address: %v", err)
	}
	log.INFO.Println("listening at", addr)

	// start broadcasting values
	tee := &util.Tee{}

	// value cache
	cache := util.NewCache()
	go cache.Run(tee.Attach())

	// setup database
	if conf.Database != "" {
		db, err := storage.Open(conf.Database)
		if err != nil {
			log.FATAL.Fatal(err)
		}
		go db.Run(tee.Attach())
	}

	bus := EventBus.New()

	// setup mqtt publisher
	if conf.Mqtt.Broker != "" {
		publisher, err := server.NewMQTT(conf.Mqtt)
		if err != nil {
			log.FATAL.Fatal(err)
		}

		if err := publisher.Listen(bus); err != nil {
			log.FATAL.Fatal(err)
		}

		go publisher.Run(tee.Attach())
	}

	// setup values channel
	valueChan := make(chan util.Param)
	go tee.Run(valueChan)

	ctx, cancel := context.WithCancel(context.Background())

	wc, err := vehicle.NewWeConnect(ctx, util.NewLogger("vw"), clock.New(), conf.Account.vehicle(), bus, valueChan)
	if err != nil {
		log.FATAL.Fatal(err)
	}

	// create webserver
	httpd := server.NewHTTPd(conf.URI, wc, cache)

	// metrics
	if viper.GetBool("metrics") || conf.Metrics {
		httpd.Router().Handle("/metrics", promhttp.Handler())
	}

	// pprof
	if viper.GetBool("profile") || conf.Profile {
		httpd.Router().PathPrefix("/debug/").Handler(http.DefaultServeMux)
	}

	exitC := make(chan struct{})

	go func() {
		wc.Run(ctx)
		close(exitC)
	}()

	// catch signals
	go func() {
		signalC := make(chan os.Signal, 1)
		signal.Notify(signalC, os.Interrupt, syscall.SIGTERM)

		<-signalC // wait for signal
		cancel()  // signal loop to end

		select {
		case <-exitC: // wait for loop to end
		case <-time.NewTimer(10 * time.Second).C:
		}

		os.Exit(1)
	}()

	log.FATAL.Println(httpd.ListenAndServe())
}
