package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/benbjohnson/clock"
	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/vehicle"
	"github.com/spf13/cobra"
)

// vehicleCmd logs in once and dumps the vehicle data
var vehicleCmd = &cobra.Command{
	Use:   "vehicle [vin]",
	Short: "Query vehicle data",
	Args:  cobra.MaximumNArgs(1),
	Run:   runVehicle,
}

var timeout time.Duration

func init() {
	rootCmd.AddCommand(vehicleCmd)

	vehicleCmd.PersistentFlags().DurationVarP(&timeout,
		"timeout", "t",
		2*time.Minute,
		"Timeout waiting for vehicle data",
	)
}

// session logs in and waits until the first status has been read
func session(conf config, out chan<- util.Param) (*vehicle.WeConnect, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())

	wc, err := vehicle.NewWeConnect(ctx, util.NewLogger("vw"), clock.New(), conf.Account.vehicle(), EventBus.New(), out)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	go wc.Run(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()

	if err := wc.WaitReady(waitCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("vehicle data not available: %w", err)
	}

	return wc, cancel, nil
}

func runVehicle(cmd *cobra.Command, args []string) {
	conf, err := configure()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	valueChan := make(chan util.Param, 1024)
	cache := util.NewCache()
	go cache.Run(valueChan)

	wc, cancel, err := session(conf, valueChan)
	if err != nil {
		log.FATAL.Fatal(err)
	}
	defer cancel()

	vins := wc.Vehicles()
	if len(args) == 1 {
		vins = args[0:1]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
	for _, vin := range vins {
		fmt.Fprintf(w, "%s\n", vin)
		for _, p := range cache.Vehicle(vin) {
			if p.Channel {
				continue
			}
			fmt.Fprintf(w, "  %s.%s:\t%v\t%s\n", p.Domain, p.Key, p.Val, p.Unit)
		}
	}
	w.Flush()
}
