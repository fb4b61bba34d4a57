package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/evcc-io/idconnect/util"
	"github.com/evcc-io/idconnect/vehicle"
	"github.com/spf13/cobra"
)

// commandCmd logs in once and sends a remote command to the active vehicle
var commandCmd = &cobra.Command{
	Use:   "command <action> [value]",
	Short: "Send remote command (charging, climatisation, temperature, soc)",
	Long: `Send a remote command to the configured vehicle.

Actions:
  charging start|stop
  climatisation start|stop
  temperature <°C>
  soc <%>
  current maximum|reduced`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

// dispatch executes the command line action on the account
func dispatch(ctx context.Context, wc *vehicle.WeConnect, args []string) error {
	if len(args) < 2 {
		return errors.New("missing value")
	}

	action, value := args[0], args[1]

	switch action {
	case "charging":
		switch value {
		case "start":
			return wc.StartCharging(ctx)
		case "stop":
			return wc.StopCharging(ctx)
		}

	case "climatisation":
		switch value {
		case "start":
			return wc.StartClimatisation(ctx)
		case "stop":
			return wc.StopClimatisation(ctx)
		}

	case "temperature":
		temp, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		return wc.SetClimatisation(ctx, temp)

	case "soc":
		soc, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		return wc.SetChargingSetting(ctx, "targetSOC", soc)

	case "current":
		return wc.SetChargingSetting(ctx, "chargeCurrent", value)
	}

	return fmt.Errorf("invalid command: %s %s", action, value)
}

func runCommand(cmd *cobra.Command, args []string) {
	conf, err := configure()
	if err != nil {
		log.FATAL.Fatal(err)
	}

	valueChan := make(chan util.Param)
	go func() {
		for range valueChan {
		}
	}()

	wc, cancel, err := session(conf, valueChan)
	if err != nil {
		log.FATAL.Fatal(err)
	}
	defer cancel()

	if err := dispatch(context.Background(), wc, args); err != nil {
		log.FATAL.Fatal(err)
	}

	fmt.Println("ok")
}
