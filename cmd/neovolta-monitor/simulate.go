package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/austinmroczek/neovolta/internal/inverter"
	"github.com/austinmroczek/neovolta/internal/simulator"
)

// sampleValues is a plausible midday reading used to seed the simulator.
var sampleValues = map[inverter.Key]inverter.Value{
	inverter.KeyBatteryChargedToday:         inverter.Float(8.4),
	inverter.KeyBatteryDischargedToday:      inverter.Float(3.1),
	inverter.KeyBatteryChargedCumulative:    inverter.Float(1520.7),
	inverter.KeyBatteryDischargedCumulative: inverter.Float(1433.2),
	inverter.KeyEnergyFromGridToday:         inverter.Float(2.6),
	inverter.KeyEnergyToGridToday:           inverter.Float(5.9),
	inverter.KeyEnergyFromGridCumulative:    inverter.Float(3804.5),
	inverter.KeyEnergyToGridCumulative:      inverter.Float(2210.0),
	inverter.KeyEnergyConsumedToday:         inverter.Float(14.2),
	inverter.KeyEnergyConsumedCumulative:    inverter.Float(6120.8),
	inverter.KeyFrequency1:                  inverter.Float(60.01),
	inverter.KeyFrequency2:                  inverter.Float(60.0),
	inverter.KeyFrequency3:                  inverter.Float(59.99),
	inverter.KeyGridVoltageRUA:              inverter.Float(121.4),
	inverter.KeyGridVoltageSVB:              inverter.Float(120.9),
	inverter.KeyGridVoltageRSUVAB:           inverter.Float(242.3),
	inverter.KeyBatteryVoltage1:             inverter.Float(53.12),
	inverter.KeyBatteryVoltage2:             inverter.Float(53.1),
	inverter.KeyBatteryVoltage3:             inverter.Float(53.0),
	inverter.KeyBatteryVoltage4:             inverter.Float(52.9),
	inverter.KeyBatteryTotal:                inverter.Integer(76),
	inverter.KeyBatteryTBD:                  inverter.Integer(76),
}

// seed writes serial and values into dev at the addresses of the register map.
func seed(dev *simulator.Device, serial string, values map[inverter.Key]inverter.Value) error {
	dev.Set(inverter.SerialBlock.Address, inverter.EncodeText(serial, int(inverter.SerialBlock.Count))...)

	for _, e := range inverter.RegisterMap {
		v, ok := values[e.Key]
		if !ok {
			continue
		}
		addr, ok := e.Address(inverter.Blocks)
		if !ok {
			return fmt.Errorf("%s: block %s not polled", e.Key, e.Block)
		}
		dev.Set(addr, e.Encode(v))
	}
	return nil
}

func simulateCmd() *cobra.Command {
	var (
		listen string
		serial string
		busy   int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated inverter",
		Long:  "Serve a sample NeoVolta register image over Modbus TCP for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := load(false)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			dev := simulator.New(logger)
			if err := seed(dev, serial, sampleValues); err != nil {
				return err
			}
			dev.FailNext(busy)

			if err := dev.Listen(listen); err != nil {
				return err
			}
			defer dev.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			logger.Info("simulator stopped", zap.Int("reads", len(dev.Reads())))
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "0.0.0.0:8899", "listen address")
	cmd.Flags().StringVar(&serial, "serial", "NV00000001", "serial number to report")
	cmd.Flags().IntVar(&busy, "busy", 0, "answer the first n reads with a busy exception")
	return cmd
}
