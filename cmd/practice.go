package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver

	"github.com/urtextpiano-dev/urtext-sub005/midi"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/practice"
)

var practicePort string

func init() {
	practiceCmd.Flags().StringVar(&practicePort, "port", "", "MIDI input port name (defaults to the configured port)")
	rootCmd.AddCommand(practiceCmd)
	rootCmd.AddCommand(portsCmd)
}

var practiceCmd = &cobra.Command{
	Use:   "practice <score.mid>",
	Short: "Practice a score with a MIDI keyboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPractice(args[0])
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Lists MIDI input ports",
	Run: func(cmd *cobra.Command, args []string) {
		defer gomidi.CloseDriver()
		for i, name := range midi.InPorts() {
			fmt.Printf("%d: %s\n", i, name)
		}
	},
}

func runPractice(path string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	g, err := midi.ReadScore(path)
	if err != nil {
		return err
	}
	session, err := NewSession(cfg, g, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	defer gomidi.CloseDriver()
	name := practicePort
	if name == "" {
		name = cfg.MIDI.PortName
	}
	in, err := midi.OpenInput(name, cfg.MIDI.InPort, logger)
	if err != nil {
		return err
	}
	defer in.Close()

	events := make(chan model.InputEvent, 64)
	if err := in.Listen(events); err != nil {
		return err
	}

	session.Machine.OnChange(func(s model.PracticeState) {
		if s.CurrentStep == nil {
			return
		}
		logger.Info("practice: state",
			"status", s.Status,
			"step", s.StepIndex,
			"measure", s.CurrentStep.MeasureIndex,
			"attempts", s.AttemptCount)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.Machine.Dispatch(practice.Start())
	if session.Machine.Snapshot().Status == model.StatusRepeatWarning {
		logger.Warn("practice: score has repeats, practicing it as written once through")
		session.Machine.Dispatch(practice.DismissRepeatWarning())
	}
	err = session.Machine.Run(ctx, events)
	session.Machine.Dispatch(practice.Stop())
	if err == context.Canceled {
		return nil
	}
	return err
}
