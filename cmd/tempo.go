package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/urtextpiano-dev/urtext-sub005/store"
)

func init() {
	tempoCmd.AddCommand(tempoShowCmd, tempoSetCmd, tempoClearCmd)
	rootCmd.AddCommand(tempoCmd)
}

var tempoCmd = &cobra.Command{
	Use:   "tempo",
	Short: "Manages the manual tempo override",
}

var tempoShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Shows the stored override",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOverrideStore(func(slot store.Slot) error {
			bpm, ok, err := slot.Get()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("no override")
				return nil
			}
			fmt.Printf("override: %v bpm\n", bpm)
			return nil
		})
	},
}

var tempoSetCmd = &cobra.Command{
	Use:   "set <bpm>",
	Short: "Stores a manual override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bpm, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid bpm %q: %w", args[0], err)
		}
		return withOverrideStore(func(slot store.Slot) error {
			return slot.Set(bpm)
		})
	},
}

var tempoClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Removes the manual override",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOverrideStore(func(slot store.Slot) error {
			return slot.Clear()
		})
	},
}

func withOverrideStore(fn func(store.Slot) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	slot, closeSlot, err := openOverrideStore(cfg.Tempo)
	if err != nil {
		return err
	}
	if closeSlot != nil {
		defer closeSlot()
	}
	return fn(slot)
}
