package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/urtextpiano-dev/urtext-sub005/midi"
	"github.com/urtextpiano-dev/urtext-sub005/timeline"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <score.mid>",
	Short: "Inspects the timeline of a score",
	Long:  `Prints the linear measure timeline built from a score.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspect(args[0])
	},
}

func inspect(path string) error {
	_, logger, err := loadConfig()
	if err != nil {
		return err
	}
	g, err := midi.ReadScore(path)
	if err != nil {
		return err
	}
	tl := timeline.New(logger)
	tl.Build(g)

	fmt.Printf("title: %v\n", g.Title)
	fmt.Printf("measures: %v (skipped %v)\n", tl.MeasureCount(), tl.Skipped())
	fmt.Printf("has repeats: %v\n", tl.HasRepeats())
	for _, pos := range tl.Positions() {
		fmt.Printf("measure %3d  source %3d  part %d  beats %v\n",
			pos.MeasureIndex, pos.SourceIndex, pos.PartIndex, pos.DurationInBeats)
	}
	return nil
}
