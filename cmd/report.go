package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/urtextpiano-dev/urtext-sub005/analysis"
	"github.com/urtextpiano-dev/urtext-sub005/evaluate"
	"github.com/urtextpiano-dev/urtext-sub005/midi"
	"github.com/urtextpiano-dev/urtext-sub005/tempo"
)

func init() {
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report <score.mid>",
	Short: "Creates a pacing report",
	Long:  `Prints the tempo map, the musical context of every step and the delay the engine would wait after it.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return report(args[0])
	},
}

func report(path string) error {
	_, logger, err := loadConfig()
	if err != nil {
		return err
	}
	g, err := midi.ReadScore(path)
	if err != nil {
		return err
	}

	events := tempo.Extract(g)
	fmt.Printf("tempo events: %v\n", len(events))
	for _, ev := range tempo.TempoMap(events) {
		fmt.Printf("  measure %3d  %6.2f bpm  %-9s confidence %.1f\n", ev.MeasureIndex, ev.BPM, ev.Source, ev.Confidence)
	}

	analyzer := analysis.NewAnalyzer(logger)
	fmt.Printf("note contexts: %v\n", analyzer.Preload(g))

	resolver := tempo.NewResolver(tempo.WithTempoEvents(events), tempo.WithContextProvider(analyzer), tempo.WithLogger(logger))
	steps := evaluate.NewProvider(g, logger).Steps()
	fmt.Printf("steps: %v\n", len(steps))
	for _, step := range steps {
		resolver.SetMeasure(step.MeasureIndex)
		ctx, _ := analyzer.Lookup(step.NoteID)
		fmt.Printf("  %-8s beats %-5v rest %-5v fermata %-5v phrase %-5v barline %-5v delay %v\n",
			step.NoteID, step.DurationInBeats, step.IsRest,
			ctx.HasFermata, ctx.IsPhraseEnd, ctx.IsBarlineEnd,
			resolver.ComputeDelay(step.DurationInBeats, step.NoteID))
	}
	return nil
}
