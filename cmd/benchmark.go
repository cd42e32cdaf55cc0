package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/compresr/llm-gateway/internal/benchmark"
	"github.com/compresr/llm-gateway/internal/tasks"
)

func benchmarkCommand() *cli.Command {
	return &cli.Command{
		Name:  "benchmark",
		Usage: "Score every enabled provider on one task type",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "task",
				Aliases:  []string{"t"},
				Usage:    "Task type to benchmark",
				Required: true,
			},
		},
		Action: runBenchmark,
	}
}

func runBenchmark(ctx context.Context, cmd *cli.Command) error {
	task, err := tasks.Parse(cmd.String("task"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.router.Initialize(ctx); err != nil {
		return err
	}

	printHeader("Benchmark: " + string(task))
	report, err := a.bench.Run(ctx, task, func(p benchmark.Progress) {
		printStep(fmt.Sprintf("[%d/%d] %s", p.Completed, p.Total, p.Provider))
	})
	if err != nil {
		return err
	}
	fmt.Println()
	return printBenchmarkTable(os.Stdout, report)
}

// printBenchmarkTable writes one row per provider, best first.
func printBenchmarkTable(w io.Writer, report *benchmark.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tOVERALL\tACCURACY\tRELEVANCE\tCOMPLETENESS\tSPEED\tRELIABILITY")
	for _, id := range report.Ranking() {
		s := report.Providers[id]
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\n",
			id, s.Overall, s.Accuracy, s.Relevance, s.Completeness, s.Speed, s.Reliability)
	}
	return tw.Flush()
}
