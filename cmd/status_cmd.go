package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/trvdang/memex/internal/store"
)

type statusReport struct {
	Files   int                 `json:"files"`
	Chunks  int                 `json:"chunks"`
	Sources []store.SourceCount `json:"sources"`
}

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index counts per source",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.close()

			files, chunks := eng.store.Counts()
			perSource, err := eng.store.SourceCounts()
			if err != nil {
				return err
			}
			report := statusReport{Files: files, Chunks: chunks, Sources: perSource}

			if jsonOutput {
				if report.Sources == nil {
					report.Sources = []store.SourceCount{}
				}
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			fmt.Printf("Files: %d  Chunks: %d\n", files, chunks)
			if len(perSource) > 0 {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SOURCE\tFILES\tCHUNKS")
				for _, sc := range perSource {
					fmt.Fprintf(w, "%s\t%d\t%d\n", sc.Source, sc.Files, sc.Chunks)
				}
				w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
