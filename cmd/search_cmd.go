package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/trvdang/memex/internal/index"
)

func searchCmd() *cobra.Command {
	var (
		project    string
		source     string
		maxResults int
		minScore   float64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid semantic + keyword search over the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := loadEngine()
			if err != nil {
				return err
			}
			defer eng.close()

			opts := index.SearchOptions{
				MaxResults: maxResults,
				MinScore:   minScore,
			}
			if source != "" {
				s := index.Source(source)
				if !s.Valid() {
					return fmt.Errorf("unknown source %q", source)
				}
				opts.Source = s
			}
			if cmd.Flags().Changed("project") {
				opts.Project = project
				opts.ProjectSet = true
			}

			results, err := eng.search.Search(cmd.Context(), strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			printResults(results, jsonOutput)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "filter by project slug")
	cmd.Flags().StringVar(&source, "source", "", "filter by source (notes, sessions, assistant, workspace)")
	cmd.Flags().IntVar(&maxResults, "max", 0, "maximum results")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum combined score")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printResults(results []index.SearchResult, jsonOutput bool) {
	if jsonOutput {
		if results == nil {
			results = []index.SearchResult{}
		}
		json.NewEncoder(os.Stdout).Encode(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tSOURCE\tLOCATION\tSNIPPET")
	for _, r := range results {
		snippet := strings.ReplaceAll(r.Snippet, "\n", " ")
		snippet = runewidth.Truncate(snippet, 80, "…")
		fmt.Fprintf(w, "%.3f\t%s\t%s:%d-%d\t%s\n",
			r.Score, r.Source, r.Path, r.StartLine, r.EndLine, snippet)
	}
	w.Flush()
}
