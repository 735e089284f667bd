package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var endpointsProbe bool

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Show upstream endpoint health",
	Long:  "Prints the health tracker's view of every configured endpoint. With --probe, issues a minimal request to each endpoint first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if endpointsProbe {
			env.Fetcher.Probe(cmd.Context(), env.Sources...)
		}

		snapshot := env.Tracker.Snapshot()
		sources := make([]string, 0, len(snapshot))
		for id := range snapshot {
			sources = append(sources, id)
		}
		sort.Strings(sources)

		for _, id := range sources {
			fmt.Printf("%s:\n", id)
			for _, st := range snapshot[id] {
				status := "ok"
				if st.ConsecutiveFailures > 0 {
					status = fmt.Sprintf("%d consecutive failures", st.ConsecutiveFailures)
				}
				last := "never"
				if st.LastSuccessAt != nil {
					last = st.LastSuccessAt.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("  %-8s %-60s %s (last success: %s)\n", st.Endpoint.Role, st.Endpoint.URL, status, last)
			}
		}

		return nil
	},
}

func init() {
	endpointsCmd.Flags().BoolVar(&endpointsProbe, "probe", false, "probe each endpoint before reporting")
	rootCmd.AddCommand(endpointsCmd)
}
