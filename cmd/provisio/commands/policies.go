package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/provisio/provisio/pkg/policy"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List the deployment policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := policy.NewEngine(zerolog.Nop())
			if err != nil {
				return err
			}
			policies := gate.Policies()

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(policies)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "POLICY\tSEVERITY\tENABLED\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
			}
			return w.Flush()
		},
	}

	return cmd
}
