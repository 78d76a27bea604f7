package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/provisio/provisio/pkg/manifest"
	"github.com/provisio/provisio/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var policyFiles []string

	cmd := &cobra.Command{
		Use:   "validate <manifest.cue>",
		Short: "Validate a manifest without provisioning anything",
		Long: `Parse a deployment manifest and evaluate the deployment policies
against it. Nothing is provisioned; the command fails when the manifest
is malformed or a policy would block the run.`,
		Example: `  provisio validate deploy.cue
  provisio validate deploy.cue --policy ./policies/naming.rego`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dep, err := manifest.NewLoader().Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("manifest ok: deployment %s (%s), %d steps\n",
				dep.Name, dep.Environment, len(dep.Steps))

			gate, err := policy.NewEngine(zerolog.Nop())
			if err != nil {
				return err
			}
			if len(policyFiles) > 0 {
				if err := gate.LoadPaths(ctx, policyFiles); err != nil {
					return err
				}
			}

			result, err := gate.Evaluate(ctx, dep)
			if err != nil {
				return err
			}
			printViolations(result)
			if !result.Allowed {
				return fmt.Errorf("deployment %s blocked by policy", dep.Name)
			}

			fmt.Printf("policies ok: %d evaluated\n", len(result.Evaluated))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&policyFiles, "policy", nil, "additional .rego policy files")

	return cmd
}
