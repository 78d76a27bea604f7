package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/manifest"
	"github.com/provisio/provisio/pkg/policy"
)

func newDeployCommand(version string) *cobra.Command {
	var (
		policyFiles []string
		skipPolicy  bool
	)

	cmd := &cobra.Command{
		Use:   "deploy <manifest.cue>",
		Short: "Execute a deployment manifest",
		Long: `Execute the deployment described by a CUE manifest.

The run is transactional: each step is provisioned through the retry
policy and circuit breaker, and the first unrecoverable failure destroys
everything created so far in reverse order. Policies are evaluated before
any resource is touched.`,
		Example: `  # Deploy with default settings
  provisio deploy deploy.cue

  # Deploy with extra policies and a custom settings file
  provisio deploy deploy.cue --policy ./policies/naming.rego -c prod.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, version, true)
			if err != nil {
				return err
			}
			defer rt.close(context.WithoutCancel(ctx))

			dep, err := manifest.NewLoader().Load(args[0])
			if err != nil {
				return err
			}

			if !skipPolicy {
				result, err := evaluatePolicies(ctx, rt, dep, policyFiles)
				if err != nil {
					return err
				}
				printViolations(result)
				if !result.Allowed {
					return fmt.Errorf("deployment %s blocked by policy", dep.Name)
				}
			}

			deployer, err := rt.newDeployer(ctx)
			if err != nil {
				return err
			}

			run, deployErr := deployer.Deploy(ctx, dep)
			printRun(run)
			return deployErr
		},
	}

	cmd.Flags().StringArrayVar(&policyFiles, "policy", nil, "additional .rego policy files")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip policy evaluation")

	return cmd
}

func evaluatePolicies(ctx context.Context, rt *runtime, dep *engine.Deployment, extra []string) (*policy.Result, error) {
	gate, err := policy.NewEngine(rt.logger)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		if err := gate.LoadPaths(ctx, extra); err != nil {
			return nil, err
		}
	}
	return gate.Evaluate(ctx, dep)
}

func printViolations(result *policy.Result) {
	for _, v := range result.Violations {
		marker := "warning"
		if v.Severity == policy.SeverityError {
			marker = "blocked"
		}
		if v.StepID != "" {
			fmt.Fprintf(os.Stderr, "policy %s [%s] step %s: %s\n", v.Policy, marker, v.StepID, v.Message)
		} else {
			fmt.Fprintf(os.Stderr, "policy %s [%s]: %s\n", v.Policy, marker, v.Message)
		}
	}
}

// printRun writes the run summary to stdout, as JSON when --json is set.
func printRun(run *engine.Run) {
	if run == nil {
		return
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(run)
		return
	}

	fmt.Printf("run %s: %s (%s in %s)\n", run.ID, run.Status, run.Deployment, run.Environment)
	for _, result := range run.Results {
		line := fmt.Sprintf("  step %-12s %-9s attempts=%d", result.StepID, result.Status, result.Attempts)
		if result.ResourceID != "" {
			line += " resource=" + result.ResourceID
		}
		if result.Error != "" {
			line += " error=" + result.Error
		}
		fmt.Println(line)
	}
	if run.Rollback != nil {
		fmt.Printf("  rollback: %d cleaned, %d failed\n", len(run.Rollback.Cleaned), len(run.Rollback.Failed))
		for _, failed := range run.Rollback.Failed {
			fmt.Printf("    LEFT BEHIND %s (%s): %v\n", failed.Label, failed.ResourceID, failed.Err)
		}
	}
}
