package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"yqhp/test-runner/internal/scenario"
)

// validateCmd 是 validate 子命令
var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "校验场景文件",
	Long: `解析并校验场景文件，不执行任何步骤。

不带参数时校验场景目录下所有项目的全部场景。`,
	Example: `  test-runner validate scenarios/acme/login.yaml
  test-runner validate --scenarios ./scenarios`,
	RunE: validateScenarios,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateScenarios(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var invalid int
	if len(args) > 0 {
		for _, path := range args {
			if !validateFile(out, path) {
				invalid++
			}
		}
	} else {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		n, err := validateDir(cmd.Context(), out, scenario.NewFileLoader(cfg.Scenarios.Dir, scenario.WithCache(false)))
		if err != nil {
			return err
		}
		invalid = n
	}

	if invalid > 0 {
		return fmt.Errorf("%d invalid scenario(s)", invalid)
	}
	return nil
}

func validateFile(out io.Writer, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "✗ %s: %v\n", path, err)
		return false
	}
	sc, err := scenario.Parse(data)
	if err != nil {
		fmt.Fprintf(out, "✗ %s: %v\n", path, err)
		return false
	}
	fmt.Fprintf(out, "✓ %s (%s, %d steps)\n", path, sc.Name, len(sc.Steps))
	return true
}

func validateDir(ctx context.Context, out io.Writer, loader *scenario.FileLoader) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	projects, err := loader.Projects(ctx)
	if err != nil {
		return 0, err
	}

	invalid := 0
	for _, project := range projects {
		entries, err := loader.List(ctx, project)
		if err != nil {
			return invalid, err
		}
		for _, e := range entries {
			if e.Error != "" {
				invalid++
				fmt.Fprintf(out, "✗ %s/%s: %s\n", e.Project, e.Slug, e.Error)
				continue
			}
			fmt.Fprintf(out, "✓ %s/%s (%s, %d steps)\n", e.Project, e.Slug, e.Name, e.Steps)
		}
	}
	return invalid, nil
}
