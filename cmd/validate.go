package cmd

import (
	"fmt"
	"io"

	"github.com/smazurov/foveanode/internal/config"
	"github.com/spf13/cobra"
)

// CreateValidateConfigCmd creates the validate-config command.
func CreateValidateConfigCmd() *cobra.Command {
	var printCfg bool

	cmd := &cobra.Command{
		Use:   "validate-config [pipeline.toml]",
		Short: "Check a pipeline config file",
		Long: `Loads a pipeline file on top of the defaults and validates every option. ` +
			`With --print the effective, normalized configuration is written as TOML.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "pipeline.toml"
			if len(args) == 1 {
				path = args[0]
			}
			return RunValidateConfig(path, printCfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&printCfg, "print", false, "Print the effective configuration")
	return cmd
}

// RunValidateConfig validates the pipeline file at path.
func RunValidateConfig(path string, printCfg bool, w io.Writer) error {
	p, err := config.LoadPipeline(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !printCfg {
		fmt.Fprintf(w, "%s: ok\n", path)
		return nil
	}
	data, err := config.MarshalPipeline(p)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
