package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/awaistahir/solarcast/internal/forecast"
)

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect and convert model artifacts",
	}

	cmd.AddCommand(modelInspectCmd())
	cmd.AddCommand(modelConvertCmd())

	return cmd
}

func modelInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect [path]",
		Short: "Validate a model artifact and describe it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.Model.Path
			if len(args) == 1 {
				path = args[0]
			}

			a, err := forecast.NewFileSource(path).Load()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"path":     path,
					"name":     a.Name(),
					"kind":     a.Kind,
					"features": a.Features,
					"trees":    len(a.Trees),
				})
			}

			fmt.Printf("Path:     %s\n", path)
			fmt.Printf("Name:     %s\n", a.Name())
			fmt.Printf("Kind:     %s\n", a.Kind)
			switch a.Kind {
			case forecast.KindLinear:
				fmt.Printf("Intercept: %g\n", a.Intercept)
			case forecast.KindRandomForest:
				nodes := 0
				for _, t := range a.Trees {
					nodes += len(t.Nodes)
				}
				fmt.Printf("Trees:    %d (%d nodes)\n", len(a.Trees), nodes)
			}
			fmt.Printf("Features: %s\n", strings.Join(a.Features, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func modelConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Re-encode a model artifact",
		Long: `Re-encode a model artifact. The formats are picked from the file
extensions: .json, .yaml or .yml, each optionally followed by .zst.`,
		Example: "  solarcast model convert Finalized_model.json Finalized_model.json.zst",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, out := args[0], args[1]

			a, err := forecast.NewFileSource(in).Load()
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := forecast.EncodeArtifact(out, f, a); err != nil {
				f.Close()
				os.Remove(out)
				return fmt.Errorf("writing %s: %w", out, err)
			}
			if err := f.Close(); err != nil {
				return err
			}

			logger.Info().Str("from", in).Str("to", out).Str("model", a.Name()).Msg("model converted")
			return nil
		},
	}
}
