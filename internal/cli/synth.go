package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"temporary-access/backend/internal/asset"
)

const runbookFile = "runbook.yaml"

func (a *app) synthCmd() *cobra.Command {
	var (
		outDir string
		format string
		store  bool
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Render the CloudFormation template, runbook and code bundle",
		Long: `Synthesize the stack into an output directory:

  <stack>.template.json|yaml   CloudFormation template
  runbook.yaml                 Automation document body
  asset.<fingerprint>.zip      compute function code bundle

With --out "" only the template is written, to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (json, yaml)", format)
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}
			svc, closeStore, err := a.service(cmd, cfg, store)
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := svc.Synthesize(cmd.Context(), "cli")
			if err != nil {
				return err
			}
			template := res.TemplateJSON
			if format == "yaml" {
				template = res.TemplateYAML
			}
			if outDir == "" {
				_, err := cmd.OutOrStdout().Write(template)
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", outDir, err)
			}
			name := fmt.Sprintf("%s.template.%s", res.Stack.Name, format)
			if err := os.WriteFile(filepath.Join(outDir, name), template, 0o644); err != nil {
				return fmt.Errorf("write template: %w", err)
			}
			if err := os.WriteFile(filepath.Join(outDir, runbookFile), res.Runbook, 0o644); err != nil {
				return fmt.Errorf("write runbook: %w", err)
			}
			code := res.Stack.Function.Code
			bundle := filepath.Join(outDir, "asset."+code.Key)
			if err := writeBundle(code.Path, bundle); err != nil {
				return err
			}

			log := a.logger(cmd)
			log.Info("stack synthesized", "stack", res.Stack.Name, "out", outDir, "asset", code.Key)
			if store {
				log.Info("revision", "version", res.Revision.Version, "changed", res.Changed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "cdk.out", "Output directory")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Template format (json, yaml)")
	cmd.Flags().BoolVar(&store, "store", false, "Record the template in the revision history")
	return cmd
}

func (a *app) bundleCmd() *cobra.Command {
	var (
		dir string
		out string
	)
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Package the compute function code and print its fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				cfg, err := a.loadConfig(a.envFile)
				if err != nil {
					return err
				}
				dir = cfg.Stack.AssetDir
			}
			fp, err := asset.Fingerprint(dir)
			if err != nil {
				return err
			}
			if out == "" {
				out = "asset." + asset.Key(fp)
			}
			if err := writeBundle(dir, out); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", fp, out)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Code directory (defaults to stack.asset_dir)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Archive path (defaults to asset.<fingerprint>.zip)")
	return cmd
}

func writeBundle(dir, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := asset.Bundle(dir, f); err != nil {
		f.Close()
		return fmt.Errorf("bundle %s: %w", dir, err)
	}
	return f.Close()
}
