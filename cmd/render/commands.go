package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cryguy/render"
	"github.com/cryguy/render/internal/logging"
)

type rootFlags struct {
	config    string
	storePath string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "render",
		Short:         "Render templates with JavaScript helpers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&f.storePath, "store", "", "SQLite entity store (overrides config)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level (overrides config)")

	root.AddCommand(newTemplateCmd(f), newStoreCmd(f))
	return root
}

// open loads the configuration and starts a runtime. Logs go to stderr.
func (f *rootFlags) open(stderr io.Writer) (*render.Runtime, *zap.Logger, error) {
	cfg, err := render.LoadConfig(f.config)
	if err != nil {
		return nil, nil, err
	}
	if f.storePath != "" {
		cfg.Store.Path = f.storePath
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return nil, nil, err
	}
	rt, err := render.New(*cfg, render.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return rt, logger, nil
}

func newTemplateCmd(f *rootFlags) *cobra.Command {
	var content, file, engine, helpersFile, data string
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Render an inline template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				content = string(b)
			}
			var helpers string
			if helpersFile != "" {
				b, err := os.ReadFile(helpersFile)
				if err != nil {
					return err
				}
				helpers = string(b)
			}
			input, err := parseData(data)
			if err != nil {
				return err
			}

			rt, logger, err := f.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			defer logger.Sync() //nolint:errcheck

			res, err := rt.Render(cmd.Context(), &render.Request{
				Template: &render.Entity{Engine: engine, Content: content, Helpers: helpers},
				Data:     input,
			})
			return writeResult(cmd, logger, res, err)
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "template content")
	cmd.Flags().StringVar(&file, "file", "", "read template content from a file")
	cmd.Flags().StringVar(&engine, "engine", "pongo2", "template engine")
	cmd.Flags().StringVar(&helpersFile, "helpers", "", "JavaScript helpers file")
	cmd.Flags().StringVar(&data, "data", "", "input data as a JSON object")
	cmd.MarkFlagsMutuallyExclusive("content", "file")
	return cmd
}

func newStoreCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage stored templates and components",
	}
	var set string
	cmd.PersistentFlags().StringVar(&set, "set", render.SetTemplates, "entity set (templates or components)")

	put := &cobra.Command{
		Use:   "put <entity.yaml>",
		Short: "Create or replace an entity from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var e render.Entity
			if err := yaml.Unmarshal(b, &e); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			rt, _, err := f.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Store().Put(cmd.Context(), set, &e); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s/%s\n", set, e.ShortID)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <path>",
		Short: "Print an entity as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, _, err := f.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			e, err := rt.Store().ResolveFromPath(cmd.Context(), args[0], set, "")
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("%s not found in %s", args[0], set)
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(e)
		},
	}

	var data string
	run := &cobra.Command{
		Use:   "render <path>",
		Short: "Render a stored template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseData(data)
			if err != nil {
				return err
			}
			rt, logger, err := f.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := rt.RenderPath(cmd.Context(), args[0], input)
			return writeResult(cmd, logger, res, err)
		},
	}
	run.Flags().StringVar(&data, "data", "", "input data as a JSON object")

	cmd.AddCommand(put, get, run)
	return cmd
}

func parseData(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	return data, nil
}

// writeResult prints the rendered content, replaying helper console output
// through the logger. Render errors carry their entity and line.
func writeResult(cmd *cobra.Command, logger *zap.Logger, res *render.Result, err error) error {
	if err != nil {
		var rerr *render.Error
		if errors.As(err, &rerr) {
			fields := []zap.Field{zap.String("kind", string(rerr.Kind))}
			if rerr.Property != "" {
				fields = append(fields, zap.String("property", string(rerr.Property)))
			}
			if rerr.Line > 0 {
				fields = append(fields, zap.Int("line", rerr.Line))
			}
			logger.Error("render failed", fields...)
		}
		return err
	}
	for _, l := range res.Logs {
		logger.Info(l.Message, zap.String("console", l.Level))
	}
	logger.Debug("rendered", zap.Duration("duration", res.Duration))
	_, err = io.WriteString(cmd.OutOrStdout(), res.Content)
	return err
}
