package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
)

func newExportCommand() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Write a project's rows, settings and schedule board as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), args[0], outputPath, cmd)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Destination file (defaults to stdout)")
	return cmd
}

func runExport(ctx context.Context, rawProjectID string, outputPath string, cmd *cobra.Command) error {
	projectID, err := cues.NewProjectID(rawProjectID)
	if err != nil {
		return err
	}
	_, logger, _, store, cleanup, err := openStore(false)
	if err != nil {
		return err
	}
	defer cleanup()

	if ctx == nil {
		ctx = context.Background()
	}
	export, err := store.Export(ctx, projectID)
	if err != nil {
		return err
	}
	encoded, err := encodeExport(export)
	if err != nil {
		return err
	}

	if outputPath == "" {
		_, err := cmd.OutOrStdout().Write(encoded)
		return err
	}
	if err := atomic.WriteFile(outputPath, bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	logger.Info("project exported",
		zap.String("project_id", projectID),
		zap.Int("rows", len(export.Rows)),
		zap.String("path", outputPath),
		zap.String("size", humanize.Bytes(uint64(len(encoded)))),
	)
	fmt.Fprintf(cmd.ErrOrStderr(), "exported %s rows of %s to %s (%s)\n",
		humanize.Comma(int64(len(export.Rows))), projectID, outputPath, humanize.Bytes(uint64(len(encoded))))
	return nil
}

func encodeExport(export docstore.ProjectExport) ([]byte, error) {
	encoded, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(encoded, '\n'), nil
}
