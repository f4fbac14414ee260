package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/validation"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	"github.com/spf13/cobra"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var cover bool

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a file against the upload limits and show its tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			absPath, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			info, err := os.Stat(absPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("file does not exist: %s", absPath)
				}
				return fmt.Errorf("inspect file: %w", err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", absPath)
			}

			ref := types.FileRef{
				URI:      absPath,
				Name:     info.Name(),
				Size:     info.Size(),
				MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(info.Name()))),
			}

			validator := validation.NewValidator(cfg.Upload.Limits)
			var result validation.Result
			if cover {
				result = validator.ValidateCover(ref, validation.CoverSingle)
			} else {
				result = validator.ValidateAudio(ref)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "File:    %s\n", ref.Name)
			fmt.Fprintf(out, "Size:    %d bytes\n", ref.Size)
			fmt.Fprintf(out, "Type:    %s\n", validation.ContentType(ref))

			if !cover {
				if tags, ok := validation.Inspect(ref); ok {
					fmt.Fprintf(out, "Title:   %s\n", tags.Title)
					fmt.Fprintf(out, "Artist:  %s\n", tags.Artist)
					if tags.Album != "" {
						fmt.Fprintf(out, "Album:   %s\n", tags.Album)
					}
					if tags.Format != "" {
						fmt.Fprintf(out, "Format:  %s\n", tags.Format)
					}
				} else {
					fmt.Fprintln(out, "Tags:    none")
				}
			}

			if !result.IsValid {
				for _, problem := range result.Errors {
					fmt.Fprintf(out, "Problem: %s\n", problem)
				}
				return result.Err(ref.Name)
			}
			fmt.Fprintln(out, "Result:  OK")
			return nil
		},
	}

	cmd.Flags().BoolVar(&cover, "cover", false, "Validate as cover art instead of audio")
	return cmd
}
