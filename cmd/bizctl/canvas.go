package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/preset"
)

func canvasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canvas",
		Short: "Inspect and patch a session's canvas",
	}
	cmd.AddCommand(canvasShowCmd())
	cmd.AddCommand(canvasPatchCmd())
	return cmd
}

func canvasShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the persisted canvas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			snap, err := c.FetchSession(ctx, args[0])
			if err != nil {
				return err
			}
			rec := snap.Canvas.Clone()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}

			p, ok := preset.Get(snap.AgentID)
			if !ok {
				p = preset.Default()
			}
			renderCanvas(os.Stdout, p, rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw canvas JSON")
	return cmd
}

func canvasPatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <session-id> <json>",
		Short: "Merge a partial update into the canvas",
		Long: `Merge a JSON patch into the session canvas. Patch fields win over
stored fields; scores merge per dimension.

  bizctl canvas patch <id> '{"product":"社区团购小程序"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch canvas.Record
			if err := json.Unmarshal([]byte(args[1]), &patch); err != nil {
				return fmt.Errorf("malformed patch JSON: %w", err)
			}
			if len(patch) == 0 {
				return fmt.Errorf("empty patch")
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			merged, err := c.PatchCanvas(ctx, args[0], patch)
			if err != nil {
				return err
			}

			snap, err := c.FetchSession(ctx, args[0])
			if err != nil {
				return err
			}
			p, ok := preset.Get(snap.AgentID)
			if !ok {
				p = preset.Default()
			}
			renderCanvas(os.Stdout, p, merged.Clone())
			return nil
		},
	}
}
