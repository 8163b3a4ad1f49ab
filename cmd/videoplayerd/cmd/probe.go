package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/spf13/cobra"

	"github.com/go-drift/videoplayer/pkg/source"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <uri>",
		Short: "Show how a source would be classified",
		Long: `probe resolves a URI the way create does and prints the result.
It performs no network I/O.`,
		Args: cobra.ExactArgs(1),
		RunE: runProbe,
	}
	cmd.Flags().String("hint", "", "format hint (ss, dash, hls, other)")
	cmd.Flags().StringArrayP("header", "H", nil, "HTTP header as key=value (repeatable)")
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	headers := map[string]string{}
	for _, h := range lo.Must(cmd.Flags().GetStringArray("header")) {
		k, v, ok := strings.Cut(h, "=")
		if !ok || k == "" {
			return fmt.Errorf("header %q is not key=value", h)
		}
		headers[k] = v
	}
	hint := mo.EmptyableToOption(lo.Must(cmd.Flags().GetString("hint")))

	desc, err := source.Resolver{UserAgent: cfg.Player.UserAgent}.Resolve(args[0], hint, headers)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if lo.Must(cmd.Flags().GetBool("json")) {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"uri":       desc.URI,
			"type":      desc.Type.String(),
			"userAgent": desc.UserAgent,
			"headers":   desc.Headers,
		})
	}
	fmt.Fprintf(out, "uri:        %s\n", desc.URI)
	fmt.Fprintf(out, "type:       %s\n", desc.Type)
	fmt.Fprintf(out, "user-agent: %s\n", desc.UserAgent)
	keys := lo.Keys(desc.Headers)
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "header:     %s: %s\n", k, desc.Headers[k])
	}
	return nil
}
