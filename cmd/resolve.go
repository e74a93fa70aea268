package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/termctx/internal/resolver"
)

var (
	resolveJSON   bool
	resolveDir    string
	resolveBase64 bool
)

// resolvedRef is the JSON shape of one resolved reference.
type resolvedRef struct {
	resolver.Reference
	Error string `json:"error,omitempty"`
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <@path|message>...",
	Short: "Expand @file and @dir references into their contents",
	Long: `Resolve reads the files and directories named by @path tokens. Arguments
that are not tokens are scanned for embedded @path references, so a whole
message can be passed as-is.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		var tokens []string
		for _, arg := range args {
			if strings.HasPrefix(arg, "@") && !strings.ContainsAny(arg, " \t\n") {
				tokens = append(tokens, arg)
				continue
			}
			tokens = append(tokens, resolver.ExtractTokens(arg)...)
		}
		if len(tokens) == 0 {
			return fmt.Errorf("no @path references found")
		}

		r := resolver.New(resolver.Options{
			WorkDir:      resolveDir,
			MaxBytes:     c.Resolver.MaxBytes,
			Timeout:      c.Resolver.Timeout.D(),
			Allow:        c.Resolver.Allow,
			Deny:         c.Resolver.Deny,
			Base64Binary: c.Resolver.Base64Binary || resolveBase64,
			Logger:       logger,
		})
		refs := r.Resolve(cmd.Context(), tokens)

		if resolveJSON {
			out := make([]resolvedRef, len(refs))
			for i, ref := range refs {
				out[i] = resolvedRef{Reference: ref}
				if ref.Err != nil {
					out[i].Error = ref.Err.Error()
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		for i, ref := range refs {
			if i > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			fmt.Fprint(cmd.OutOrStdout(), resolver.Render(ref))
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Print references as JSON")
	resolveCmd.Flags().StringVarP(&resolveDir, "dir", "C", "", "Resolve relative paths against this directory")
	resolveCmd.Flags().BoolVar(&resolveBase64, "base64", false, "Inline binary files base64-encoded")
	rootCmd.AddCommand(resolveCmd)
}
