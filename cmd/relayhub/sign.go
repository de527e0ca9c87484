package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/relayhub/signature"
	"github.com/xraph/relayhub/template"
)

func newSignCmd() *cobra.Command {
	var (
		source    string
		secret    string
		file      string
		data      string
		header    string
		timestamp int64
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a signature header for a payload",
		Example: `  relayhub sign --source github --secret s3cr3t --data '{"zen":"hi"}'
  relayhub sign --source stripe --secret whsec_x --file event.json --timestamp 1700000000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source = strings.ToLower(strings.TrimSpace(source))
			if secret == "" {
				return errors.New("--secret is required")
			}

			var body []byte
			switch {
			case file != "" && data != "":
				return errors.New("use either --file or --data, not both")
			case file != "":
				b, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				body = b
			case data != "":
				body = []byte(data)
			default:
				return errors.New("one of --file or --data is required")
			}

			if header == "" {
				header = template.DefaultHeader(source)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", header, signature.HeaderValue(source, body, secret, timestamp))
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", signature.SourceCustom, "source whose scheme to use (github, stripe, custom or a registered source)")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret")
	cmd.Flags().StringVar(&file, "file", "", "read the payload from a file")
	cmd.Flags().StringVar(&data, "data", "", "payload literal")
	cmd.Flags().StringVar(&header, "header", "", "header name (default depends on the source)")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "unix timestamp for the stripe scheme (default now)")
	return cmd
}

func newSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Print a fresh random signing secret",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), signature.GenerateSecret())
		},
	}
}
