package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/fetchcache/internal/app"
)

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "submit <endpoint>",
		Short: "Submit form JSON to a registered endpoint (--data or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, func(cmd *cobra.Command, args []string, a *app.App) error {
			raw := []byte(data)
			if data == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read form from stdin: %w", err)
				}
				raw = b
			}
			var form map[string]any
			if err := json.Unmarshal(raw, &form); err != nil {
				return fmt.Errorf("form must be a JSON object: %w", err)
			}
			res := a.Submit.Submit(cmd.Context(), args[0], form)
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Form JSON object")
	return cmd
}
