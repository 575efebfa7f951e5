package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/company-registry/internal/model"
)

var (
	searchQuery  model.SearchQuery
	searchAtTime string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search for companies by identifiers or name",
	Long:  "Searches the repository first. When nothing matches and --at-time is not set, the external scraper service is consulted and any companies it finds are persisted before being returned.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchAtTime != "" {
			t, err := time.Parse(time.RFC3339, searchAtTime)
			if err != nil {
				return eris.Wrapf(err, "parse --at-time %q", searchAtTime)
			}
			searchQuery.AtTime = &t
		}

		svc, r, err := initService(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		matches, msg, err := svc.Search(cmd.Context(), searchQuery)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(map[string]any{"companies": matches, "message": msg}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchQuery.TaxID, "tax-id", "", "tax identifier")
	searchCmd.Flags().StringVar(&searchQuery.OrgNbr, "org-nbr", "", "organization number (requires --country)")
	searchCmd.Flags().StringVar(&searchQuery.Country, "country", "", "ISO country code")
	searchCmd.Flags().StringVar(&searchQuery.CompanyName, "name", "", "company name")
	searchCmd.Flags().StringVar(&searchAtTime, "at-time", "", "RFC3339 timestamp; search the registry as of this instant")
	rootCmd.AddCommand(searchCmd)
}
