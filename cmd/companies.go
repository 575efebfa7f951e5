package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/company-registry/internal/model"
)

var countQuery model.SearchQuery

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Inspect stored companies and the request audit log",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored record version, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, r, err := initService(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		companies, err := svc.ListAll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, companies)
	},
}

var companiesCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count currently visible companies, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, r, err := initService(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		n, err := svc.CountCompanies(cmd.Context(), countQuery)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

var companiesAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List the incoming-request audit log, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, r, err := initService(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		requests, err := svc.ListIncomingRequests(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, requests)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func init() {
	companiesCountCmd.Flags().StringVar(&countQuery.TaxID, "tax-id", "", "tax identifier")
	companiesCountCmd.Flags().StringVar(&countQuery.OrgNbr, "org-nbr", "", "organization number")
	companiesCountCmd.Flags().StringVar(&countQuery.Country, "country", "", "ISO country code")
	companiesCountCmd.Flags().StringVar(&countQuery.CompanyName, "name", "", "company name")

	companiesCmd.AddCommand(companiesListCmd, companiesCountCmd, companiesAuditCmd)
	rootCmd.AddCommand(companiesCmd)
}
