package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/company-registry/internal/model"
)

var upsertReq model.InsertOrUpdateRequest

var upsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Insert a company record or add a new version to a known company",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, r, err := initService(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		company, msg, err := svc.InsertOrUpdate(cmd.Context(), upsertReq)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(map[string]any{"company": company, "message": msg}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	upsertCmd.Flags().StringVar(&upsertReq.CompanyName, "name", "", "company name")
	upsertCmd.Flags().StringVar(&upsertReq.TaxID, "tax-id", "", "tax identifier")
	upsertCmd.Flags().StringVar(&upsertReq.OrgNbr, "org-nbr", "", "organization number (requires --country)")
	upsertCmd.Flags().StringVar(&upsertReq.Country, "country", "", "ISO country code")
	upsertCmd.Flags().StringVar(&upsertReq.ISIC, "isic", "", "ISIC rev 4 classification")
	upsertCmd.Flags().StringVar(&upsertReq.DataSource, "data-source", "manual", "where this record came from")
	rootCmd.AddCommand(upsertCmd)
}
