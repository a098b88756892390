package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a resource",
}

var createAgencyCmd = &cobra.Command{
	Use:   "agency",
	Short: "Create an agency (platform administrators only)",
	Long: `Create an agency from flags or from a YAML manifest:

  agencyhub-admin create agency --name "North Estates" --slug north-estates
  agencyhub-admin create agency -f agency.yaml`,
	Args: cobra.NoArgs,
	RunE: runCreateAgency,
}

var createAnalysisCmd = &cobra.Command{
	Use:     "analysis KIND",
	Aliases: []string{"job"},
	Short:   "Submit an analysis job",
	Args:    cobra.ExactArgs(1),
	RunE:    runCreateAnalysis,
}

func init() {
	createAgencyCmd.Flags().StringP("file", "f", "", "YAML manifest")
	createAgencyCmd.Flags().String("name", "", "Agency name")
	createAgencyCmd.Flags().String("slug", "", "URL-safe identifier")
	createAgencyCmd.Flags().String("currency", "", "ISO 4217 currency (default EUR)")
	createAgencyCmd.Flags().String("locale", "", "Locale (default en)")

	createAnalysisCmd.Flags().String("input", "", "Input parameters as a JSON object")
	createAnalysisCmd.Flags().String("agency", "", "Target agency ID (platform administrators only)")

	createCmd.AddCommand(createAgencyCmd, createAnalysisCmd)
}

// AgencyManifest is the body of POST /api/v1/admin/agencies.
type AgencyManifest struct {
	Name     string `json:"name" yaml:"name"`
	Slug     string `json:"slug" yaml:"slug"`
	Currency string `json:"currency,omitempty" yaml:"currency,omitempty"`
	Locale   string `json:"locale,omitempty" yaml:"locale,omitempty"`
}

func readAgencyManifest(path string) (AgencyManifest, error) {
	var m AgencyManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func runCreateAgency(cmd *cobra.Command, _ []string) error {
	var body AgencyManifest
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		m, err := readAgencyManifest(file)
		if err != nil {
			return err
		}
		body = m
	}
	// Flags override the manifest.
	for flag, dst := range map[string]*string{
		"name": &body.Name, "slug": &body.Slug, "currency": &body.Currency, "locale": &body.Locale,
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			*dst = v
		}
	}
	if body.Name == "" || body.Slug == "" {
		return fmt.Errorf("name and slug are required")
	}

	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	var a AgencyResponse
	if err := client.PostJSON(cmd.Context(), "/api/v1/admin/agencies", body, &a); err != nil {
		return err
	}
	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, a)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Agency created.\n\n")
	fmt.Fprintf(out, "  ID:    %s\n", a.ID)
	fmt.Fprintf(out, "  Name:  %s\n", a.Name)
	fmt.Fprintf(out, "  Slug:  %s\n", a.Slug)
	return nil
}

func runCreateAnalysis(cmd *cobra.Command, args []string) error {
	body := map[string]any{"kind": args[0]}
	if raw, _ := cmd.Flags().GetString("input"); raw != "" {
		var input map[string]any
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return fmt.Errorf("--input must be a JSON object: %w", err)
		}
		body["input"] = input
	}
	if agencyID, _ := cmd.Flags().GetString("agency"); agencyID != "" {
		body["agency_id"] = agencyID
	}

	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	var resp SubmitResponse
	if err := client.PostJSON(cmd.Context(), "/api/v1/analyses", body, &resp); err != nil {
		return err
	}
	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Analysis %s queued on %s (status %s).\n", resp.JobID, resp.Queue, resp.Status)
	return nil
}
