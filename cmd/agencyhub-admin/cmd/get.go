package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Display resources",
}

var getAgencyCmd = &cobra.Command{
	Use:   "agency",
	Short: "Show the agency of the current token",
	Args:  cobra.NoArgs,
	RunE:  runGetAgency,
}

var getAnalysesCmd = &cobra.Command{
	Use:     "analyses",
	Aliases: []string{"jobs"},
	Short:   "List analysis jobs",
	Args:    cobra.NoArgs,
	RunE:    runGetAnalyses,
}

var getAnalysisCmd = &cobra.Command{
	Use:     "analysis ID",
	Aliases: []string{"job"},
	Short:   "Show one analysis job with its payloads",
	Args:    cobra.ExactArgs(1),
	RunE:    runGetAnalysis,
}

var getKindsCmd = &cobra.Command{
	Use:     "kinds",
	Aliases: []string{"analysis-kinds"},
	Short:   "List analysis kinds and their queues",
	Args:    cobra.NoArgs,
	RunE:    runGetKinds,
}

var getQueuesCmd = &cobra.Command{
	Use:     "queues",
	Aliases: []string{"queue"},
	Short:   "Show analysis queue depths",
	Args:    cobra.NoArgs,
	RunE:    runGetQueues,
}

var getAuditLogsCmd = &cobra.Command{
	Use:     "audit-logs",
	Aliases: []string{"audit-log", "logs"},
	Short:   "List audit log entries",
	Args:    cobra.NoArgs,
	RunE:    runGetAuditLogs,
}

func init() {
	getAnalysesCmd.Flags().String("kind", "", "Filter by kinds (comma-separated)")
	getAnalysesCmd.Flags().String("status", "", "Filter by statuses (comma-separated)")
	getAnalysesCmd.Flags().String("sort", "", "Sort field, prefix with - for descending")
	addPageFlags(getAnalysesCmd, 20)

	getAuditLogsCmd.Flags().String("action", "", "Filter by actions (comma-separated)")
	getAuditLogsCmd.Flags().String("since", "", "Lower bound (RFC3339)")
	addPageFlags(getAuditLogsCmd, 50)

	getCmd.AddCommand(getAgencyCmd, getAnalysesCmd, getAnalysisCmd, getKindsCmd, getQueuesCmd, getAuditLogsCmd)
}

func addPageFlags(cmd *cobra.Command, perPage int) {
	cmd.Flags().Int("page", 1, "Page number")
	cmd.Flags().Int("per-page", perPage, "Items per page")
}

// listPath builds a list URL from string flags mapped to query parameters.
func listPath(cmd *cobra.Command, base string, params map[string]string) string {
	q := url.Values{}
	for flag, param := range params {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			q.Set(param, v)
		}
	}
	if v, _ := cmd.Flags().GetInt("page"); v > 0 {
		q.Set("page", strconv.Itoa(v))
	}
	if v, _ := cmd.Flags().GetInt("per-page"); v > 0 {
		q.Set("per_page", strconv.Itoa(v))
	}
	if enc := q.Encode(); enc != "" {
		return base + "?" + enc
	}
	return base
}

func runGetAgency(cmd *cobra.Command, _ []string) error {
	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	var a AgencyResponse
	if err := client.GetJSON(cmd.Context(), "/api/v1/agency", &a); err != nil {
		return err
	}
	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, a)
	}
	t := newTable(cmd.OutOrStdout(), "ID", "NAME", "SLUG", "CURRENCY", "ACTIVE")
	t.AddRow(a.ID, a.Name, a.Slug, a.Currency, strconv.FormatBool(a.Active))
	return t.Flush()
}

func runGetAnalyses(cmd *cobra.Command, _ []string) error {
	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	path := listPath(cmd, "/api/v1/analyses", map[string]string{"kind": "kind", "status": "status", "sort": "sort"})

	var resp ListResponse[JobResponse]
	if err := client.GetJSON(cmd.Context(), path, &resp); err != nil {
		return err
	}
	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, resp)
	}

	out := cmd.OutOrStdout()
	t := newTable(out, "ID", "KIND", "PRIORITY", "STATUS", "CONFIDENCE", "ATTEMPTS", "CREATED")
	for _, j := range resp.Data {
		t.AddRow(j.ID, j.Kind, j.Priority, j.Status,
			strconv.FormatFloat(j.Confidence, 'f', 2, 64),
			fmt.Sprintf("%d/%d", j.AttemptCount, j.MaxAttempts),
			shortTime(j.CreatedAt))
	}
	if err := t.Flush(); err != nil {
		return err
	}
	printPagination(out, resp.Total, resp.Page, resp.PerPage, resp.TotalPages)
	return nil
}

func runGetAnalysis(cmd *cobra.Command, args []string) error {
	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	var j JobResponse
	if err := client.GetJSON(cmd.Context(), "/api/v1/analyses/"+url.PathEscape(args[0]), &j); err != nil {
		return err
	}
	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, j)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", j.ID)
	fmt.Fprintf(out, "Agency:      %s\n", j.AgencyID)
	fmt.Fprintf(out, "Kind:        %s (%s)\n", j.Kind, j.Priority)
	fmt.Fprintf(out, "Status:      %s\n", j.Status)
	fmt.Fprintf(out, "Confidence:  %.2f\n", j.Confidence)
	fmt.Fprintf(out, "Attempts:    %d/%d\n", j.AttemptCount, j.MaxAttempts)
	fmt.Fprintf(out, "Created:     %s\n", shortTime(j.CreatedAt))
	fmt.Fprintf(out, "Completed:   %s\n", ptrStr(j.CompletedAt))
	fmt.Fprintf(out, "Failed:      %s\n", ptrStr(j.FailedAt))
	if j.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:       %s\n", j.ErrorMessage)
	}
	if len(j.Output) > 0 {
		fmt.Fprintln(out, "Output:")
		return printYAML(out, j.Output)
	}
	return nil
}

func runGetKinds(cmd *cobra.Command, _ []string) error {
	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	var resp struct {
		Data []KindInfo `json:"data" yaml:"data"`
	}
	if err := client.GetJSON(cmd.Context(), "/api/v1/analysis-kinds", &resp); err != nil {
		return err
	}
	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, resp)
	}
	t := newTable(cmd.OutOrStdout(), "KIND", "PRIORITY", "QUEUE")
	for _, k := range resp.Data {
		t.AddRow(k.Kind, k.Priority, k.Queue)
	}
	return t.Flush()
}

func runGetQueues(cmd *cobra.Command, _ []string) error {
	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	var resp struct {
		Data []QueueStats `json:"data" yaml:"data"`
	}
	if err := client.GetJSON(cmd.Context(), "/api/v1/admin/queues", &resp); err != nil {
		return err
	}
	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, resp)
	}
	t := newTable(cmd.OutOrStdout(), "QUEUE", "PENDING", "ACTIVE", "SCHEDULED", "RETRY", "ARCHIVED", "PAUSED")
	for _, q := range resp.Data {
		t.AddRow(q.Queue, itoa(q.Pending), itoa(q.Active), itoa(q.Scheduled), itoa(q.Retry), itoa(q.Archived), strconv.FormatBool(q.Paused))
	}
	return t.Flush()
}

func runGetAuditLogs(cmd *cobra.Command, _ []string) error {
	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	path := listPath(cmd, "/api/v1/audit-logs", map[string]string{"action": "action", "since": "since"})

	var resp ListResponse[AuditEntry]
	if err := client.GetJSON(cmd.Context(), path, &resp); err != nil {
		return err
	}
	if flagOutput != outputTable {
		return printAs(cmd.OutOrStdout(), flagOutput, resp)
	}

	out := cmd.OutOrStdout()
	t := newTable(out, "TIME", "ACTION", "SEVERITY", "RESOURCE", "ACTOR", "MESSAGE")
	for _, e := range resp.Data {
		resource := e.ResourceType
		if e.ResourceID != "" {
			resource += "/" + e.ResourceID
		}
		t.AddRow(shortTime(e.CreatedAt), e.Action, e.Severity, resource, e.ActorID, truncate(e.Message, 60))
	}
	if err := t.Flush(); err != nil {
		return err
	}
	printPagination(out, resp.Total, resp.Page, resp.PerPage, resp.TotalPages)
	return nil
}
