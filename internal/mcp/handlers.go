package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/cohort"
	"github.com/phenex-cohort-server/internal/domain"
	"github.com/phenex-cohort-server/internal/session"
)

type handlers struct {
	sessions *session.Manager
	logger   *logrus.Logger
}

// GetCohortParams defines parameters for the get_cohort tool.
type GetCohortParams struct {
	CohortID string `json:"cohort_id"`
}

// GetCohortResult is the result of the get_cohort tool.
type GetCohortResult struct {
	Cohort *domain.Cohort      `json:"cohort"`
	Rows   []*domain.Phenotype `json:"rows"`
}

func (h *handlers) getCohort(ctx context.Context, req *mcp.CallToolRequest, params GetCohortParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "get_cohort").Info("Tool invoked")

	if params.CohortID == "" {
		return errorResult("cohort_id is required"), nil, nil
	}
	sess, err := h.sessions.Get(ctx, params.CohortID)
	if err != nil {
		return errorResult(fmt.Sprintf("loading cohort: %v", err)), nil, nil
	}

	result := GetCohortResult{
		Cohort: sess.Model.Cohort(),
		Rows:   sess.Model.Rows(),
	}
	return textResult(fmt.Sprintf("Loaded cohort %q with %d phenotypes",
		result.Cohort.Name, len(result.Cohort.Phenotypes))), result, nil
}

// AddPhenotypeParams defines parameters for the add_phenotype tool.
type AddPhenotypeParams struct {
	CohortID string `json:"cohort_id"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
}

func (h *handlers) addPhenotype(ctx context.Context, req *mcp.CallToolRequest, params AddPhenotypeParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "add_phenotype").Info("Tool invoked")

	if params.CohortID == "" {
		return errorResult("cohort_id is required"), nil, nil
	}
	ptype := domain.PhenotypeType(params.Type)
	if !ptype.IsValid() {
		return errorResult(fmt.Sprintf("invalid phenotype type %q", params.Type)), nil, nil
	}
	sess, err := h.sessions.Get(ctx, params.CohortID)
	if err != nil {
		return errorResult(fmt.Sprintf("loading cohort: %v", err)), nil, nil
	}

	p, err := sess.Model.AddPhenotype(ptype, params.ParentID)
	if err != nil {
		return errorResult(fmt.Sprintf("adding phenotype: %v", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Added %s phenotype %s", p.Type, p.ID)), p, nil
}

// UpdatePhenotypeParams defines parameters for the update_phenotype tool.
type UpdatePhenotypeParams struct {
	CohortID    string          `json:"cohort_id"`
	PhenotypeID string          `json:"phenotype_id"`
	Field       string          `json:"field"`
	Value       json.RawMessage `json:"value"`
}

func (h *handlers) updatePhenotype(ctx context.Context, req *mcp.CallToolRequest, params UpdatePhenotypeParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "update_phenotype").Info("Tool invoked")

	if params.CohortID == "" || params.PhenotypeID == "" || params.Field == "" {
		return errorResult("cohort_id, phenotype_id and field are required"), nil, nil
	}
	sess, err := h.sessions.Get(ctx, params.CohortID)
	if err != nil {
		return errorResult(fmt.Sprintf("loading cohort: %v", err)), nil, nil
	}

	if err := sess.Model.UpdateCell(params.PhenotypeID, params.Field, params.Value); err != nil {
		return errorResult(fmt.Sprintf("updating phenotype: %v", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Updated %s of phenotype %s", params.Field, params.PhenotypeID)), nil, nil
}

// DeletePhenotypeParams defines parameters for the delete_phenotype tool.
type DeletePhenotypeParams struct {
	CohortID    string `json:"cohort_id"`
	PhenotypeID string `json:"phenotype_id"`
}

// DeletePhenotypeResult is the result of the delete_phenotype tool.
type DeletePhenotypeResult struct {
	RemovedIDs []string `json:"removed_ids"`
}

func (h *handlers) deletePhenotype(ctx context.Context, req *mcp.CallToolRequest, params DeletePhenotypeParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "delete_phenotype").Info("Tool invoked")

	if params.CohortID == "" || params.PhenotypeID == "" {
		return errorResult("cohort_id and phenotype_id are required"), nil, nil
	}
	sess, err := h.sessions.Get(ctx, params.CohortID)
	if err != nil {
		return errorResult(fmt.Sprintf("loading cohort: %v", err)), nil, nil
	}

	removed, err := sess.Model.DeletePhenotype(params.PhenotypeID)
	if err != nil {
		return errorResult(fmt.Sprintf("deleting phenotype: %v", err)), nil, nil
	}
	return textResult(fmt.Sprintf("Deleted %d phenotype(s)", len(removed))),
		DeletePhenotypeResult{RemovedIDs: removed}, nil
}

// ReorderParams defines parameters for the reorder_phenotypes tool.
type ReorderParams struct {
	CohortID   string   `json:"cohort_id"`
	VisibleIDs []string `json:"visible_ids"`
}

func (h *handlers) reorderPhenotypes(ctx context.Context, req *mcp.CallToolRequest, params ReorderParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "reorder_phenotypes").Info("Tool invoked")

	if params.CohortID == "" {
		return errorResult("cohort_id is required"), nil, nil
	}
	sess, err := h.sessions.Get(ctx, params.CohortID)
	if err != nil {
		return errorResult(fmt.Sprintf("loading cohort: %v", err)), nil, nil
	}

	if err := sess.Model.Reorder(params.VisibleIDs); err != nil {
		return errorResult(fmt.Sprintf("reordering: %v", err)), nil, nil
	}
	return textResult("Reordered phenotypes"), sess.Model.Rows(), nil
}

// ValidateParams defines parameters for the validate_cohort tool.
type ValidateParams struct {
	CohortID string `json:"cohort_id"`
}

// ValidateResult is the result of the validate_cohort tool.
type ValidateResult struct {
	Issues     []cohort.Issue `json:"issues"`
	Executable bool           `json:"executable"`
}

func (h *handlers) validateCohort(ctx context.Context, req *mcp.CallToolRequest, params ValidateParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "validate_cohort").Info("Tool invoked")

	if params.CohortID == "" {
		return errorResult("cohort_id is required"), nil, nil
	}
	sess, err := h.sessions.Get(ctx, params.CohortID)
	if err != nil {
		return errorResult(fmt.Sprintf("loading cohort: %v", err)), nil, nil
	}

	issues := sess.Model.Validate()
	executable := true
	for _, issue := range issues {
		if issue.Severity == cohort.SeverityError {
			executable = false
			break
		}
	}
	return textResult(fmt.Sprintf("Found %d issue(s); executable=%t", len(issues), executable)),
		ValidateResult{Issues: issues, Executable: executable}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}
