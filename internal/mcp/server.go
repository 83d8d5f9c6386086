// Package mcp exposes the cohort editor to AI agents as an MCP tool server:
// agents can load cohorts, add and edit phenotypes, reorder the grid and
// validate cohorts over stdio.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/session"
)

// Server wraps the MCP SDK server around the session manager.
type Server struct {
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer builds the tool server and registers the cohort editing tools.
func NewServer(sessions *session.Manager, logger *logrus.Logger) *Server {
	serverInfo := &mcp.Implementation{
		Name:    "phenex-cohort-server",
		Version: "v0.1.0",
	}
	mcpServer := mcp.NewServer(serverInfo, nil)

	s := &Server{
		mcpServer: mcpServer,
		logger:    logger,
	}
	s.registerTools(sessions)
	return s
}

func (s *Server) registerTools(sessions *session.Manager) {
	h := &handlers{sessions: sessions, logger: s.logger}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_cohort",
		Description: "Load a cohort definition and return its phenotype grid",
	}, h.getCohort)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "add_phenotype",
		Description: "Add a phenotype row of a given type to a cohort, optionally as a component of a parent phenotype",
	}, h.addPhenotype)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "update_phenotype",
		Description: "Update one field of a phenotype, such as its name, class, codelist or a filter",
	}, h.updatePhenotype)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "delete_phenotype",
		Description: "Delete a phenotype together with its component subtree",
	}, h.deletePhenotype)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "reorder_phenotypes",
		Description: "Reorder the cohort's phenotype rows by listing the visible row ids in their new order",
	}, h.reorderPhenotypes)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "validate_cohort",
		Description: "Validate a cohort and report issues that block execution",
	}, h.validateCohort)
}

// Run serves MCP over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("MCP server starting on stdio")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
