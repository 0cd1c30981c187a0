package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const usageGuidelines = `# codegraph usage

codegraph indexes a Python repository into a typed graph of files, functions,
classes, methods, and imports, linked by containment, definition, inheritance,
import, and call edges.

Symbols are addressed by identity: ` + "`path/to/file.py::name`" + ` for
functions and classes, ` + "`path/to/file.py::Class.method`" + ` for methods.

Recommended flow:

1. Call ` + "`index`" + ` once per session (or ` + "`index_status`" + ` to
   check whether the graph is already built).
2. Use ` + "`symbols_in_file`" + ` to orient inside a file.
3. Use ` + "`callees`" + `, ` + "`callers`" + `, and ` + "`dependencies`" + `
   to walk the call graph around a symbol of interest.
4. Use ` + "`get_symbol`" + ` with ` + "`with_source: true`" + ` to pull the
   definition into context.

Call edges are heuristic: bare names are matched against function definitions,
so calls into libraries or through objects are not linked.
`

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "codegraph://usage-guidelines",
		Name:        "Usage Guidelines",
		Description: "How to combine the codegraph tools when exploring a repository",
		MIMEType:    "text/markdown",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      "codegraph://usage-guidelines",
					MIMEType: "text/markdown",
					Text:     usageGuidelines,
				},
			},
		}, nil
	})

	schemaMap := buildSchemaMap()

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "codegraph://schemas/{tool_name}",
		Name:        "Tool Schema",
		Description: "JSON schema for the named tool's arguments",
		MIMEType:    "application/schema+json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := req.Params.URI
		toolName := strings.TrimPrefix(uri, "codegraph://schemas/")
		schemaJSON, ok := schemaMap[toolName]
		if !ok {
			return nil, fmt.Errorf("unknown tool schema: %q", toolName)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "application/schema+json",
					Text:     schemaJSON,
				},
			},
		}, nil
	})
}

// buildSchemaMap derives each tool's argument schema from its args struct.
func buildSchemaMap() map[string]string {
	m := make(map[string]string)
	addSchema[IndexArgs](m, "index")
	addSchema[IndexStatusArgs](m, "index_status")
	addSchema[SymbolsInFileArgs](m, "symbols_in_file")
	addSchema[CalleesArgs](m, "callees")
	addSchema[CallersArgs](m, "callers")
	addSchema[DependenciesArgs](m, "dependencies")
	addSchema[GetSymbolArgs](m, "get_symbol")
	return m
}

func addSchema[T any](m map[string]string, name string) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return
	}
	m[name] = string(schemaJSON)
}
