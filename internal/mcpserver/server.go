// Package mcpserver exposes the annotation pipeline as MCP tools so an
// agent can inspect the ledger, route verdicts, render object info and
// annotate single items over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/dataset"
	"github.com/sunzc-sunny/RDAnnotator/internal/filehandler"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/pipeline"
	"github.com/sunzc-sunny/RDAnnotator/internal/route"
	"github.com/sunzc-sunny/RDAnnotator/internal/stage"
)

// Annotator runs one item through the pipeline.
type Annotator interface {
	RunItem(ctx context.Context, item stage.Item) pipeline.ItemResult
	RunItemBypass(ctx context.Context, item stage.Item, r route.Route) pipeline.ItemResult
}

var _ Annotator = (*pipeline.Orchestrator)(nil)

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	Ledger  ledger.Ledger
	// Annotator and ImageDir enable annotate_item. Without them the tool
	// reports that annotation is not configured.
	Annotator Annotator
	ImageDir  string
	Logger    zerolog.Logger
}

// Server wraps the MCP SDK server and the pipeline dependencies.
type Server struct {
	MCPServer *sdkmcp.Server

	ledger    ledger.Ledger
	annotator Annotator
	imageDir  string
	logger    zerolog.Logger
}

// New creates a server with all tools registered.
func New(opts Options) (*Server, error) {
	if opts.Ledger == nil {
		return nil, errors.New("mcp server requires a ledger")
	}
	name := opts.Name
	if name == "" {
		name = "rdannotator"
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: name, Version: version}, nil),
		ledger:    opts.Ledger,
		annotator: opts.Annotator,
		imageDir:  opts.ImageDir,
		logger:    opts.Logger,
	}

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "classify_verdict",
		Description: "Map a color check verdict to its route: colorable, not_colorable or ambiguous.",
	}, s.handleClassifyVerdict)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "ledger_status",
		Description: "Report which stage artifacts exist for an item.",
	}, s.handleLedgerStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "object_info",
		Description: "Render the coordinate-only object info lines for a VisDrone annotation.",
	}, s.handleObjectInfo)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "annotate_item",
		Description: "Run one item through the pipeline. An empty route runs the color check; a route skips it.",
	}, s.handleAnnotateItem)

	return s, nil
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Msg("MCP server listening on stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

// --- classify_verdict ---

type classifyInput struct {
	Text string `json:"text" jsonschema:"color check verdict text"`
}

type classifyOutput struct {
	Route       string `json:"route"`
	ColorBranch bool   `json:"color_branch"`
}

func (s *Server) handleClassifyVerdict(_ context.Context, _ *sdkmcp.CallToolRequest, input classifyInput) (*sdkmcp.CallToolResult, classifyOutput, error) {
	r := route.Classify(input.Text)
	return nil, classifyOutput{Route: r.String(), ColorBranch: r.ColorBranch()}, nil
}

// --- ledger_status ---

type ledgerInput struct {
	Item string `json:"item" jsonschema:"item key, the image file name without extension"`
}

type stageStatus struct {
	Stage string `json:"stage"`
	Done  bool   `json:"done"`
}

type ledgerOutput struct {
	Item   string        `json:"item"`
	Stages []stageStatus `json:"stages"`
	Done   int           `json:"done"`
}

func (s *Server) handleLedgerStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, input ledgerInput) (*sdkmcp.CallToolResult, ledgerOutput, error) {
	key := ledger.BaseKey(strings.TrimSpace(input.Item))
	if key == "" {
		return nil, ledgerOutput{}, errors.New("item is required")
	}
	out := ledgerOutput{Item: key}
	for _, st := range ledger.AllStages {
		done, err := s.ledger.Has(ctx, key, st)
		if err != nil {
			return nil, ledgerOutput{}, fmt.Errorf("check %s: %w", st, err)
		}
		out.Stages = append(out.Stages, stageStatus{Stage: string(st), Done: done})
		if done {
			out.Done++
		}
	}
	return nil, out, nil
}

// --- object_info ---

type objectInfoInput struct {
	Annotation string `json:"annotation" jsonschema:"VisDrone annotation text, one box per line"`
	Width      int    `json:"width" jsonschema:"image width in pixels"`
	Height     int    `json:"height" jsonschema:"image height in pixels"`
}

type objectInfoOutput struct {
	Lines   []string `json:"lines"`
	Objects int      `json:"objects"`
	Boxes   int      `json:"boxes"`
}

func (s *Server) handleObjectInfo(_ context.Context, _ *sdkmcp.CallToolRequest, input objectInfoInput) (*sdkmcp.CallToolResult, objectInfoOutput, error) {
	if input.Width <= 0 || input.Height <= 0 {
		return nil, objectInfoOutput{}, fmt.Errorf("invalid image size %dx%d", input.Width, input.Height)
	}
	boxes, err := dataset.ParseAnnotation(strings.NewReader(input.Annotation))
	if err != nil {
		return nil, objectInfoOutput{}, fmt.Errorf("parse annotation: %w", err)
	}
	objs := dataset.NoncolorObjects(boxes, input.Width, input.Height)
	out := objectInfoOutput{Lines: []string{}, Objects: len(objs), Boxes: len(boxes)}
	for _, o := range objs {
		out.Lines = append(out.Lines, o.Line())
	}
	return nil, out, nil
}

// --- annotate_item ---

type annotateInput struct {
	Item  string `json:"item" jsonschema:"item key, the image file name without extension"`
	Route string `json:"route,omitempty" jsonschema:"optional known route (colorable or not_colorable) to skip the color check"`
}

type stageOutcome struct {
	Stage   string `json:"stage"`
	Outcome string `json:"outcome"`
}

type annotateOutput struct {
	Item   string         `json:"item"`
	Route  string         `json:"route,omitempty"`
	Stages []stageOutcome `json:"stages"`
	Calls  int            `json:"calls"`
	Error  string         `json:"error,omitempty"`
}

func (s *Server) handleAnnotateItem(ctx context.Context, _ *sdkmcp.CallToolRequest, input annotateInput) (*sdkmcp.CallToolResult, annotateOutput, error) {
	if s.annotator == nil || s.imageDir == "" {
		return nil, annotateOutput{}, errors.New("annotation is not configured on this server")
	}
	key := ledger.BaseKey(strings.TrimSpace(input.Item))
	if key == "" {
		return nil, annotateOutput{}, errors.New("item is required")
	}
	path, err := filehandler.FindImage(s.imageDir, key)
	if err != nil {
		return nil, annotateOutput{}, err
	}
	item := stage.Item{Key: key, ImagePath: path}

	var res pipeline.ItemResult
	if input.Route == "" {
		res = s.annotator.RunItem(ctx, item)
	} else {
		r, ok := route.Parse(input.Route)
		if !ok {
			return nil, annotateOutput{}, fmt.Errorf("unknown route %q", input.Route)
		}
		res = s.annotator.RunItemBypass(ctx, item, r)
	}
	s.logger.Info().Str("item", key).Int("calls", res.Calls()).Msg("annotate_item finished")

	out := annotateOutput{Item: key, Stages: []stageOutcome{}, Calls: res.Calls()}
	if res.Routed {
		out.Route = res.Route.String()
	}
	for _, sr := range res.Stages {
		out.Stages = append(out.Stages, stageOutcome{Stage: string(sr.Stage), Outcome: sr.Outcome.String()})
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return nil, out, nil
}
