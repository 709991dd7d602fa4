// Package stage implements the pipeline's stage clients. One Client type
// covers every stage: a Template supplies the system prompt, exemplar
// directory, query shape and sampling parameters, and an AttrMode selects
// coordinate-only or coordinate-and-color object attributes.
//
// BuildRequest is a pure function of the item's current artifacts.
// Complete adds exactly one model call. Neither writes artifacts; the
// orchestrator persists the result.
package stage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sunzc-sunny/RDAnnotator/internal/assets"
	"github.com/sunzc-sunny/RDAnnotator/internal/dataset"
	"github.com/sunzc-sunny/RDAnnotator/internal/filehandler"
	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
	"github.com/sunzc-sunny/RDAnnotator/internal/retry"
	"github.com/sunzc-sunny/RDAnnotator/internal/vlm"
)

var (
	// ErrMissingInput reports an absent prerequisite: the image, its info
	// file, or an earlier stage's artifact. It is always permanent.
	ErrMissingInput = errors.New("missing input")
	// ErrNothingToRegenerate is returned by the regenerate stage when the
	// verification rejected no statement. No model call is made.
	ErrNothingToRegenerate = errors.New("nothing to regenerate")
	// ErrEmptyResponse reports a response without usable text.
	ErrEmptyResponse = errors.New("empty model response")
)

// Item is one image moving through the pipeline.
type Item struct {
	// Key is the image file name without extension.
	Key       string
	ImagePath string
}

// NewItem derives an Item from an image path.
func NewItem(imagePath string) Item {
	return Item{Key: ledger.BaseKey(filepath.Base(imagePath)), ImagePath: imagePath}
}

// Options configures a Client.
type Options struct {
	Completer vlm.Completer
	Ledger    ledger.Ledger
	// InfoDir holds <key>.txt object attribute files. Unused by the caption
	// stage.
	InfoDir string
	// ExemplarDir holds the template's exemplars.
	ExemplarDir string
	// ExemplarImageDir holds the exemplar images.
	ExemplarImageDir string
	// N overrides the template's candidate count when positive.
	N int
	// Pick returns a random index in [0, n). Defaults to math/rand/v2.
	Pick   func(n int) int
	Logger zerolog.Logger
}

// Client is a stage client.
type Client struct {
	tmpl      Template
	mode      AttrMode
	completer vlm.Completer
	ledger    ledger.Ledger
	infoDir   string
	exemplars *ExemplarSet
	phrasings []string
	pick      func(n int) int
	logger    zerolog.Logger
}

// New creates a Client and loads its exemplar set.
func New(tmpl Template, mode AttrMode, opts Options) (*Client, error) {
	if opts.Completer == nil {
		return nil, errors.New("stage client requires a completer")
	}
	if opts.Ledger == nil {
		return nil, errors.New("stage client requires a ledger")
	}
	if tmpl.Query != QueryCaption && opts.InfoDir == "" {
		return nil, fmt.Errorf("%s: info directory is required", tmpl.Stage)
	}
	if opts.ExemplarDir == "" {
		return nil, fmt.Errorf("%s: exemplar directory is required", tmpl.Stage)
	}
	if opts.N > 0 {
		tmpl.Params.N = opts.N
	}
	c := &Client{
		tmpl:      tmpl,
		mode:      mode,
		completer: opts.Completer,
		ledger:    opts.Ledger,
		infoDir:   opts.InfoDir,
		phrasings: assets.CaptionPhrasings(),
		pick:      opts.Pick,
		logger:    opts.Logger.With().Str("stage", string(tmpl.Stage)).Logger(),
	}
	if c.pick == nil {
		c.pick = rand.IntN
	}

	var err error
	if tmpl.Query == QueryCaption {
		c.exemplars, err = LoadCaptionExemplars(opts.ExemplarDir, opts.ExemplarImageDir, c.phrase)
	} else {
		c.exemplars, err = LoadExemplars(opts.ExemplarDir, opts.ExemplarImageDir)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tmpl.Stage, err)
	}
	c.logger.Info().
		Str("dir", opts.ExemplarDir).
		Int("exemplars", c.exemplars.Len()).
		Str("attrs", mode.String()).
		Msg("Stage client ready")
	return c, nil
}

// Stage returns the artifact stage this client produces.
func (c *Client) Stage() ledger.Stage { return c.tmpl.Stage }

// Template returns the client's template.
func (c *Client) Template() Template { return c.tmpl }

// Exemplars returns the shared exemplar set.
func (c *Client) Exemplars() *ExemplarSet { return c.exemplars }

func (c *Client) phrase() string {
	return c.phrasings[c.pick(len(c.phrasings))]
}

// BuildRequest assembles the model request for item from its current
// artifacts. It returns ErrMissingInput (permanent) when a prerequisite is
// absent and ErrNothingToRegenerate when a regenerate has nothing to revise.
func (c *Client) BuildRequest(ctx context.Context, item Item) (vlm.Request, error) {
	text, err := c.queryText(ctx, item)
	if err != nil {
		return vlm.Request{}, err
	}
	img, err := c.queryImage(item)
	if err != nil {
		return vlm.Request{}, err
	}
	req := vlm.Request{
		Stage:     string(c.tmpl.Stage),
		System:    c.tmpl.System,
		Exemplars: c.exemplars.Turns,
		Query:     vlm.Message{Role: vlm.RoleUser, Text: text, Image: img},
		Params:    c.tmpl.Params,
	}
	if len(req.Exemplars) > 0 {
		req.CacheKey = string(c.tmpl.Stage)
	}
	return req, nil
}

// Complete makes the stage's model call for item and returns the artifact
// text.
func (c *Client) Complete(ctx context.Context, item Item) (string, error) {
	req, err := c.BuildRequest(ctx, item)
	if err != nil {
		return "", err
	}
	resp, err := c.completer.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := c.JoinChoices(resp.Choices)
	if !ledger.Valid(text) {
		return "", fmt.Errorf("%s %s: %w", c.tmpl.Stage, item.Key, ErrEmptyResponse)
	}
	c.logger.Debug().
		Str("item", item.Key).
		Int("choices", len(resp.Choices)).
		Int("chars", len(text)).
		Msg("Stage completed")
	return text, nil
}

// JoinChoices renders response candidates as one artifact. A single
// candidate is kept verbatim; several are each followed by a blank line,
// and captions are flattened onto one line each.
func (c *Client) JoinChoices(choices []string) string {
	if len(choices) == 1 {
		return choices[0]
	}
	var sb strings.Builder
	for _, ch := range choices {
		if c.tmpl.Query == QueryCaption {
			ch = strings.ReplaceAll(ch, "\n", "")
		}
		sb.WriteString(ch)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func (c *Client) queryText(ctx context.Context, item Item) (string, error) {
	if c.tmpl.Query == QueryCaption {
		return c.phrase(), nil
	}
	objects, err := c.objects(item)
	if err != nil {
		return "", err
	}
	if c.tmpl.Query == QueryObjects {
		return objects, nil
	}

	caption, err := c.artifact(ctx, item, ledger.StageCaption)
	if err != nil {
		return "", err
	}
	text := "Captions:\n" + caption + "\n" + "Objects:\n" + objects

	switch c.tmpl.Query {
	case QueryCheck:
		annotation, err := c.artifact(ctx, item, c.tmpl.Source)
		if err != nil {
			return "", err
		}
		text += "\n\nDescriptions:\n" + annotation
	case QueryRegenerate:
		check, err := c.artifact(ctx, item, c.tmpl.Source)
		if err != nil {
			return "", err
		}
		if !HasFailures(check) {
			return "", ErrNothingToRegenerate
		}
		for _, f := range ParseFailures(check) {
			text += "\n\n" + f.String() + "\n"
		}
	}
	return text, nil
}

// objects reads the item's info file and renders it in the client's
// attribute mode.
func (c *Client) objects(item Item) (string, error) {
	path := filepath.Join(c.infoDir, ledger.ArtifactName(item.Key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", missing("info file %s", path)
		}
		return "", fmt.Errorf("read info file: %w", err)
	}
	objs, err := dataset.ParseInfo(string(data))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("info file %s: %w", path, err))
	}
	if c.mode == AttrCoords {
		for i := range objs {
			objs[i].Color = ""
		}
	}
	return dataset.RenderInfo(objs), nil
}

func (c *Client) artifact(ctx context.Context, item Item, stage ledger.Stage) (string, error) {
	text, err := c.ledger.Read(ctx, item.Key, stage)
	if errors.Is(err, ledger.ErrNotFound) {
		return "", missing("%s artifact for %s", stage, item.Key)
	}
	return text, err
}

func (c *Client) queryImage(item Item) (*vlm.Image, error) {
	if item.ImagePath == "" {
		return nil, missing("image for %s", item.Key)
	}
	var (
		data []byte
		err  error
	)
	if c.tmpl.Query == QueryCaption {
		data, err = filehandler.ResizeJPEG(item.ImagePath, filehandler.CaptionMaxDimension)
	} else {
		data, err = filehandler.ReadJPEG(item.ImagePath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, missing("image %s", item.ImagePath)
		}
		return nil, retry.Permanent(fmt.Errorf("load image %s: %w", item.ImagePath, err))
	}
	return &vlm.Image{MIMEType: "image/jpeg", Data: data, Detail: c.tmpl.Detail()}, nil
}

func missing(format string, args ...any) error {
	return retry.Permanent(fmt.Errorf("%w: "+format, append([]any{ErrMissingInput}, args...)...))
}
