package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/jeffreydebolt/Flowcoach2-sub000/agent"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

// Folder names below the catalog root.
const (
	AgentsDir    = "agents"
	WorkflowsDir = "workflows"
)

// Options configures a Catalog.
type Options struct {
	// FS resolves catalog URLs. Defaults to afs.New(), which serves file://,
	// mem:// and any scheme registered with afs.
	FS afs.Service
	// Extensions lists the file extensions treated as definitions.
	Extensions []string
	Logger     logging.Logger
}

// Catalog loads agent and workflow definitions stored as YAML documents
// below a root URL:
//
//	<root>/agents/*.yaml
//	<root>/workflows/*.yaml
type Catalog struct {
	fs     afs.Service
	exts   []string
	logger logging.Logger
}

// Definitions is the content of a catalog.
type Definitions struct {
	Agents    []agent.Definition
	Workflows []*workflow.Definition
}

// AgentOverrides indexes the agent definitions by id.
func (d Definitions) AgentOverrides() map[string]agent.Definition {
	out := make(map[string]agent.Definition, len(d.Agents))
	for _, def := range d.Agents {
		out[def.ID] = def
	}

	return out
}

// New creates a Catalog.
func New(optFns ...func(o *Options)) *Catalog {
	opts := Options{
		Extensions: []string{".yaml", ".yml"},
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.FS == nil {
		opts.FS = afs.New()
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Catalog{fs: opts.FS, exts: opts.Extensions, logger: opts.Logger}
}

// Load reads both folders below root. A missing folder is empty. Every
// invalid document is reported; valid ones are still returned.
func (c *Catalog) Load(ctx context.Context, root string) (Definitions, error) {
	agents, agentErr := c.Agents(ctx, root)
	workflows, workflowErr := c.Workflows(ctx, root)

	return Definitions{Agents: agents, Workflows: workflows}, errors.Join(agentErr, workflowErr)
}

// Agents reads <root>/agents.
func (c *Catalog) Agents(ctx context.Context, root string) ([]agent.Definition, error) {
	var (
		defs []agent.Definition
		errs []error
	)

	err := c.each(ctx, url.Join(root, AgentsDir), func(name string, data []byte) {
		def, err := agent.ParseDefinition(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}

		defs = append(defs, def)
	})
	if err != nil {
		return nil, err
	}

	return defs, errors.Join(errs...)
}

// Workflows reads <root>/workflows.
func (c *Catalog) Workflows(ctx context.Context, root string) ([]*workflow.Definition, error) {
	var (
		defs []*workflow.Definition
		errs []error
	)

	err := c.each(ctx, url.Join(root, WorkflowsDir), func(name string, data []byte) {
		def, err := workflow.Parse(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}

		defs = append(defs, def)
	})
	if err != nil {
		return nil, err
	}

	return defs, errors.Join(errs...)
}

// SaveAgent writes def to <root>/agents/<id>.yaml.
func (c *Catalog) SaveAgent(ctx context.Context, root string, def agent.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal agent %s: %w", def.ID, err)
	}

	return c.upload(ctx, url.Join(root, AgentsDir, def.ID+".yaml"), data)
}

// SaveWorkflow writes def to <root>/workflows/<id>.yaml.
func (c *Catalog) SaveWorkflow(ctx context.Context, root string, def *workflow.Definition) error {
	data, err := def.Marshal()
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", def.ID(), err)
	}

	return c.upload(ctx, url.Join(root, WorkflowsDir, def.ID()+".yaml"), data)
}

func (c *Catalog) upload(ctx context.Context, dest string, data []byte) error {
	if err := c.fs.Upload(ctx, dest, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload %s: %w", dest, err)
	}

	c.logger.Debug("saved definition", "url", dest)

	return nil
}

// each calls fn for every definition file in dir, in name order.
func (c *Catalog) each(ctx context.Context, dir string, fn func(name string, data []byte)) error {
	ok, err := c.fs.Exists(ctx, dir)
	if err != nil {
		return fmt.Errorf("check %s: %w", dir, err)
	}

	if !ok {
		c.logger.Debug("catalog folder missing", "url", dir)
		return nil
	}

	objects, err := c.fs.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Name() < objects[j].Name() })

	for _, obj := range objects {
		if obj.IsDir() || !c.isDefinition(obj.Name()) {
			continue
		}

		data, err := c.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil {
			return fmt.Errorf("download %s: %w", obj.URL(), err)
		}

		c.logger.Debug("loaded definition", "url", obj.URL(), "bytes", len(data))
		fn(obj.Name(), data)
	}

	return nil
}

func (c *Catalog) isDefinition(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range c.exts {
		if ext == e {
			return true
		}
	}

	return false
}
