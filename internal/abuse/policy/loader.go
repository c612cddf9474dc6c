package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"warden/internal/abuse/models"
)

// LoadDocument reads a YAML policy file layered over DefaultDocument.
// Entries under operations inherit any field they omit from default.
func LoadDocument(path string) (*Document, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultDocument(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load policy defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load policy file %s: %w", path, err)
	}

	doc := &Document{}
	if err := k.UnmarshalWithConf("", doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode policy file %s: %w", path, err)
	}

	ops := k.MapKeys("operations")
	doc.Operations = make(map[models.Operation]OperationPolicy, len(ops))
	for _, op := range ops {
		base := koanf.New(".")
		def := doc.Default
		if err := base.Load(structs.Provider(&def, "koanf"), nil); err != nil {
			return nil, fmt.Errorf("failed to seed operation %s: %w", op, err)
		}
		if err := base.Merge(k.Cut("operations." + op)); err != nil {
			return nil, fmt.Errorf("failed to merge operation %s: %w", op, err)
		}
		var p OperationPolicy
		if err := base.UnmarshalWithConf("", &p, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return nil, fmt.Errorf("failed to decode operation %s: %w", op, err)
		}
		doc.Operations[models.Operation(op)] = p
	}
	return doc, nil
}

// Loader publishes policy files into a Provider and keeps them fresh.
type Loader struct {
	path     string
	provider *Provider
	logger   *slog.Logger
}

type LoaderOption func(*Loader)

func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

func NewLoader(path string, provider *Provider, opts ...LoaderOption) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("policy path is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("policy provider is required")
	}
	l := &Loader{path: path, provider: provider}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load reads the file and publishes it. A rejected document keeps the
// previously published snapshot in place.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	doc, err := LoadDocument(l.path)
	if err != nil {
		if l.logger != nil {
			l.logger.WarnContext(ctx, "policy_load_failed", "path", l.path, "error", err)
		}
		return nil, err
	}
	return l.provider.Publish(ctx, doc)
}

// Watch reloads the file on every change until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	fp := file.Provider(l.path)
	err := fp.Watch(func(_ any, err error) {
		if err != nil {
			if l.logger != nil {
				l.logger.WarnContext(ctx, "policy_watch_error", "path", l.path, "error", err)
			}
			return
		}
		_, _ = l.Load(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to watch policy file %s: %w", l.path, err)
	}
	<-ctx.Done()
	_ = fp.Unwatch()
	return ctx.Err()
}

// Serve implements suture.Service.
func (l *Loader) Serve(ctx context.Context) error {
	return l.Watch(ctx)
}

func (l *Loader) String() string {
	return "policy-loader"
}
