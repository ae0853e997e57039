package layermesh

import (
	"context"
	"errors"
	"fmt"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/layermesh/audit"
	"github.com/hupe1980/layermesh/cognition"
	"github.com/hupe1980/layermesh/config"
	"github.com/hupe1980/layermesh/logging"
	"github.com/hupe1980/layermesh/metrics"
	"github.com/hupe1980/layermesh/model"
	"github.com/hupe1980/layermesh/model/anthropic"
	"github.com/hupe1980/layermesh/model/openai"
)

// ErrEndpointUnavailable is returned by endpoints of the "failing" provider.
var ErrEndpointUnavailable = errors.New("endpoint unavailable")

// NewFromConfig builds a Mesh from a validated configuration: logger,
// metrics, audit store, cognition endpoints and the declared topology.
// optFns are applied after the configuration and may override any option.
// The returned mesh is not started.
func NewFromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Mesh, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.InboxPolicy()
	if err != nil {
		return nil, err
	}
	decls, err := cfg.Declarations()
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		Component: "layermesh",
	})

	var (
		collector metrics.Collector = metrics.NewInMemory()
		prom      *metrics.PrometheusCollector
	)
	if cfg.Metrics.Prometheus {
		prom = metrics.NewPrometheusCollector(func(o *metrics.PrometheusOptions) {
			if cfg.Metrics.Namespace != "" {
				o.Namespace = cfg.Metrics.Namespace
			}
		})
		collector = metrics.Fanout(collector, prom)
	}

	store, err := audit.NewStore(cfg.Audit.Driver, cfg.Audit.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init audit store: %w", err)
	}

	m := New(func(o *Options) {
		o.Layers = cfg.LayerRange()
		o.RouterConfig = cfg.RouterConfig(o.RouterConfig)
		if cfg.Inbox.Capacity > 0 {
			o.InboxCapacity = cfg.Inbox.Capacity
		}
		o.InboxPolicy = policy
		o.DisableCache = cfg.Cache.Disabled
		if cfg.Cache.Capacity > 0 {
			o.CacheCapacity = cfg.Cache.Capacity
		}
		o.CacheTTL = cfg.Cache.TTL
		o.Logger = logger
		o.Metrics = collector
		o.Audit = store
		for _, fn := range optFns {
			fn(o)
		}
	})
	m.prom = prom

	for _, ec := range cfg.Endpoints {
		endpoint, err := buildEndpoint(ec)
		if err != nil {
			return nil, errors.Join(err, m.Shutdown(ctx))
		}
		fallback := ec.Fallback()
		clientCfg := ec.ClientConfig()
		if _, err := m.RegisterEndpoint(ec.Name, endpoint, func(o *cognition.Options) {
			o.Config = clientCfg
			o.Fallback = fallback
		}); err != nil {
			return nil, errors.Join(err, m.Shutdown(ctx))
		}
	}

	report, err := m.Apply(decls)
	if err != nil {
		return nil, errors.Join(err, m.Shutdown(ctx))
	}
	logger.Info("mesh configured",
		"endpoints", len(cfg.Endpoints),
		"nodes", len(report.Added),
		"generation", report.Generation,
	)
	return m, nil
}

// LoadFile reads, validates and builds a Mesh from a YAML file.
func LoadFile(ctx context.Context, path string, optFns ...func(o *Options)) (*Mesh, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(ctx, cfg, optFns...)
}

func buildEndpoint(ec config.EndpointConfig) (cognition.Endpoint, error) {
	var m model.Model
	switch ec.Provider {
	case "anthropic":
		m = anthropic.NewModel(func(o *anthropic.Options) {
			if ec.Model != "" {
				o.Model = anthropicsdk.Model(ec.Model)
			}
			if ec.APIKeyEnv != "" {
				o.APIKey = os.Getenv(ec.APIKeyEnv)
			}
		})
	case "openai":
		m = openai.NewModel(func(o *openai.Options) {
			if ec.Model != "" {
				o.Model = ec.Model
			}
			if ec.APIKeyEnv != "" {
				o.APIKey = os.Getenv(ec.APIKeyEnv)
			}
		})
	case "mock":
		mock := model.NewMockModel(ec.Name, "mock")
		for prompt, reply := range ec.MockResponses {
			mock.AddResponse(prompt, reply)
		}
		m = mock
	case "failing":
		name := ec.Name
		return cognition.EndpointFunc(func(context.Context, cognition.Request) (cognition.Response, error) {
			return cognition.Response{}, fmt.Errorf("%s: %w", name, ErrEndpointUnavailable)
		}), nil
	default:
		return nil, fmt.Errorf("endpoint %s: unknown provider %q", ec.Name, ec.Provider)
	}
	return cognition.NewModelEndpoint(m, ec.Prices()), nil
}
