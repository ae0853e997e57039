package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hupe1980/layermesh/transform"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate runs the struct tag rules and then the cross-field checks that
// tags cannot express: unique names, layer bounds, link adjacency and
// endpoint references. All problems are reported together.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %w", errors.Join(msgs...))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	endpoints := map[string]bool{}
	for _, e := range c.Endpoints {
		if endpoints[e.Name] {
			errs = append(errs, fmt.Errorf("endpoint %q declared twice", e.Name))
		}
		endpoints[e.Name] = true
		if e.Ledger.HardLimit > 0 && e.Ledger.SoftLimit > e.Ledger.HardLimit {
			errs = append(errs, fmt.Errorf("endpoint %q: soft_limit %.2f exceeds hard_limit %.2f", e.Name, e.Ledger.SoftLimit, e.Ledger.HardLimit))
		}
	}

	layers := map[string]int{}
	for _, n := range c.Nodes {
		if _, dup := layers[n.ID]; dup {
			errs = append(errs, fmt.Errorf("node %q declared twice", n.ID))
		}
		layers[n.ID] = n.Layer
		if n.Layer < c.Layers.Min || n.Layer > c.Layers.Max {
			errs = append(errs, fmt.Errorf("node %q: layer %d outside [%d..%d]", n.ID, n.Layer, c.Layers.Min, c.Layers.Max))
		}
		if n.Transform == transform.Cognitive {
			name := n.Settings[transform.SettingEndpoint]
			if !endpoints[name] {
				errs = append(errs, fmt.Errorf("node %q: unknown endpoint %q", n.ID, name))
			}
		}
	}

	for _, n := range c.Nodes {
		errs = append(errs, checkLinks(n, n.ForwardLinks, n.Layer+1, layers)...)
		errs = append(errs, checkLinks(n, n.BackwardLinks, n.Layer-1, layers)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func checkLinks(n NodeConfig, links []string, want int, layers map[string]int) []error {
	var errs []error
	for _, peer := range links {
		got, ok := layers[peer]
		switch {
		case peer == n.ID:
			errs = append(errs, fmt.Errorf("node %q links to itself", n.ID))
		case !ok:
			errs = append(errs, fmt.Errorf("node %q links to undeclared node %q", n.ID, peer))
		case got != want:
			errs = append(errs, fmt.Errorf("node %q (layer %d) links to %q (layer %d): want layer %d", n.ID, n.Layer, peer, got, want))
		}
	}
	return errs
}
