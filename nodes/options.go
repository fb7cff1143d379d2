package nodes

import "log/slog"

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithLabelSelector restricts the listing to nodes matching sel.
// Default: all nodes.
func WithLabelSelector(sel string) Option {
	return func(p *Provider) { p.labelSelector = sel }
}
