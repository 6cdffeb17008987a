package trust

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrDisabled is returned by Resolver operations when folder trust is switched off.
var ErrDisabled = errors.New("folder trust is disabled")

// InheritanceMode controls how an explicit DO_NOT_TRUST interacts with trust
// inherited from an ancestor folder.
type InheritanceMode string

const (
	// InheritExplicit lets an explicit DO_NOT_TRUST on the folder itself win over
	// ancestor trust.
	InheritExplicit InheritanceMode = "explicit"
	// InheritAncestor lets ancestor trust shadow an explicit DO_NOT_TRUST. The
	// DO_NOT_TRUST only takes effect once no ancestor grants trust.
	InheritAncestor InheritanceMode = "ancestor"
)

// Valid reports whether m is a known mode.
func (m InheritanceMode) Valid() bool {
	return m == InheritExplicit || m == InheritAncestor
}

// OverrideFunc supplies the last-resort verdict when no stored rule applies.
type OverrideFunc func() Verdict

// Status describes the trust state of a single folder.
type Status struct {
	Folder string
	// Explicit is the level stored for exactly this folder, empty if none.
	Explicit Level
	// Effective is the verdict after inheritance and overrides.
	Effective Verdict
	// Inherited is true when the folder is trusted but not because of its own
	// explicit entry, so changing that entry alone may have no visible effect.
	Inherited bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithInheritance sets the inheritance mode. Defaults to InheritExplicit.
func WithInheritance(mode InheritanceMode) ResolverOption {
	return func(r *Resolver) {
		r.mode = mode
	}
}

// WithOverride sets the fallback consulted when no stored rule applies.
func WithOverride(override OverrideFunc) ResolverOption {
	return func(r *Resolver) {
		r.override = override
	}
}

// WithEnabled switches folder trust on or off. Defaults to on.
func WithEnabled(enabled bool) ResolverOption {
	return func(r *Resolver) {
		r.enabled = enabled
	}
}

// Resolver computes effective trust from the stored rules.
type Resolver struct {
	folders  *Folders
	mode     InheritanceMode
	override OverrideFunc
	enabled  bool
}

// NewResolver creates a Resolver over folders.
func NewResolver(folders *Folders, opts ...ResolverOption) (*Resolver, error) {
	if folders == nil {
		return nil, fmt.Errorf("missing folders store")
	}

	r := &Resolver{
		folders:  folders,
		mode:     InheritExplicit,
		override: func() Verdict { return Unset },
		enabled:  true,
	}
	for _, opt := range opts {
		opt(r)
	}

	if !r.mode.Valid() {
		return nil, fmt.Errorf("invalid inheritance mode %q", r.mode)
	}
	return r, nil
}

// Enabled reports whether folder trust is enforced at all.
func (r *Resolver) Enabled() bool {
	return r.enabled
}

// Effective returns the effective verdict for folder.
func (r *Resolver) Effective(ctx context.Context, folder string) (Verdict, error) {
	st, err := r.Inspect(ctx, folder)
	if err != nil {
		return Unset, err
	}
	return st.Effective, nil
}

// Inspect returns the explicit level, the effective verdict and whether trust is
// inherited for folder.
func (r *Resolver) Inspect(ctx context.Context, folder string) (Status, error) {
	if !r.enabled {
		return Status{}, ErrDisabled
	}
	folder, err := normalize(folder)
	if err != nil {
		return Status{}, err
	}

	rules, err := r.folders.Load(ctx)
	if err != nil {
		return Status{}, err
	}

	explicit := explicitLevel(rules, folder)
	effective := r.evaluate(rules, folder)
	return Status{
		Folder:    folder,
		Explicit:  explicit,
		Effective: effective,
		Inherited: effective == Trusted && (explicit == "" || explicit == DoNotTrust),
	}, nil
}

// Update stores level for folder. restartRequired is true when the effective verdict
// changed as a result, not merely the stored entry.
func (r *Resolver) Update(ctx context.Context, folder string, level Level) (restartRequired bool, err error) {
	before, err := r.Effective(ctx, folder)
	if err != nil {
		return false, err
	}

	if err := r.folders.Set(ctx, folder, level); err != nil {
		return false, fmt.Errorf("saving trust level: %w", err)
	}

	after, err := r.Effective(ctx, folder)
	if err != nil {
		return false, err
	}
	return before != after, nil
}

func (r *Resolver) evaluate(rules map[string]Level, folder string) Verdict {
	explicit := explicitLevel(rules, folder)
	if explicit.grantsTrust() {
		return Trusted
	}
	if explicit == DoNotTrust && r.mode == InheritExplicit {
		return Untrusted
	}

	for path, level := range rules {
		if root, ok := trustRoot(path, level); ok && within(folder, root) {
			return Trusted
		}
	}

	if explicit == DoNotTrust {
		return Untrusted
	}
	return r.override()
}

// explicitLevel returns the rule stored for exactly folder.
func explicitLevel(rules map[string]Level, folder string) Level {
	if level, ok := rules[folder]; ok {
		return level
	}
	// Hand-edited files may carry unclean paths
	for path, level := range rules {
		if filepath.Clean(path) == folder {
			return level
		}
	}
	return ""
}

// trustRoot returns the directory a rule trusts, if any.
func trustRoot(path string, level Level) (string, bool) {
	switch level {
	case TrustFolder:
		return filepath.Clean(path), true
	case TrustParent:
		return filepath.Dir(filepath.Clean(path)), true
	}
	return "", false
}

// within reports whether folder is root or below it.
func within(folder, root string) bool {
	rel, err := filepath.Rel(root, folder)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
