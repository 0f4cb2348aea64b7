// Package pipeline runs one report: it discovers repositories, queries them
// with bounded concurrency and assembles the Report.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/kebairia/borgreport/internal/borg"
	"github.com/kebairia/borgreport/internal/config"
	"github.com/kebairia/borgreport/internal/logger"
	"github.com/kebairia/borgreport/internal/progress"
	"github.com/kebairia/borgreport/internal/report"
)

// EnvPassphrase receives the passphrase resolved from a SecretSource.
const EnvPassphrase = "BORG_PASSPHRASE"

// SecretSource resolves secret references such as "secret/data/borg/web".
type SecretSource interface {
	Secret(ctx context.Context, ref string) (string, error)
}

// Options configure a Pipeline. The zero value of every field is usable.
type Options struct {
	// Workers bounds the number of repositories processed at once (minimum 1).
	Workers int
	// Resolver merges the option layers; its Ambient also feeds discovery.
	Resolver config.Resolver
	// BaseEnviron is the KEY=VALUE environment borg processes start from.
	BaseEnviron []string
	// Secrets resolves BORGREPORT_PASSPHRASE_VAULT references.
	Secrets SecretSource
	Logger  logger.Logger
	// Progress builds the progress reporter once the number of repositories
	// is known. A nil func or a nil Reporter disables progress.
	Progress func(total int) *progress.Reporter
	// Now returns the evaluation time, time.Now if nil.
	Now func() time.Time
}

type Pipeline struct {
	opts Options
	log  logger.Logger
}

func New(opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{opts: opts, log: log}
}

type indexedPart struct {
	index int
	part  *report.Part
}

// Run produces the Report for the repositories found in dirs, or for the
// single repository inherited from the ambient environment when dirs is
// empty. Per-repository failures end up as findings in the Report; the only
// error returned is the cancellation of ctx, in which case no Report is
// produced.
func (p *Pipeline) Run(ctx context.Context, dirs []string, inheritName string) (*report.Report, error) {
	now := p.opts.Now().UTC()
	log := p.log.With("run_id", uuid.NewString())

	sources, discoverErr := config.Discover(dirs, inheritName, p.opts.Resolver.Ambient)
	agg := report.NewAggregator(len(sources))
	for _, err := range multierr.Errors(discoverErr) {
		log.Error("discovery failed", "error", err.Error())
		agg.Error(report.KindDiscovery, err.Error())
	}
	if len(dirs) > 0 && len(sources) == 0 {
		agg.Warn(report.KindDiscovery, fmt.Sprintf("No *%s files found in %s", config.EnvFileExt, strings.Join(dirs, ", ")))
	}
	log.Info("run started", "repositories", agg.Len(), "workers", p.opts.Workers)

	var bar *progress.Reporter
	if p.opts.Progress != nil {
		bar = p.opts.Progress(agg.Len())
	}

	// The aggregator goroutine is the only owner of agg and bar.
	parts := make(chan indexedPart)
	aggregated := make(chan struct{})
	go func() {
		defer close(aggregated)
		for ip := range parts {
			done := agg.Add(ip.index, ip.part)
			bar.RepositoryDone(done, ip.part.Health.Name)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, src := range sources {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			part := p.process(gctx, log.With("repository", src.Name), src, now)
			// Results of interrupted work are incomplete.
			if err := gctx.Err(); err != nil {
				return err
			}
			parts <- indexedPart{index: i, part: part}
			return nil
		})
	}
	_ = g.Wait()
	close(parts)
	<-aggregated
	bar.Finish()

	if err := ctx.Err(); err != nil {
		log.Warn("run cancelled", "error", err.Error())
		return nil, err
	}

	r := agg.Report(now)
	log.Info("run finished", "errors", len(r.Errors), "warnings", len(r.Warnings))
	return r, nil
}

// process collects and evaluates everything about one repository.
func (p *Pipeline) process(ctx context.Context, log logger.Logger, src config.Source, now time.Time) *report.Part {
	repo, err := p.opts.Resolver.Resolve(src)
	if err == nil && repo.PassphraseVault != "" {
		err = p.passphrase(ctx, &repo)
	}
	if err != nil {
		log.Warn("repository configuration invalid", "error", err.Error())
		return report.Evaluate(report.Result{Name: src.Name, ConfigErr: err}, now)
	}

	b := borg.New(
		borg.WithBinary(repo.BorgBinary),
		borg.WithBaseEnviron(p.opts.BaseEnviron),
		borg.WithEnv(repo.Env),
		borg.WithLogger(log),
	)

	res := report.Result{
		Name:           repo.Name,
		MaxAge:         repo.MaxAge(),
		CheckRequested: repo.Check,
	}
	// borg locks the repository, so selectors run one after another.
	for _, glob := range repo.Selectors() {
		if ctx.Err() != nil {
			break
		}
		res.Selectors = append(res.Selectors, p.selector(ctx, b, repo, glob))
	}

	part := report.Evaluate(res, now)
	if repo.Compact {
		if part.Healthy() {
			out, err := b.Compact(ctx, repo.CompactOptions)
			part.AddCompact(out, err)
		} else {
			log.Info("compaction skipped", "errors", len(part.Errors), "warnings", len(part.Warnings))
			part.SkipCompact()
		}
	}

	log.Debug("repository processed", "errors", len(part.Errors), "warnings", len(part.Warnings))
	return part
}

func (p *Pipeline) selector(ctx context.Context, b *borg.Borg, repo config.Repository, glob string) report.SelectorResult {
	sel := report.SelectorResult{Glob: glob}
	info, err := b.Info(ctx, glob)
	if err != nil {
		sel.InfoErr = err
		return sel
	}
	sel.Info = info
	if !repo.Check {
		return sel
	}

	var archive string
	switch {
	case len(info.Archives) > 0:
		archive = info.Archives[0].Name
	case glob != "":
		// nothing matched, nothing to check
		return sel
	}
	out, err := b.Check(ctx, archive, repo.CheckOptions)
	sel.Checks = append(sel.Checks, report.CheckRun{Archive: archive, Output: out, Err: err})
	return sel
}

func (p *Pipeline) passphrase(ctx context.Context, repo *config.Repository) error {
	if p.opts.Secrets == nil {
		return fmt.Errorf("%w: repository %q: %s is set but no Vault is configured",
			config.ErrConfig, repo.Name, config.KeyPassphraseVault)
	}
	secret, err := p.opts.Secrets.Secret(ctx, repo.PassphraseVault)
	if err != nil {
		return fmt.Errorf("%w: repository %q: passphrase: %v", config.ErrConfig, repo.Name, err)
	}
	repo.Env[EnvPassphrase] = secret
	return nil
}
