package mention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned when an address or participant cannot be resolved.
// Directory lookup failures are reported with the same error.
var ErrNotFound = errors.New("mention: recipient not found")

const (
	defaultLookupTimeout = 10 * time.Second
	defaultConcurrency   = 4
)

// Recipient is a resolved mention target.
type Recipient struct {
	Address string // canonical address (country code + number)
	UserID  string // platform identity used to notify the user
	Number  string // display number substituted into message text
}

// Key identifies the recipient for de-duplication.
func (r Recipient) Key() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.Address
}

// Directory looks up recipients and chat membership.
type Directory interface {
	// ContactByAddress returns the recipient registered for a canonical
	// address, or an error wrapping ErrNotFound.
	ContactByAddress(ctx context.Context, address string) (Recipient, error)
	// ContactByID returns the recipient for a platform participant id.
	ContactByID(ctx context.Context, id string) (Recipient, error)
	// FetchParticipants lists the participant ids of a chat in order.
	FetchParticipants(ctx context.Context, chatID string) ([]string, error)
}

// Result is the outcome of resolving one token.
type Result struct {
	Token     Token
	Address   string
	Recipient Recipient
	Err       error
}

// Batch holds results in token order.
type Batch []Result

// Recipients returns the resolved recipients in token order, without
// duplicates.
func (b Batch) Recipients() []Recipient {
	seen := make(map[string]bool, len(b))
	var out []Recipient
	for _, res := range b {
		if res.Err != nil {
			continue
		}
		k := res.Recipient.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, res.Recipient)
	}
	return out
}

// Failed returns the raw digits of every token that did not resolve.
func (b Batch) Failed() []string {
	var out []string
	for _, res := range b {
		if res.Err != nil {
			out = append(out, res.Token.Raw)
		}
	}
	return out
}

// Resolver resolves tokens and participant ids through a Directory.
type Resolver struct {
	normalizer  Normalizer
	timeout     time.Duration
	concurrency int
	logger      *zap.Logger
}

// ResolverOpts holds parameters for creating a Resolver.
type ResolverOpts struct {
	Normalizer  Normalizer    // defaults to DefaultNormalizer()
	Timeout     time.Duration // per lookup; defaults to 10s
	Concurrency int           // parallel lookups; defaults to 4
	Logger      *zap.Logger   // defaults to a no-op logger
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOpts) *Resolver {
	n := opts.Normalizer
	if n.DefaultCode == "" {
		n = DefaultNormalizer()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultLookupTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{
		normalizer:  n,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
}

// Normalize applies the resolver's normalizer to a raw token.
func (r *Resolver) Normalize(token string) string {
	return r.normalizer.Normalize(token)
}

// Resolve looks up one canonical address. Any failure, including a lookup
// timeout, is reported as ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, dir Directory, address string) (Recipient, error) {
	if address == "" {
		return Recipient{}, fmt.Errorf("%w: empty address", ErrNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := dir.ContactByAddress(ctx, address)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("contact lookup failed", zap.String("address", address), zap.Error(err))
		}
		return Recipient{}, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	if rec.Address == "" {
		rec.Address = address
	}
	if rec.Number == "" {
		rec.Number = rec.Address
	}
	return rec, nil
}

// ResolveAll resolves every token. Lookups run concurrently but results
// keep the token order. A failed token never aborts the batch.
func (r *Resolver) ResolveAll(ctx context.Context, dir Directory, tokens []Token) Batch {
	batch := make(Batch, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, tok := range tokens {
		i, tok := i, tok
		g.Go(func() error {
			addr := r.normalizer.Normalize(tok.Raw)
			rec, err := r.Resolve(gctx, dir, addr)
			batch[i] = Result{Token: tok, Address: addr, Recipient: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return batch
}

// ResolveParticipants resolves participant ids in order, dropping the ones
// that fail. It returns the resolved recipients and the number of failures.
func (r *Resolver) ResolveParticipants(ctx context.Context, dir Directory, ids []string) ([]Recipient, int) {
	results := make([]*Recipient, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()
			rec, err := dir.ContactByID(lctx, id)
			if err != nil {
				r.logger.Warn("participant lookup failed", zap.String("participant", id), zap.Error(err))
				return nil
			}
			if rec.UserID == "" {
				rec.UserID = id
			}
			results[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	var (
		out    []Recipient
		failed int
	)
	seen := make(map[string]bool, len(ids))
	for _, rec := range results {
		if rec == nil {
			failed++
			continue
		}
		if seen[rec.Key()] {
			continue
		}
		seen[rec.Key()] = true
		out = append(out, *rec)
	}
	return out, failed
}
