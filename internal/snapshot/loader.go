package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/httputil"
	"github.com/R3E-Network/draw_auditor/internal/merkle"
	"github.com/R3E-Network/draw_auditor/pkg/logger"
)

// EpochPlaceholder is substituted with the epoch number in URL templates.
const EpochPlaceholder = "{epoch}"

// ErrNoSource means neither a template nor a published URI locates the file.
var ErrNoSource = errors.New("snapshot: no source configured")

// Loader fetches snapshot documents from local files or HTTP(S).
type Loader struct {
	template string
	http     *httputil.Client
	log      *logger.Logger
}

// NewLoader creates a loader. template may contain {epoch} and may be empty
// when the staking hub publishes a snapshot URI.
func NewLoader(template string, timeout time.Duration, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.NewDefault("snapshot")
	}
	return &Loader{
		template: template,
		http:     httputil.NewClient(httputil.ClientConfig{Timeout: timeout}),
		log:      log,
	}
}

// Resolve returns the location of the document for epoch. The configured
// template wins over the URI the hub published.
func (l *Loader) Resolve(epoch uint64, publishedURI string) (string, error) {
	loc := l.template
	if loc == "" {
		loc = publishedURI
	}
	if loc == "" {
		return "", fmt.Errorf("%w for epoch %d", ErrNoSource, epoch)
	}
	return strings.ReplaceAll(loc, EpochPlaceholder, strconv.FormatUint(epoch, 10)), nil
}

// Fetch reads and parses the document at loc.
func (l *Loader) Fetch(ctx context.Context, loc string) (*Document, error) {
	data, err := l.read(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", loc, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", loc, err)
	}
	l.log.WithField("location", loc).WithField("holders", len(doc.Holders)).Debug("snapshot loaded")
	return doc, nil
}

// Load fetches the document for snap, checks it against the on-chain record
// and returns its leaves and per-address proofs.
func (l *Loader) Load(ctx context.Context, snap staking.Snapshot, publishedURI string) ([]staking.HolderLeaf, map[string]merkle.ProofPath, error) {
	loc, err := l.Resolve(snap.Epoch, publishedURI)
	if err != nil {
		return nil, nil, err
	}
	doc, err := l.Fetch(ctx, loc)
	if err != nil {
		return nil, nil, err
	}
	if err := doc.Check(snap); err != nil {
		return nil, nil, err
	}
	proofs, err := doc.Proofs(snap.MerkleRoot)
	if err != nil {
		return nil, nil, err
	}
	return doc.Leaves(), proofs, nil
}

func (l *Loader) read(ctx context.Context, loc string) ([]byte, error) {
	u, err := url.Parse(loc)
	if err != nil || u.Scheme == "" {
		return readFile(loc)
	}
	switch u.Scheme {
	case "file":
		return readFile(u.Path)
	case "http", "https":
		return l.http.GetBytes(ctx, loc)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return httputil.ReadAllStrict(f, httputil.MaxBody)
}
