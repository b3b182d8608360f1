// Package pagetree implements the Tree Walker: recursive descent over a
// B+-tree of pages that, starting from a root page, yields every leaf
// tuple in key order. Adapted from btree_index's BTreeFile.Find,
// generalized from "one root-to-leaf path for one key" into "every
// path, depth-first, one visitor callback per leaf", with the
// per-branch-frame cache isolation the teacher's single shared
// pageCache never needed (its Find never recurses into more than one
// child at a time).
package pagetree

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"esedb/page"
	"esedb/pagecache"
	"esedb/pagetreevalue"
	"esedb/pagevector"
)

// MaxIndexNodeRecursionDepth bounds how deep Walk will descend before
// refusing to continue. It exists purely as a safety ceiling against
// cyclic or adversarial trees; no legitimate ESE catalog or table tree
// approaches it.
const MaxIndexNodeRecursionDepth = 32

var (
	// ErrRecursionDepthExceeded is returned when a walk's recursion
	// depth passes MaxIndexNodeRecursionDepth, most likely because the
	// on-disk tree contains a cycle.
	ErrRecursionDepthExceeded = errors.New("esedb: recursion depth exceeded")

	// ErrInconsistentPageFlags is returned when a page with tags
	// declares neither LEAF nor PARENT, or declares both.
	ErrInconsistentPageFlags = errors.New("esedb: inconsistent page flags")

	// ErrMissingPageValue is returned when a tag index inside a page's
	// own tag count cannot be resolved to a value span.
	ErrMissingPageValue = errors.New("esedb: missing page value")
)

// ControlFlow is returned by a Visitor to tell Walk whether to keep
// going or stop early.
type ControlFlow int

const (
	// Continue tells Walk to keep visiting leaves.
	Continue ControlFlow = iota
	// Stop tells Walk to unwind cleanly without visiting further
	// leaves, returning a nil error to its own caller.
	Stop
)

// Visitor receives every leaf tuple a walk discovers, in ascending key
// order. The core never interprets value; decoding it into a
// higher-level record is the catalog package's job (or any other
// caller's), not this one's — the leaf handler here is intentionally a
// thin pass-through.
type Visitor interface {
	OnLeaf(key, value []byte) ControlFlow
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(key, value []byte) ControlFlow

// OnLeaf implements Visitor.
func (f VisitorFunc) OnLeaf(key, value []byte) ControlFlow { return f(key, value) }

// PageTree is a logical B+-tree identified by a root page number and an
// object identifier, backed by a shared PagesVector and an optional
// caller-owned shared cache. It is owned by whatever higher-level
// structure asked for it (file, table, index) and lives as long as
// that structure does.
type PageTree struct {
	Vector                  *pagevector.PagesVector
	SharedCache             *pagecache.Cache
	RootPageNumber          uint32
	ObjectIdentifier        uint32
	TableDefinition         any
	TemplateTableDefinition any

	logger *zap.SugaredLogger
}

// New constructs a PageTree. sharedCache may be nil; when present, the
// core treats it as opaque and never relies on any specific entry of it
// surviving across calls — every recursion frame still allocates its
// own single-slot cache for child lookups.
func New(vector *pagevector.PagesVector, sharedCache *pagecache.Cache, rootPageNumber, objectIdentifier uint32, tableDefinition, templateTableDefinition any, logger *zap.SugaredLogger) *PageTree {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PageTree{
		Vector:                  vector,
		SharedCache:             sharedCache,
		RootPageNumber:          rootPageNumber,
		ObjectIdentifier:        objectIdentifier,
		TableDefinition:         tableDefinition,
		TemplateTableDefinition: templateTableDefinition,
		logger:                  logger,
	}
}

// Walk starts from t.RootPageNumber and invokes visitor.OnLeaf for
// every leaf tuple in ascending key order. It returns the first failure
// encountered; any leaves already emitted before that failure remain
// visible to the caller, who must treat the result as truncated.
func (t *PageTree) Walk(reader pagevector.Reader, visitor Visitor) (err error) {
	rootCache := pagecache.New(1, t.logger)
	defer rootCache.Free()

	root, getErr := t.Vector.Get(t.RootPageNumber, reader, rootCache)
	if getErr != nil {
		return fmt.Errorf("esedb: walking page tree rooted at %d: %w", t.RootPageNumber, getErr)
	}
	if valErr := page.ValidateRoot(root); valErr != nil {
		return fmt.Errorf("esedb: root page %d: %w", t.RootPageNumber, valErr)
	}

	_, err = t.descend(root, 0, reader, visitor)
	return err
}

// CountLeafValues walks the tree rooted at rootPageNumber with a
// counting visitor and returns the number of leaves visited. It is a
// convenience for callers that only need a count, not the values.
func (t *PageTree) CountLeafValues(reader pagevector.Reader, rootPageNumber uint32) (int, error) {
	sub := *t
	sub.RootPageNumber = rootPageNumber
	count := 0
	err := sub.Walk(reader, VisitorFunc(func(key, value []byte) ControlFlow {
		count++
		return Continue
	}))
	return count, err
}

// descend implements §4.5 steps (a)-(f): depth check, tag iteration,
// leaf emission or branch recursion, per-frame cache release.
//
// The on-disk source tolerates a branch child page number of 0 or any
// number greater than the last valid page number: both are treated as "no
// child, skip this entry" rather than as a decode failure. That
// behavior is preserved here even though it reads as permissive of
// corrupted trees — it matches the observed format behavior this
// package is modeled on, and downgrading it to an error would reject
// databases the reference implementation accepts.
func (t *PageTree) descend(p *page.Page, depth int, reader pagevector.Reader, visitor Visitor) (ControlFlow, error) {
	if depth > MaxIndexNodeRecursionDepth {
		return Stop, fmt.Errorf("esedb: page %d at depth %d: %w", p.Number, depth, ErrRecursionDepthExceeded)
	}

	numberOfTags := len(p.Tags)
	if numberOfTags == 0 {
		return Continue, nil
	}

	isLeaf := p.Flags.Has(page.FlagLeaf)
	isBranch := p.Flags.Has(page.FlagParent)
	if isLeaf == isBranch {
		return Stop, fmt.Errorf("esedb: page %d flags %#x: %w", p.Number, p.Flags, ErrInconsistentPageFlags)
	}

	var childCache *pagecache.Cache
	if isBranch {
		childCache = pagecache.New(1, t.logger)
		defer childCache.Free()
	}

	// Tag 0's value bytes are the page-wide common key prefix.
	commonKey, _, valErr := p.Value(0)
	if valErr != nil {
		return Stop, fmt.Errorf("esedb: page %d tag 0: %w: %v", p.Number, ErrMissingPageValue, valErr)
	}

	for i := 1; i < numberOfTags; i++ {
		valueBytes, tag, valErr := p.Value(i)
		if valErr != nil {
			return Stop, fmt.Errorf("esedb: page %d tag %d: %w: %v", p.Number, i, ErrMissingPageValue, valErr)
		}
		if tag.IsDefunct {
			continue
		}

		ptv, parseErr := pagetreevalue.Parse(valueBytes, tag, p.Size)
		if parseErr != nil {
			return Stop, fmt.Errorf("esedb: page %d tag %d: %w", p.Number, i, parseErr)
		}

		key, keyErr := reconstructKey(commonKey, ptv)
		if keyErr != nil {
			return Stop, fmt.Errorf("esedb: page %d tag %d: %w", p.Number, i, keyErr)
		}

		if isLeaf {
			if visitor.OnLeaf(key, ptv.ValueBytes) == Stop {
				return Stop, nil
			}
			continue
		}

		child, childErr := pagetreevalue.ChildPageNumber(ptv)
		if childErr != nil {
			return Stop, fmt.Errorf("esedb: page %d tag %d: %w", p.Number, i, childErr)
		}
		if child == 0 || child > t.Vector.LastPageNumber() {
			t.logger.Debugw("skipping out-of-range branch child",
				"page", p.Number, "tag", i, "child", child, "last_page_number", t.Vector.LastPageNumber())
			continue
		}

		childPage, getErr := t.Vector.Get(child, reader, childCache)
		if getErr != nil {
			return Stop, fmt.Errorf("esedb: page %d tag %d: %w", p.Number, i, getErr)
		}
		if valErr := page.Validate(childPage); valErr != nil {
			return Stop, fmt.Errorf("esedb: child page %d: %w", child, valErr)
		}

		childCF, descendErr := t.descend(childPage, depth+1, reader, visitor)
		if descendErr != nil {
			return Stop, descendErr
		}
		if childCF == Stop {
			return Stop, nil
		}
	}

	return Continue, nil
}

// reconstructKey applies the page-wide common-key-prefix scheme: a tag
// that sets HAS_COMMON_KEY_SIZE borrows that many leading bytes of the
// page's tag 0 span (commonKey) as its key prefix; a tag without it has
// no prefix (its common key size is 0).
func reconstructKey(commonKey []byte, ptv pagetreevalue.Value) ([]byte, error) {
	if ptv.CommonKeySize > len(commonKey) {
		return nil, fmt.Errorf("esedb: common_key_size %d exceeds common key length %d: %w",
			ptv.CommonKeySize, len(commonKey), pagetreevalue.ErrKeyTooLong)
	}
	return pagetreevalue.Key(commonKey[:ptv.CommonKeySize], ptv.LocalKeyBytes), nil
}
