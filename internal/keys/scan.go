package keys

import "context"

// TagFetcher returns the checksum tag currently stored for key.
type TagFetcher func(ctx context.Context, key string) (string, error)

type matchKind int

const (
	noMatch matchKind = iota
	match
	fault
)

type matchResult struct {
	kind matchKind
	err  error
}

func checkEntry(ctx context.Context, key string, targetTag string, fetchTag TagFetcher) matchResult {
	tag, err := fetchTag(ctx, key)
	if err != nil {
		return matchResult{kind: fault, err: err}
	}

	// Tags are opaque; quotes are part of the value.
	if tag == targetTag {
		return matchResult{kind: match}
	}

	return matchResult{kind: noMatch}
}

// FindByChecksumTag walks keys in order, fetching one tag at a time, and
// returns the first key whose tag equals targetTag exactly.
//
// found is false with a nil error when the listing is exhausted without a
// match. A failed fetch stops the scan and is returned as a *FetchFault.
func FindByChecksumTag(ctx context.Context, listing []string, targetTag string, fetchTag TagFetcher) (key string, found bool, err error) {
	for i, candidate := range listing {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}

		res := checkEntry(ctx, candidate, targetTag, fetchTag)
		switch res.kind {
		case match:
			return candidate, true, nil
		case fault:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", false, ctxErr
			}
			return "", false, &FetchFault{Index: i, Key: candidate, Err: res.err}
		}
	}

	return "", false, nil
}
