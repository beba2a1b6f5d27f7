// Package keys resolves client supplied identifiers into storage keys.
//
// Nothing in this package performs I/O on its own. The only provider round
// trips happen through the TagFetcher handed to FindByChecksumTag.
package keys

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// uploadDateLayout renders a date as DD/MM/YYYY.
const uploadDateLayout = "02/01/2006"

var (
	// ErrDecode matches any *DecodeError.
	ErrDecode = errors.New("malformed identifier encoding")

	// ErrFetchFault matches any *FetchFault.
	ErrFetchFault = errors.New("checksum tag fetch failed")

	// ErrInvalidFilename is returned by ValidateFilename.
	ErrInvalidFilename = errors.New("invalid filename")
)

// DecodeError reports a client identifier that could not be percent-decoded.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode identifier %q: %v", e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// FetchFault reports a failed metadata lookup for one entry of a listing
// during a checksum tag scan.
type FetchFault struct {
	Index int
	Key   string
	Err   error
}

func (e *FetchFault) Error() string {
	return fmt.Sprintf("fetch checksum tag for %q (entry %d): %v", e.Key, e.Index, e.Err)
}

func (e *FetchFault) Unwrap() error { return e.Err }

func (e *FetchFault) Is(target error) bool { return target == ErrFetchFault }

// BuildUploadKey returns the date partitioned key an upload is stored under.
// The filename is used verbatim; see ValidateFilename.
func BuildUploadKey(filename string, now time.Time) string {
	return now.Format(uploadDateLayout) + "/" + filename
}

// DecodeClientIdentifier undoes URL query encoding on an identifier received
// from a client so the original byte sequence is sent to storage.
func DecodeClientIdentifier(raw string) (string, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", &DecodeError{Raw: raw, Err: err}
	}
	return decoded, nil
}

// DeriveLocalFileName returns the last path segment of key.
func DeriveLocalFileName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// ValidateFilename rejects filenames that cannot safely become the final
// segment of an upload key.
func ValidateFilename(name string) error {
	switch name {
	case "", ".", "..":
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}

	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFilename, name)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidFilename, name)
		}
	}

	return nil
}
