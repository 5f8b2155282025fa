// Package gateway is the boundary to the hosted repository: it resolves a
// pull-request reference to the changed source files at the head revision and
// posts the review report back to the pull request.
package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidReference is returned for a pull-request reference that does
	// not have the .../<owner>/<repo>/pull/<number> shape.
	ErrInvalidReference = errors.New("invalid pull request reference")

	// ErrAuthentication is returned when the repository rejects the credential.
	ErrAuthentication = errors.New("repository authentication failed")

	// ErrNotFound is returned when the repository or pull request does not exist
	// or is not visible to the credential.
	ErrNotFound = errors.New("repository resource not found")
)

// Reference identifies one pull request.
type Reference struct {
	Owner  string
	Repo   string
	Number int
}

// ParseReference resolves a pull-request URL. Query strings, fragments and a
// trailing slash are ignored; nothing else is.
//
//	https://github.com/octo/repo/pull/12 -> {octo repo 12}
func ParseReference(raw string) (Reference, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 4 || parts[len(parts)-2] != "pull" {
		return Reference{}, fmt.Errorf("%w: %q: expected .../owner/repo/pull/number", ErrInvalidReference, raw)
	}

	number, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || number <= 0 {
		return Reference{}, fmt.Errorf("%w: %q: pull request number must be a positive integer", ErrInvalidReference, raw)
	}

	ref := Reference{
		Owner:  parts[len(parts)-4],
		Repo:   parts[len(parts)-3],
		Number: number,
	}
	if ref.Owner == "" || ref.Repo == "" || strings.HasSuffix(ref.Owner, ":") {
		return Reference{}, fmt.Errorf("%w: %q: missing owner or repository", ErrInvalidReference, raw)
	}
	return ref, nil
}

// String returns the short form owner/repo#number.
func (r Reference) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// URL returns the canonical github.com pull request URL.
func (r Reference) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", r.Owner, r.Repo, r.Number)
}
