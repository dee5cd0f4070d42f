package backend

import (
	"strconv"
	"strings"

	"github.com/nilsbr/rushd/internal/apperr"
)

// maxRangeSelection caps how many backends a single "N-M" range selector
// can resolve to in one call, so a typo like "1-99999" can't trigger a
// bulk operation across backends the caller never intended to touch.
const maxRangeSelection = 500

// Resolve selects backends from ordered (by creation order, the stable
// listing order used everywhere else) using one of:
//   - "all": every backend
//   - an exact name match
//   - an ID or ID-prefix match (at least 4 characters)
//   - a 1-based index ("3")
//   - a 1-based inclusive range ("2-5"), capped at maxRangeSelection entries
func Resolve(ordered []Backend, selector string) ([]Backend, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, apperr.Wrap(apperr.ErrBadRequest, "empty selector", nil)
	}

	if strings.EqualFold(selector, "all") {
		return ordered, nil
	}

	if lo, hi, ok := parseRange(selector); ok {
		if lo < 1 || hi < lo {
			return nil, apperr.Wrap(apperr.ErrBadRequest, "invalid range selector "+selector, nil)
		}
		if hi > len(ordered) {
			hi = len(ordered)
		}
		if hi-lo+1 > maxRangeSelection {
			hi = lo + maxRangeSelection - 1
		}
		if lo > len(ordered) {
			return nil, nil
		}
		return ordered[lo-1 : hi], nil
	}

	if idx, err := strconv.Atoi(selector); err == nil {
		if idx < 1 || idx > len(ordered) {
			return nil, apperr.Wrap(apperr.ErrBadRequest, "index out of range: "+selector, nil)
		}
		return []Backend{ordered[idx-1]}, nil
	}

	for _, b := range ordered {
		if b.Name == selector {
			return []Backend{b}, nil
		}
	}

	if len(selector) >= 4 {
		var matches []Backend
		for _, b := range ordered {
			if strings.HasPrefix(b.ID, selector) {
				matches = append(matches, b)
			}
		}
		if len(matches) == 1 {
			return matches, nil
		}
		if len(matches) > 1 {
			return nil, apperr.Wrap(apperr.ErrBadRequest, "ambiguous id prefix: "+selector, nil)
		}
	}

	return nil, apperr.Wrap(apperr.ErrBadRequest, "no backend matches selector: "+selector, nil)
}

func parseRange(s string) (lo, hi int, ok bool) {
	idx := strings.IndexByte(s, '-')
	if idx <= 0 || idx == len(s)-1 {
		return 0, 0, false
	}
	loStr, hiStr := s[:idx], s[idx+1:]
	lo, err1 := strconv.Atoi(loStr)
	hi, err2 := strconv.Atoi(hiStr)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lo, hi, true
}
