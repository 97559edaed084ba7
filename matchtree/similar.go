// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package matchtree

import "github.com/antzucaro/matchr"

// SimilarTerms scores how likely a and b are the same term modulo a typo,
// via Jaro-Winkler string distance. It is never called on the query hot
// path; apart from this package's tests, nothing in the module calls it.
func SimilarTerms(a, b string) float64 {
	return matchr.JaroWinkler(a, b, true)
}
