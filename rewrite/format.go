// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rewrite

import "fmt"

// Format renders the subtree rooted at h as a compact, deterministic string.
// No other code in this module calls it.
func Format(t *Tree, h Handle) string {
	if h == NilHandle {
		return "<nil>"
	}
	n := t.Node(h)
	switch n.Kind {
	case KindRow:
		return n.Row.String()
	case KindAnd:
		return fmt.Sprintf("And(%s, %s)", Format(t, n.Left), Format(t, n.Right))
	case KindOr:
		return fmt.Sprintf("Or(%s, %s)", Format(t, n.Left), Format(t, n.Right))
	case KindNot:
		return fmt.Sprintf("Not(%s)", Format(t, n.Child))
	case KindReport:
		return fmt.Sprintf("Report(%s)", Format(t, n.Child))
	case KindConstant:
		return fmt.Sprintf("Const(%t)", n.ConstValue)
	default:
		return fmt.Sprintf("?(%v)", n.Kind)
	}
}
