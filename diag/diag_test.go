// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package diag_test

import (
	"bytes"
	"testing"

	"github.com/grailbio/bitfunnel/diag"
	"github.com/stretchr/testify/assert"
)

func TestLogfSuppressesDisabledKeyword(t *testing.T) {
	var buf bytes.Buffer
	s := diag.NewStream(&buf, "rewrite")

	s.Logf("compile", "ladder rows=%d", 3)
	assert.Empty(t, buf.String())
}

func TestLogfEmitsEnabledKeyword(t *testing.T) {
	var buf bytes.Buffer
	s := diag.NewStream(&buf, "rewrite")

	s.Logf("rewrite", "expanded %d Or branches", 2)
	assert.Equal(t, "[rewrite] expanded 2 Or branches\n", buf.String())
}

func TestEnableAndDisableToggleAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	s := diag.NewStream(&buf)
	assert.False(t, s.Enabled("compile"))

	s.Enable("compile")
	assert.True(t, s.Enabled("compile"))
	s.Logf("compile", "settled rank=%d", 0)
	assert.Contains(t, buf.String(), "settled rank=0")

	buf.Reset()
	s.Disable("compile")
	s.Logf("compile", "this should not appear")
	assert.Empty(t, buf.String())
}

func TestLogfWithEmptyKeywordIsAlwaysOn(t *testing.T) {
	var buf bytes.Buffer
	s := diag.NewStream(&buf) // no keywords enabled
	s.Logf("", "unconditional notice")
	assert.Equal(t, "unconditional notice\n", buf.String())
}

func TestNilWriterStreamDiscardsEverything(t *testing.T) {
	var s diag.Stream
	s.Enable("rewrite")
	s.Logf("rewrite", "should not panic even with no writer")
}
