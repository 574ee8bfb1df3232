//go:build !spscdebug

package spscbuf

const debugAsserts = false
