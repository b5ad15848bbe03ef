//go:build resp_strict

package protocol

const defaultStrict = true
