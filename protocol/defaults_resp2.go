//go:build !resp3

package protocol

const defaultProtocol = RESP2
