package tools

import "bytes"

func rawMessageReader(raw []byte) *bytes.Reader {
	return bytes.NewReader(raw)
}
