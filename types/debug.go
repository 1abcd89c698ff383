package types

import "io"

// Debug 诊断输出接口
type Debug interface {
	Render(w io.Writer) error
	Error(err error)
}
