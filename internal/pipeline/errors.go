package pipeline

import (
	"errors"
	"fmt"

	"github.com/img-warp/img-warp/internal/fetch"
	"github.com/img-warp/img-warp/internal/rescale"
)

// Kind 是 Coordinator 对外暴露的失败分类，HTTP 层据此选择响应码。
type Kind string

const (
	KindFetchFailed   Kind = "fetch_failed"
	KindRescaleFailed Kind = "rescale_failed"
	KindInternal      Kind = "internal"
)

// Error 包装底层 fetch/rescale 错误并标记失败发生的阶段。
// 底层错误原样保留，errors.As 仍可取到具体类别。
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("pipeline %s", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout 报告错误链中是否存在上游超时。
func Timeout(err error) bool {
	var fe *fetch.Error
	if errors.As(err, &fe) && fe.Kind == fetch.KindTimeout {
		return true
	}
	var re *rescale.Error
	if errors.As(err, &re) && re.Kind == rescale.KindTimeout {
		return true
	}
	return false
}

// UnsupportedVariant 报告错误链中是否为未配置端点的规格。
func UnsupportedVariant(err error) bool {
	var re *rescale.Error
	return errors.As(err, &re) && re.Kind == rescale.KindUnsupportedVariant
}
